package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"balance-alerts/internal/alertstate"
	"balance-alerts/internal/fetcher"
	"balance-alerts/internal/scheduler"
	"balance-alerts/internal/statestore"
	"balance-alerts/internal/telegram"
)

type fakeFetcher struct {
	snap  fetcher.Snapshot
	err   error
	calls int
}

func (f *fakeFetcher) FetchBalance(ctx context.Context) (fetcher.Snapshot, error) {
	f.calls++
	if f.err != nil {
		return fetcher.Snapshot{}, f.err
	}
	return f.snap, nil
}

type sentMessage struct {
	text   string
	silent bool
}

type fakeNotifier struct {
	sent []sentMessage
	err  error
}

func (f *fakeNotifier) Notify(ctx context.Context, text string, silent bool) error {
	f.sent = append(f.sent, sentMessage{text: text, silent: silent})
	return f.err
}

func testParams() alertstate.Params {
	return alertstate.Params{
		LowBalanceThreshold: decimal.NewFromInt(20),
		HysteresisMargin:    decimal.NewFromInt(2),
		PodStopBalance:      decimal.NewFromFloat(0.5),
		Schedule: alertstate.Schedule{
			Initial: 2 * time.Hour,
			Factor:  0.5,
			Floor:   15 * time.Minute,
		},
	}
}

func snapshot(balance, spend float64) fetcher.Snapshot {
	return fetcher.Snapshot{
		Balance:      decimal.NewFromFloat(balance),
		SpendPerHour: decimal.NewFromFloat(spend),
		ObservedAt:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

type harness struct {
	svc      *Service
	fetcher  *fakeFetcher
	notifier *fakeNotifier
	store    *statestore.MemoryStore
	machine  *alertstate.Machine
}

func newHarness(t *testing.T, snap fetcher.Snapshot) *harness {
	t.Helper()

	store := statestore.NewMemoryStore()
	machine := alertstate.NewMachine(store, testParams(), zerolog.Nop())
	require.NoError(t, machine.Restore(context.Background()))

	ff := &fakeFetcher{snap: snap}
	fn := &fakeNotifier{}
	svc := New(Options{
		Fetcher:  ff,
		Machine:  machine,
		Notifier: fn,
		ChatID:   "1234",
	}, zerolog.Nop())

	return &harness{svc: svc, fetcher: ff, notifier: fn, store: store, machine: machine}
}

func TestPollAlertsBelowThreshold(t *testing.T) {
	h := newHarness(t, snapshot(15, 1.5))

	require.NoError(t, h.svc.Poll(context.Background(), time.Now()))

	require.Len(t, h.notifier.sent, 1)
	assert.False(t, h.notifier.sent[0].silent, "alerts must be loud")
	assert.Contains(t, h.notifier.sent[0].text, "LOW BALANCE ALERT")

	state := h.machine.Current()
	assert.Equal(t, alertstate.PhaseAlerting, state.Phase)
	assert.Equal(t, 1, state.Sequence)
	assert.Equal(t, 1, h.store.Saves, "transition must be persisted before dispatch")
}

func TestPollNoActionAboveThreshold(t *testing.T) {
	h := newHarness(t, snapshot(100, 2))

	require.NoError(t, h.svc.Poll(context.Background(), time.Now()))

	assert.Empty(t, h.notifier.sent)
	assert.Equal(t, alertstate.PhaseNormal, h.machine.Current().Phase)
	assert.Zero(t, h.store.Saves)
}

func TestPollFetchErrorLeavesStateAlone(t *testing.T) {
	h := newHarness(t, snapshot(15, 1))
	h.fetcher.err = errors.New("upstream down")

	err := h.svc.Poll(context.Background(), time.Now())
	require.Error(t, err)
	assert.NotErrorIs(t, err, scheduler.ErrHalt, "fetch failures are transient")

	assert.Empty(t, h.notifier.sent)
	assert.Equal(t, alertstate.PhaseNormal, h.machine.Current().Phase)
}

func TestPollPersistFailureEscalatesToHalt(t *testing.T) {
	h := newHarness(t, snapshot(15, 1))
	h.store.SaveErr = errors.New("disk full")

	for cycle := 1; cycle < maxPersistFailures; cycle++ {
		err := h.svc.Poll(context.Background(), time.Now())
		require.Error(t, err, "cycle %d", cycle)
		assert.NotErrorIs(t, err, scheduler.ErrHalt, "cycle %d should still be tolerated", cycle)
	}

	err := h.svc.Poll(context.Background(), time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, scheduler.ErrHalt)

	assert.Empty(t, h.notifier.sent, "no alert may be dispatched while persistence fails")
	assert.Equal(t, alertstate.PhaseNormal, h.machine.Current().Phase)
}

func TestPollPersistFailureCounterResets(t *testing.T) {
	h := newHarness(t, snapshot(15, 1))
	h.store.SaveErr = errors.New("disk full")

	for cycle := 0; cycle < maxPersistFailures-1; cycle++ {
		require.Error(t, h.svc.Poll(context.Background(), time.Now()))
	}

	h.store.SaveErr = nil
	require.NoError(t, h.svc.Poll(context.Background(), time.Now()))

	// The next eligible tick attempts another save; the failure run starts over.
	h.fetcher.snap.ObservedAt = h.fetcher.snap.ObservedAt.Add(3 * time.Hour)
	h.store.SaveErr = errors.New("disk full again")
	err := h.svc.Poll(context.Background(), time.Now())
	require.Error(t, err)
	assert.NotErrorIs(t, err, scheduler.ErrHalt, "counter must reset after a successful cycle")
}

func TestPollRecoveryIsSilent(t *testing.T) {
	h := newHarness(t, snapshot(15, 1))
	require.NoError(t, h.svc.Poll(context.Background(), time.Now()))
	require.Equal(t, alertstate.PhaseAlerting, h.machine.Current().Phase)
	h.notifier.sent = nil

	h.fetcher.snap = snapshot(30, 1)
	require.NoError(t, h.svc.Poll(context.Background(), time.Now()))

	require.Len(t, h.notifier.sent, 1)
	assert.True(t, h.notifier.sent[0].silent, "recovery notices are silent")
	assert.Contains(t, h.notifier.sent[0].text, "Recovery threshold")
	assert.Equal(t, alertstate.PhaseNormal, h.machine.Current().Phase)
}

func TestPollDeliveryFailureDoesNotFailCycle(t *testing.T) {
	h := newHarness(t, snapshot(15, 1))
	h.notifier.err = errors.New("telegram down")

	require.NoError(t, h.svc.Poll(context.Background(), time.Now()))

	// The transition is durable even though the message was dropped.
	assert.Equal(t, alertstate.PhaseAlerting, h.machine.Current().Phase)
}

func TestDailyReportIsSilent(t *testing.T) {
	h := newHarness(t, snapshot(100, 2))

	require.NoError(t, h.svc.DailyReport(context.Background(), time.Now()))

	require.Len(t, h.notifier.sent, 1)
	assert.True(t, h.notifier.sent[0].silent)
	assert.Contains(t, h.notifier.sent[0].text, "Daily Balance Report")
	assert.Equal(t, alertstate.PhaseNormal, h.machine.Current().Phase)
}

func TestDailyReportFetchError(t *testing.T) {
	h := newHarness(t, snapshot(100, 2))
	h.fetcher.err = errors.New("upstream down")

	require.Error(t, h.svc.DailyReport(context.Background(), time.Now()))
	assert.Empty(t, h.notifier.sent)
}

func update(chatID int64, text string) telegram.Update {
	msg := &telegram.Message{Text: text}
	msg.Chat.ID = chatID
	return telegram.Update{UpdateID: 1, Message: msg}
}

func TestHandleUpdateAnswersBalance(t *testing.T) {
	h := newHarness(t, snapshot(42, 1))

	h.svc.handleUpdate(context.Background(), update(1234, "/balance"))

	require.Len(t, h.notifier.sent, 1)
	assert.False(t, h.notifier.sent[0].silent)
	assert.Contains(t, h.notifier.sent[0].text, "Balance: $42.00")
}

func TestHandleUpdateIgnoresForeignChat(t *testing.T) {
	h := newHarness(t, snapshot(42, 1))

	h.svc.handleUpdate(context.Background(), update(9999, "/balance"))

	assert.Empty(t, h.notifier.sent)
	assert.Zero(t, h.fetcher.calls, "foreign chats must not trigger a fetch")
}

func TestHandleUpdateIgnoresOtherText(t *testing.T) {
	h := newHarness(t, snapshot(42, 1))

	h.svc.handleUpdate(context.Background(), update(1234, "hello there"))
	h.svc.handleUpdate(context.Background(), telegram.Update{UpdateID: 2})

	assert.Empty(t, h.notifier.sent)
	assert.Zero(t, h.fetcher.calls)
}

func TestHandleUpdateReportsFetchFailure(t *testing.T) {
	h := newHarness(t, snapshot(42, 1))
	h.fetcher.err = errors.New("upstream down")

	h.svc.handleUpdate(context.Background(), update(1234, "/balance"))

	require.Len(t, h.notifier.sent, 1)
	assert.Contains(t, h.notifier.sent[0].text, "Error fetching balance")
}

func TestIsBalanceCommand(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"/balance", true},
		{"/balance@runpodwatch_bot", true},
		{"  /balance  ", true},
		{"/balance extra args", true},
		{"/balances", false},
		{"/start", false},
		{"balance", false},
		{"", false},
		{"   ", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, isBalanceCommand(tc.text), "text %q", tc.text)
	}
}
