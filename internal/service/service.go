package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"balance-alerts/internal/alerting"
	"balance-alerts/internal/alertstate"
	"balance-alerts/internal/fetcher"
	"balance-alerts/internal/report"
	"balance-alerts/internal/scheduler"
	"balance-alerts/internal/statestore"
	"balance-alerts/internal/telegram"
)

// maxPersistFailures is how many consecutive failed state persists are
// tolerated before the process is considered unsafe and halted.
const maxPersistFailures = 5

// Options bundle the collaborators of the dispatch loop.
type Options struct {
	Fetcher     fetcher.BalanceFetcher
	Machine     *alertstate.Machine
	Notifier    alerting.Notifier
	Telegram    *telegram.Client
	ChatID      string
	PollTimeout time.Duration
	Poller      *scheduler.Scheduler
	Daily       *scheduler.Daily
	Locker      statestore.AdvisoryLocker
	LockKey     int64
}

// Service ties poll timer, balance reader, state machine, formatter and
// notifier together, and serves the on-demand /balance command.
type Service struct {
	opts   Options
	logger zerolog.Logger

	persistFailures int
}

// New constructs the dispatch service.
func New(opts Options, logger zerolog.Logger) *Service {
	return &Service{
		opts:   opts,
		logger: logger.With().Str("component", "service").Logger(),
	}
}

// Run starts the poll loop, the daily report loop, and the command loop,
// blocking until ctx is cancelled or one of them fails fatally.
func (s *Service) Run(ctx context.Context) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		return errors.New("alert decision loop is already running elsewhere")
	}
	if unlock != nil {
		defer unlock()
	}

	if s.opts.Telegram != nil {
		if err := s.opts.Telegram.RegisterCommands(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("failed to register bot commands")
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	go func() { errCh <- s.opts.Poller.Run(ctx, s.Poll) }()
	go func() { errCh <- s.opts.Daily.Run(ctx, s.DailyReport) }()
	go func() { errCh <- s.commandLoop(ctx) }()

	first := <-errCh
	cancel()
	<-errCh
	<-errCh
	return first
}

// Poll runs one poll cycle: fetch the snapshot outside the critical
// section, evaluate and persist inside it, and notify after leaving it.
func (s *Service) Poll(ctx context.Context, _ time.Time) error {
	snap, err := s.opts.Fetcher.FetchBalance(ctx)
	if err != nil {
		// Transient: state untouched, retried on the next tick.
		return fmt.Errorf("poll fetch: %w", err)
	}

	decision, err := s.opts.Machine.Evaluate(ctx, snap)
	if err != nil {
		s.persistFailures++
		if s.persistFailures >= maxPersistFailures {
			return fmt.Errorf("%w: alert state unwritable after %d cycles: %v", scheduler.ErrHalt, s.persistFailures, err)
		}
		return fmt.Errorf("poll evaluate: %w", err)
	}
	s.persistFailures = 0

	state := s.opts.Machine.Current()
	params := s.opts.Machine.Params()

	switch decision.Action {
	case alertstate.ActionAlert:
		s.logger.Info().
			Int("sequence", decision.Sequence).
			Str("balance", snap.Balance.String()).
			Msg("low balance alert due")
		text := report.Format(report.KindAlert, snap, state, params)
		if err := s.opts.Notifier.Notify(ctx, text, false); err != nil {
			// The transition is durable; the alert is dropped, not retried.
			s.logger.Error().Err(err).Int("sequence", decision.Sequence).Msg("failed to deliver alert")
		}
	case alertstate.ActionRecovery:
		s.logger.Info().Str("balance", snap.Balance.String()).Msg("balance recovered")
		text := report.Format(report.KindRecovery, snap, state, params)
		if err := s.opts.Notifier.Notify(ctx, text, true); err != nil {
			s.logger.Error().Err(err).Msg("failed to deliver recovery notice")
		}
	default:
		s.logger.Debug().
			Str("balance", snap.Balance.String()).
			Str("phase", string(state.Phase)).
			Msg("no action")
	}

	return nil
}

// DailyReport fetches a fresh snapshot and delivers the daily summary
// silently. It never mutates alert state.
func (s *Service) DailyReport(ctx context.Context, _ time.Time) error {
	snap, err := s.opts.Fetcher.FetchBalance(ctx)
	if err != nil {
		return fmt.Errorf("daily report fetch: %w", err)
	}

	text := report.Format(report.KindDaily, snap, s.opts.Machine.Current(), s.opts.Machine.Params())
	if err := s.opts.Notifier.Notify(ctx, text, true); err != nil {
		return fmt.Errorf("daily report delivery: %w", err)
	}

	s.logger.Info().Msg("daily balance report sent")
	return nil
}

// commandLoop long-polls Telegram for the /balance command from the
// configured chat. Messages from any other origin are ignored.
func (s *Service) commandLoop(ctx context.Context) error {
	var offset int64
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		updates, err := s.opts.Telegram.GetUpdates(ctx, offset, s.opts.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn().Err(err).Msg("getUpdates failed, backing off")
			timer := time.NewTimer(5 * time.Second)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			s.handleUpdate(ctx, update)
		}
	}
}

func (s *Service) handleUpdate(ctx context.Context, update telegram.Update) {
	msg := update.Message
	if msg == nil {
		return
	}
	if strconv.FormatInt(msg.Chat.ID, 10) != s.opts.ChatID {
		return
	}
	if !isBalanceCommand(msg.Text) {
		return
	}

	snap, err := s.opts.Fetcher.FetchBalance(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to answer /balance")
		_ = s.opts.Notifier.Notify(ctx, fmt.Sprintf("Error fetching balance: %v", err), false)
		return
	}

	text := report.Format(report.KindOnDemand, snap, s.opts.Machine.Current(), s.opts.Machine.Params())
	if err := s.opts.Notifier.Notify(ctx, text, false); err != nil {
		s.logger.Error().Err(err).Msg("failed to deliver /balance reply")
	}
}

// isBalanceCommand matches "/balance" and its bot-suffixed variant.
// Anything else, including malformed commands, is ignored silently.
func isBalanceCommand(text string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	return fields[0] == "/balance" || strings.HasPrefix(fields[0], "/balance@")
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.Locker == nil || s.opts.LockKey == 0 {
		return nil, true, nil
	}
	unlock, acquired, err := s.opts.Locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
