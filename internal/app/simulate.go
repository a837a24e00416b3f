package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"balance-alerts/internal/alerting"
	"balance-alerts/internal/alertstate"
	"balance-alerts/internal/fetcher"
	"balance-alerts/internal/report"
	"balance-alerts/internal/statestore"
)

// SimulateAlert pushes a synthetic snapshot through the real state
// machine and notifier. State lives in memory so a simulation never
// disturbs the durable record of the running watcher.
func (a *App) SimulateAlert(ctx context.Context, balance, spend decimal.Decimal) error {
	if a.Config.Telegram.BotToken == "" || a.Config.Telegram.ChatID == "" {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id are required")
	}

	machine := alertstate.NewMachine(statestore.NewMemoryStore(), a.alertParams(), a.Logger)

	snap := fetcher.Snapshot{
		Balance:      balance,
		SpendPerHour: spend,
		ObservedAt:   time.Now().UTC(),
	}

	decision, err := machine.Evaluate(ctx, snap)
	if err != nil {
		return err
	}
	if decision.Action != alertstate.ActionAlert {
		return fmt.Errorf("balance %s does not cross the threshold %s, nothing to simulate",
			balance.StringFixed(2), machine.Params().LowBalanceThreshold.StringFixed(2))
	}

	notifier := alerting.NewTelegramNotifier(a.newTelegram(), a.Config.Telegram.ChatID, a.Logger)
	text := report.Format(report.KindAlert, snap, machine.Current(), machine.Params())
	return notifier.Notify(ctx, text, false)
}
