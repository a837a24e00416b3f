package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"balance-alerts/internal/alertstate"
	"balance-alerts/internal/report"
)

// Status fetches a fresh snapshot and prints it along with the persisted
// alert state. It never mutates the state.
func (a *App) Status(ctx context.Context) error {
	if a.Config.RunPod.APIKey == "" {
		return fmt.Errorf("runpod.api_key is required")
	}

	store, _, closeStore, err := a.openStateStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	machine := alertstate.NewMachine(store, a.alertParams(), a.Logger)
	if err := machine.Restore(ctx); err != nil {
		return err
	}

	snap, err := a.newFetcher().FetchBalance(ctx)
	if err != nil {
		return err
	}

	state := machine.Current()
	fmt.Fprint(os.Stdout, report.Format(report.KindOnDemand, snap, state, machine.Params()))
	fmt.Fprintf(os.Stdout, "Alert phase: %s\n", state.Phase)
	if state.Phase == alertstate.PhaseAlerting {
		fmt.Fprintf(os.Stdout, "Alerts sent this run: %d\n", state.Sequence)
		if state.NextEligibleAt != nil {
			fmt.Fprintf(os.Stdout, "Next alert eligible at: %s\n", state.NextEligibleAt.UTC().Format(time.RFC3339))
		}
		if state.EnteredAlertingAt != nil {
			fmt.Fprintf(os.Stdout, "Alerting since: %s\n", state.EnteredAlertingAt.UTC().Format(time.RFC3339))
		}
	}
	return nil
}
