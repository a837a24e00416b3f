// Package report renders balance snapshots and alert state into the
// notification texts delivered to the chat channel. All functions are
// pure and deterministic so output can be golden-tested.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"balance-alerts/internal/alertstate"
	"balance-alerts/internal/fetcher"
)

// Kind selects the message variant.
type Kind int

const (
	// KindDaily is the scheduled daily balance report.
	KindDaily Kind = iota
	// KindAlert is a low-balance alert.
	KindAlert
	// KindRecovery announces the end of an alert run.
	KindRecovery
	// KindOnDemand answers the /balance command.
	KindOnDemand
)

var hoursPerDay = decimal.NewFromInt(24)

// Format renders one message of the given kind.
func Format(kind Kind, snap fetcher.Snapshot, state alertstate.State, params alertstate.Params) string {
	switch kind {
	case KindAlert:
		if snap.SpendPerHour.IsZero() {
			return formatDepleted(snap, state, params)
		}
		return formatAlert(snap, state, params)
	case KindRecovery:
		return formatRecovery(snap, params)
	case KindOnDemand:
		return formatOnDemand(snap, params)
	default:
		return formatDaily(snap, params)
	}
}

func formatDaily(snap fetcher.Snapshot, params alertstate.Params) string {
	b := strings.Builder{}
	b.WriteString("Daily Balance Report\n")
	b.WriteString(fmt.Sprintf("Balance: %s\n", money(snap.Balance)))
	b.WriteString(fmt.Sprintf("Spend rate: %s/hr\n", money(snap.SpendPerHour)))
	b.WriteString(fmt.Sprintf("Low balance threshold: %s\n", money(params.LowBalanceThreshold)))
	b.WriteString(fmt.Sprintf("Pods stop at: %s\n", money(params.PodStopBalance)))
	writeRunout(&b, snap)
	return b.String()
}

func formatAlert(snap fetcher.Snapshot, state alertstate.State, params alertstate.Params) string {
	b := strings.Builder{}
	b.WriteString("LOW BALANCE ALERT\n")
	b.WriteString(fmt.Sprintf("Current balance: %s\n", money(snap.Balance)))
	b.WriteString(fmt.Sprintf("Threshold: %s\n", money(params.LowBalanceThreshold)))
	b.WriteString(fmt.Sprintf("Spend rate: %s/hr\n", money(snap.SpendPerHour)))
	b.WriteString(fmt.Sprintf("Pods stop at: %s\n", money(params.PodStopBalance)))
	b.WriteString(fmt.Sprintf("Alerts this run: %d\n", state.Sequence))
	writeRunout(&b, snap)
	return b.String()
}

func formatDepleted(snap fetcher.Snapshot, state alertstate.State, params alertstate.Params) string {
	b := strings.Builder{}
	b.WriteString("BALANCE DEPLETED - PODS STOPPED\n")
	b.WriteString(fmt.Sprintf("Current balance: %s\n", money(snap.Balance)))
	b.WriteString(fmt.Sprintf("Threshold: %s\n", money(params.LowBalanceThreshold)))
	b.WriteString(fmt.Sprintf("Pod stop balance: %s\n", money(params.PodStopBalance)))
	b.WriteString("Spend rate: $0.00/hr (pods stopped)\n")
	b.WriteString(fmt.Sprintf("Alerts this run: %d\n", state.Sequence))
	b.WriteString("Time remaining: infinite\n")
	return b.String()
}

func formatRecovery(snap fetcher.Snapshot, params alertstate.Params) string {
	b := strings.Builder{}
	b.WriteString("Balance Recovered\n")
	b.WriteString(fmt.Sprintf("Current balance: %s\n", money(snap.Balance)))
	b.WriteString(fmt.Sprintf("Recovery threshold: %s\n", money(params.RecoveryThreshold())))
	b.WriteString("Alert sequence has been reset\n")
	return b.String()
}

func formatOnDemand(snap fetcher.Snapshot, params alertstate.Params) string {
	b := strings.Builder{}
	b.WriteString("RunPod Balance\n")
	b.WriteString(fmt.Sprintf("Balance: %s\n", money(snap.Balance)))
	b.WriteString(fmt.Sprintf("Spend rate: %s/hr\n", money(snap.SpendPerHour)))
	b.WriteString(fmt.Sprintf("Low balance threshold: %s\n", money(params.LowBalanceThreshold)))
	b.WriteString(fmt.Sprintf("Pods stop at: %s\n", money(params.PodStopBalance)))
	writeRunout(&b, snap)
	return b.String()
}

func writeRunout(b *strings.Builder, snap fetcher.Snapshot) {
	hours, infinite := hoursRemaining(snap)
	if infinite {
		b.WriteString("Time remaining: infinite\n")
		b.WriteString("Runout at: never\n")
		return
	}
	b.WriteString(fmt.Sprintf("Time remaining: ~%s\n", formatHours(hours)))
	b.WriteString(fmt.Sprintf("Runout at: ~%s\n", formatRunoutAt(snap.ObservedAt, hours)))
}

// hoursRemaining computes balance / spend in hours. A zero spend rate
// yields an infinite runout; a non-positive balance has already run out.
func hoursRemaining(snap fetcher.Snapshot) (decimal.Decimal, bool) {
	if snap.SpendPerHour.IsZero() {
		return decimal.Zero, true
	}
	if !snap.Balance.IsPositive() {
		return decimal.Zero, false
	}
	return snap.Balance.Div(snap.SpendPerHour), false
}

func formatHours(hours decimal.Decimal) string {
	days := hours.Div(hoursPerDay).IntPart()
	remainder := hours.Sub(decimal.NewFromInt(days).Mul(hoursPerDay))
	rem, _ := remainder.Round(1).Float64()
	if days > 0 {
		return fmt.Sprintf("%dd %.1fh", days, rem)
	}
	return fmt.Sprintf("%.1fh", rem)
}

func formatRunoutAt(observedAt time.Time, hours decimal.Decimal) string {
	minutes := hours.Mul(decimal.NewFromInt(60)).IntPart()
	at := observedAt.Add(time.Duration(minutes) * time.Minute)
	return at.UTC().Format("2006-01-02 15:04 UTC")
}

func money(v decimal.Decimal) string {
	return "$" + v.StringFixed(2)
}
