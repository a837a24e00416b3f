package alertstate_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"balance-alerts/internal/alertstate"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestStateValidate(t *testing.T) {
	now := time.Now().UTC()

	assert.NoError(t, alertstate.Normal().Validate())
	assert.NoError(t, alertstate.State{
		Phase:             alertstate.PhaseAlerting,
		Sequence:          1,
		NextEligibleAt:    &now,
		EnteredAlertingAt: &now,
	}.Validate())

	cases := map[string]alertstate.State{
		"normal with sequence":    {Phase: alertstate.PhaseNormal, Sequence: 1},
		"normal with eligibility": {Phase: alertstate.PhaseNormal, NextEligibleAt: &now},
		"alerting zero sequence":  {Phase: alertstate.PhaseAlerting, Sequence: 0, NextEligibleAt: &now},
		"alerting no eligibility": {Phase: alertstate.PhaseAlerting, Sequence: 2},
		"unknown phase":           {Phase: "weird"},
	}
	for name, state := range cases {
		assert.Error(t, state.Validate(), name)
	}
}

func TestStateEqualComparesInstants(t *testing.T) {
	utc := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	shifted := utc.In(time.FixedZone("X", 3600))

	a := alertstate.State{Phase: alertstate.PhaseAlerting, Sequence: 1, NextEligibleAt: &utc, EnteredAlertingAt: &utc}
	b := alertstate.State{Phase: alertstate.PhaseAlerting, Sequence: 1, NextEligibleAt: &shifted, EnteredAlertingAt: &shifted}
	assert.True(t, a.Equal(b))

	later := utc.Add(time.Minute)
	c := alertstate.State{Phase: alertstate.PhaseAlerting, Sequence: 1, NextEligibleAt: &later, EnteredAlertingAt: &utc}
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(alertstate.Normal()))
}
