/*
 * Copyright (c) 2024. Anton Starikov -- All Rights Reserved
 *
 * This file is part of MZATC project.
 *
 * MZATC is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as the Free Software Foundation,
 * either version 3 of the License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package internal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antst/mzatc/internal/mpc"
	"github.com/antst/mzatc/internal/pi"
)

// fakeSolver stands in for the MPC controller; it returns a canned result
// after an optional delay and counts invocations.
type fakeSolver struct {
	res   mpc.Result
	delay time.Duration
	calls int
}

func (f *fakeSolver) ComputeControl(
	ctx context.Context, tCurrent, tSetpoint float64, forecast []float64, uLast *float64,
) mpc.Result {
	f.calls++
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.res
}

func (f *fakeSolver) Config() mpc.Config { return mpc.DefaultConfig() }

func okResult(u float64) mpc.Result {
	return mpc.Result{
		USequence:      []float64{u, u},
		UFirst:         u,
		Cost:           1.0,
		Success:        true,
		Message:        "Optimization converged",
		Iterations:     3,
		PredictedTemps: []float64{18, 18.5, 19},
	}
}

func failResult(msg string) mpc.Result {
	return mpc.Result{Success: false, Message: msg}
}

func goodForecast(steps int, dt float64) ([]float64, error) {
	return make([]float64, steps), nil
}

func testSupervisor(events *[]Event) *Supervisor {
	notify := func(Event) {}
	if events != nil {
		notify = func(e Event) { *events = append(*events, e) }
	}
	piCtl := pi.New(10, 1500, 600, 0, 2000, 100)
	return NewSupervisor("test", FailsafeConfig{
		Dt:               600,
		MaxFailures:      3,
		SuccessToRecover: 5,
		Timeout:          time.Second,
		RetryInterval:    time.Hour,
	}, piCtl, goodForecast, notify)
}

func TestSupervisorPIOnlyWithoutOptimizer(t *testing.T) {
	s := testSupervisor(nil)

	u := s.Cycle(context.Background(), 20, 21)
	assert.Greater(t, u, 0.0)
	assert.Equal(t, u, s.LastApplied())

	st := s.Status()
	assert.Equal(t, ControllerTypePI, st.ControllerType)
	assert.Equal(t, "active", st.MPCStatus)
	assert.Zero(t, st.FailureCount)
}

func TestSupervisorAppliesMPCResult(t *testing.T) {
	s := testSupervisor(nil)
	solver := &fakeSolver{res: okResult(750)}
	s.SetOptimizer(solver)

	u := s.Cycle(context.Background(), 18, 21)
	assert.Equal(t, 750.0, u)
	assert.Equal(t, 750.0, s.LastApplied())
	assert.Equal(t, 1, solver.calls)

	st := s.Status()
	assert.Equal(t, ControllerTypeMPC, st.ControllerType)
	assert.Equal(t, []float64{750, 750}, st.ControlPlan)
	assert.Equal(t, []float64{18, 18.5, 19}, st.PredictedTrajectory)
}

func TestSupervisorDisablesAfterMaxFailures(t *testing.T) {
	var events []Event
	s := testSupervisor(&events)
	solver := &fakeSolver{res: failResult("Optimization failed: no convergence")}
	s.SetOptimizer(solver)

	for i := 0; i < 3; i++ {
		u := s.Cycle(context.Background(), 18, 21)
		assert.Greater(t, u, 0.0, "PI fallback must still heat")
	}

	assert.Equal(t, StateDisabled, s.State())
	assert.Equal(t, 3, solver.calls)

	// Degraded on the first failure of the streak, disabled on the last.
	require.Len(t, events, 2)
	assert.Equal(t, EventDegraded, events[0].Type)
	assert.Equal(t, 1, events[0].FailureCount)
	assert.Equal(t, EventDisabled, events[1].Type)
	assert.Equal(t, 3, events[1].FailureCount)

	// Disabled means no further MPC attempts.
	s.Cycle(context.Background(), 18, 21)
	assert.Equal(t, 3, solver.calls)
	assert.Equal(t, ControllerTypePI, s.Status().ControllerType)
}

func TestSupervisorRetryAfterInterval(t *testing.T) {
	s := testSupervisor(nil)
	solver := &fakeSolver{res: failResult("Optimization failed: no convergence")}
	s.SetOptimizer(solver)

	base := time.Now()
	s.now = func() time.Time { return base }
	for i := 0; i < 3; i++ {
		s.Cycle(context.Background(), 18, 21)
	}
	require.Equal(t, StateDisabled, s.State())

	// Within the retry interval nothing changes.
	s.now = func() time.Time { return base.Add(30 * time.Minute) }
	s.Cycle(context.Background(), 18, 21)
	assert.Equal(t, 3, solver.calls)

	// Past the interval the supervisor re-arms and tries MPC again.
	solver.res = okResult(600)
	s.now = func() time.Time { return base.Add(61 * time.Minute) }
	u := s.Cycle(context.Background(), 18, 21)
	assert.Equal(t, 600.0, u)
	assert.Equal(t, 4, solver.calls)
	assert.Equal(t, StateActive, s.State())
}

func TestSupervisorRecoversAfterSuccessStreak(t *testing.T) {
	var events []Event
	s := testSupervisor(&events)
	solver := &fakeSolver{res: failResult("Optimization failed: bad luck")}
	s.SetOptimizer(solver)

	s.Cycle(context.Background(), 18, 21)
	require.Equal(t, StateDegraded, s.State())

	solver.res = okResult(500)
	for i := 0; i < 4; i++ {
		s.Cycle(context.Background(), 18, 21)
		assert.Equal(t, StateDegraded, s.State(), "still degraded after %d successes", i+1)
	}

	s.Cycle(context.Background(), 18, 21)
	assert.Equal(t, StateActive, s.State())

	require.Len(t, events, 2)
	assert.Equal(t, EventDegraded, events[0].Type)
	assert.Equal(t, EventRecovered, events[1].Type)
}

func TestSupervisorFailureStreakResetBySuccess(t *testing.T) {
	s := testSupervisor(nil)
	solver := &fakeSolver{res: failResult("Optimization failed: x")}
	s.SetOptimizer(solver)

	s.Cycle(context.Background(), 18, 21)
	s.Cycle(context.Background(), 18, 21)
	require.Equal(t, StateDegraded, s.State())

	solver.res = okResult(500)
	s.Cycle(context.Background(), 18, 21)
	assert.Zero(t, s.Status().FailureCount)

	// Two new failures do not disable; the streak restarted.
	solver.res = failResult("Optimization failed: y")
	s.Cycle(context.Background(), 18, 21)
	s.Cycle(context.Background(), 18, 21)
	assert.Equal(t, StateDegraded, s.State())
}

func TestSupervisorTimeout(t *testing.T) {
	s := testSupervisor(nil)
	s.cfg.Timeout = 20 * time.Millisecond
	solver := &fakeSolver{res: okResult(500), delay: 200 * time.Millisecond}
	s.SetOptimizer(solver)

	u := s.Cycle(context.Background(), 18, 21)
	assert.Greater(t, u, 0.0, "PI fallback applies on timeout")

	st := s.Status()
	assert.Equal(t, ControllerTypePI, st.ControllerType)
	assert.Contains(t, st.LastFailureReason, "Timeout")
	assert.Equal(t, 1, st.FailureCount)

	// The abandoned solve still holds the solve lock; an immediate next
	// cycle fails fast instead of stacking optimizations.
	s.Cycle(context.Background(), 18, 21)
	assert.Contains(t, s.Status().LastFailureReason, "previous optimization still running")

	// Once the stray solve finishes the lock frees up again.
	time.Sleep(250 * time.Millisecond)
	solver.delay = 0
	s.Cycle(context.Background(), 18, 21)
	assert.Equal(t, ControllerTypeMPC, s.Status().ControllerType)
}

func TestSupervisorForecastFailure(t *testing.T) {
	piCtl := pi.New(10, 1500, 600, 0, 2000, 100)
	s := NewSupervisor("test", FailsafeConfig{
		Dt: 600, MaxFailures: 3, SuccessToRecover: 5,
		Timeout: time.Second, RetryInterval: time.Hour,
	}, piCtl, func(steps int, dt float64) ([]float64, error) {
		return nil, assert.AnError
	}, nil)
	solver := &fakeSolver{res: okResult(500)}
	s.SetOptimizer(solver)

	u := s.Cycle(context.Background(), 18, 21)
	assert.Greater(t, u, 0.0)
	assert.Zero(t, solver.calls, "no solve without a forecast")
	assert.Contains(t, s.Status().LastFailureReason, "Forecast failed")
}

func TestSupervisorResetControllers(t *testing.T) {
	s := testSupervisor(nil)
	s.Cycle(context.Background(), 18, 21)
	require.NotZero(t, s.LastApplied())

	s.ResetControllers()
	assert.Zero(t, s.LastApplied())
}
