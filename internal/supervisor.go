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
	"fmt"
	"sync"
	"time"

	"github.com/antst/mzatc/internal/logger"
	"github.com/antst/mzatc/internal/mpc"
	"github.com/antst/mzatc/internal/pi"
)

// SupervisorState is the failsafe mode of one zone.
type SupervisorState int

const (
	StateActive SupervisorState = iota
	StateDegraded
	StateDisabled
)

func (s SupervisorState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	case StateDisabled:
		return "disabled"
	}
	return "unknown"
}

const (
	ControllerTypeMPC = "MPC"
	ControllerTypePI  = "PI"
)

// EventType of a discrete supervisor transition, delivered to external
// notification.
type EventType string

const (
	EventDegraded  EventType = "degraded"
	EventDisabled  EventType = "disabled"
	EventRecovered EventType = "recovered"
)

type Event struct {
	Type         EventType `json:"type"`
	Zone         string    `json:"zone"`
	Reason       string    `json:"reason,omitempty"`
	FailureCount int       `json:"failure_count"`
	Time         time.Time `json:"time"`
}

// FailsafeConfig drives the supervisor state machine.
type FailsafeConfig struct {
	Dt               float64
	MaxFailures      int
	SuccessToRecover int
	Timeout          time.Duration
	RetryInterval    time.Duration
}

// mpcSolver is what the supervisor needs from the MPC controller; narrowed
// so tests can substitute a fake.
type mpcSolver interface {
	ComputeControl(ctx context.Context, tCurrent, tSetpoint float64, forecast []float64, uLast *float64) mpc.Result
	Config() mpc.Config
}

// forecastFunc returns an outdoor forecast of the given number of steps at
// the given sampling interval.
type forecastFunc func(steps int, dt float64) ([]float64, error)

// SupervisorStatus is the per-cycle observability record.
type SupervisorStatus struct {
	ControllerType      string    `json:"controller_type"`
	MPCStatus           string    `json:"mpc_status"`
	FailureCount        int       `json:"failure_count"`
	LastFailureReason   string    `json:"last_failure_reason,omitempty"`
	OptimizationTime    float64   `json:"optimization_time"`
	PredictedTrajectory []float64 `json:"predicted_trajectory,omitempty"`
	ControlPlan         []float64 `json:"control_plan,omitempty"`
	Cost                float64   `json:"cost"`
	Iterations          int       `json:"iterations"`
	UApplied            float64   `json:"u_applied"`
}

// Supervisor selects between MPC and PI every control cycle and owns the
// fault-tolerance state of one zone. It is the sole owner of the last
// applied control, which keeps MPC rate constraints and PI behaviour
// continuous across controller switches.
type Supervisor struct {
	zone     string
	cfg      FailsafeConfig
	pi       *pi.Controller
	forecast forecastFunc
	notify   func(Event)
	now      func() time.Time

	// solveMu guarantees at most one optimization in flight per zone; an
	// abandoned (timed-out) solve is never joined, the next attempt simply
	// fails fast while it still runs.
	solveMu sync.Mutex

	mu           sync.Mutex
	mpcCtl       mpcSolver
	state        SupervisorState
	failureCount int
	successCount int

	lastFailureReason string
	lastFailureTime   time.Time
	lastApplied       float64
	lastOptSeconds    float64
	lastMPC           mpc.Result
	controllerType    string
}

func NewSupervisor(
	zone string, cfg FailsafeConfig, piCtl *pi.Controller, forecast forecastFunc, notify func(Event),
) *Supervisor {
	if notify == nil {
		notify = func(Event) {}
	}
	return &Supervisor{
		zone:           zone,
		cfg:            cfg,
		pi:             piCtl,
		forecast:       forecast,
		notify:         notify,
		now:            time.Now,
		state:          StateActive,
		controllerType: ControllerTypePI,
	}
}

// SetOptimizer installs (or replaces) the MPC controller once a calibrated
// model exists. Until then every cycle runs PI.
func (s *Supervisor) SetOptimizer(ctl mpcSolver) {
	s.mu.Lock()
	s.mpcCtl = ctl
	s.mu.Unlock()
	logger.L().Infof("MPC enabled for zone %s", s.zone)
}

// Cycle runs one control step and returns the heating power to apply.
// Failures never escape as errors; they move the state machine and fall
// back to PI.
func (s *Supervisor) Cycle(ctx context.Context, current, setpoint float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mpcCtl == nil {
		return s.applyPI(current, setpoint)
	}

	if s.state == StateDisabled {
		if s.lastFailureTime.IsZero() || s.now().Sub(s.lastFailureTime) <= s.cfg.RetryInterval {
			return s.applyPI(current, setpoint)
		}
		logger.L().Infof("Retry interval elapsed for zone %s, attempting to re-enable MPC", s.zone)
		s.state = StateActive
		s.failureCount = 0
	}

	return s.attemptMPC(ctx, current, setpoint)
}

func (s *Supervisor) attemptMPC(ctx context.Context, current, setpoint float64) float64 {
	mpcCfg := s.mpcCtl.Config()

	forecast, err := s.forecast(mpcCfg.Np, mpcCfg.Dt)
	if err != nil {
		s.handleFailure("Forecast failed: " + err.Error())
		return s.applyPI(current, setpoint)
	}

	if !s.solveMu.TryLock() {
		s.handleFailure("Exception: previous optimization still running")
		return s.applyPI(current, setpoint)
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	uLast := s.lastApplied
	resCh := make(chan mpc.Result, 1)
	start := time.Now()
	go func() {
		defer s.solveMu.Unlock()
		resCh <- s.mpcCtl.ComputeControl(cctx, current, setpoint, forecast, &uLast)
	}()

	select {
	case res := <-resCh:
		s.lastOptSeconds = time.Since(start).Seconds()
		if !res.Success {
			s.handleFailure(res.Message)
			return s.applyPI(current, setpoint)
		}
		return s.applyMPC(res)
	case <-cctx.Done():
		// Abandon the solve; the controller discards its own late result.
		s.lastOptSeconds = time.Since(start).Seconds()
		s.handleFailure(fmt.Sprintf("Timeout (>%.0fs)", s.cfg.Timeout.Seconds()))
		return s.applyPI(current, setpoint)
	}
}

func (s *Supervisor) applyMPC(res mpc.Result) float64 {
	s.failureCount = 0
	s.successCount++
	s.lastFailureReason = ""

	if s.state == StateDegraded && s.successCount >= s.cfg.SuccessToRecover {
		logger.L().Infof(
			"MPC recovered for zone %s after %d successful cycles. Status: degraded -> active",
			s.zone, s.successCount,
		)
		s.state = StateActive
		s.successCount = 0
		s.emit(EventRecovered, "")
	} else if s.state == StateActive && s.successCount > s.cfg.SuccessToRecover {
		// The streak is only consumed by recovery; keep the counter bounded.
		s.successCount = s.cfg.SuccessToRecover
	}

	s.lastMPC = res
	s.controllerType = ControllerTypeMPC
	s.lastApplied = res.UFirst
	logger.L().Debugf(
		"MPC control for zone %s: u=%.1fW, cost=%.3f, iterations=%d, time=%.3fs",
		s.zone, res.UFirst, res.Cost, res.Iterations, s.lastOptSeconds,
	)
	return res.UFirst
}

func (s *Supervisor) applyPI(current, setpoint float64) float64 {
	out := s.pi.Update(setpoint, current, s.cfg.Dt)
	s.controllerType = ControllerTypePI
	s.lastApplied = out
	return out
}

func (s *Supervisor) handleFailure(reason string) {
	s.failureCount++
	s.successCount = 0
	s.lastFailureReason = reason
	s.lastFailureTime = s.now()

	logger.L().Warnf(
		"MPC failure #%d for zone %s: %s. Falling back to PI.",
		s.failureCount, s.zone, reason,
	)

	if s.failureCount >= s.cfg.MaxFailures {
		logger.L().Errorf(
			"MPC disabled for zone %s after %d consecutive failures",
			s.zone, s.failureCount,
		)
		s.state = StateDisabled
		s.emit(EventDisabled, reason)
		return
	}
	// Notify only on the first failure of a streak.
	if s.failureCount == 1 {
		s.emit(EventDegraded, reason)
	}
	s.state = StateDegraded
}

func (s *Supervisor) emit(t EventType, reason string) {
	s.notify(Event{
		Type:         t,
		Zone:         s.zone,
		Reason:       reason,
		FailureCount: s.failureCount,
		Time:         s.now(),
	})
}

// State returns the current failsafe mode.
func (s *Supervisor) State() SupervisorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastApplied returns the control applied on the most recent cycle.
func (s *Supervisor) LastApplied() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastApplied
}

// ResetControllers clears transient controller state; called when heating
// is switched off or the setpoint jumps discontinuously.
func (s *Supervisor) ResetControllers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pi.Reset()
	if ctl, ok := s.mpcCtl.(*mpc.Controller); ok && ctl != nil {
		ctl.Reset()
	}
	s.lastApplied = 0
}

// Status returns the observability record for the last cycle.
func (s *Supervisor) Status() SupervisorStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SupervisorStatus{
		ControllerType:    s.controllerType,
		MPCStatus:         s.state.String(),
		FailureCount:      s.failureCount,
		LastFailureReason: s.lastFailureReason,
		OptimizationTime:  s.lastOptSeconds,
		UApplied:          s.lastApplied,
	}
	if s.controllerType == ControllerTypeMPC {
		st.PredictedTrajectory = s.lastMPC.PredictedTemps
		st.ControlPlan = s.lastMPC.USequence
		st.Cost = s.lastMPC.Cost
		st.Iterations = s.lastMPC.Iterations
	}
	return st
}
