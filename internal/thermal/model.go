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

// Package thermal implements the 1R1C lumped model of a heated room.
//
// Continuous dynamics:
//
//	C·dT/dt = u_heating - (T - T_outdoor)/R + Q_disturbance
//
// discretized with sampling interval dt to
//
//	T(k+1) = A·T(k) + B·u(k) + Bd·T_outdoor(k)
//
// with A = exp(-dt/(R·C)), B = R·(1-A), Bd = 1-A.
package thermal

import (
	"math"
	"sync"

	"github.com/pkg/errors"

	"github.com/antst/mzatc/internal/logger"
)

const (
	DefaultR = 0.01 // [K/W]
	DefaultC = 1e6  // [J/K]

	// Typical time constant range for floor heating.
	minTypicalTau = 3600.0  // 1h
	maxTypicalTau = 43200.0 // 12h
)

// Parameters of the 1R1C model. Value type, replaced wholesale on
// re-estimation.
type Parameters struct {
	R float64 `yaml:"r" json:"R"` // thermal resistance [K/W]
	C float64 `yaml:"c" json:"C"` // thermal capacity [J/K]
}

// TimeConstant returns tau = R·C in seconds.
func (p Parameters) TimeConstant() float64 {
	return p.R * p.C
}

// Validate checks physical plausibility. A time constant outside the
// typical floor-heating range is logged but not rejected.
func (p Parameters) Validate() error {
	if p.R <= 0 {
		return errors.Errorf("thermal resistance R must be positive: R=%g", p.R)
	}
	if p.C <= 0 {
		return errors.Errorf("thermal capacity C must be positive: C=%g", p.C)
	}
	if tau := p.TimeConstant(); tau < minTypicalTau || tau > maxTypicalTau {
		logger.L().Warnf("Time constant tau=%.1fh outside typical range [1h, 12h]", tau/3600)
	}
	return nil
}

// Coefficients is a snapshot of the discrete matrices. It is safe to use
// from a hot loop without touching the model lock.
type Coefficients struct {
	A  float64
	B  float64
	Bd float64
}

// Step advances the plant by one sampling interval.
func (c Coefficients) Step(tCurrent, uHeating, tOutdoor float64) float64 {
	return c.A*tCurrent + c.B*uHeating + c.Bd*tOutdoor
}

// Model is the discrete 1R1C plant. It holds no simulation state; the
// temperature is always passed in. Parameter replacement is atomic with
// respect to concurrent readers.
type Model struct {
	mu     sync.RWMutex
	params Parameters
	dt     float64
	coeffs Coefficients
}

func NewModel(params Parameters, dt float64) (*Model, error) {
	if dt <= 0 {
		return nil, errors.Errorf("sampling interval must be positive: dt=%g", dt)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	m := &Model{params: params, dt: dt}
	m.coeffs = derive(params, dt)
	logger.L().Infof(
		"Thermal model: R=%.6f K/W, C=%.0f J/K, tau=%.1fh, dt=%.0fs",
		params.R, params.C, params.TimeConstant()/3600, dt,
	)
	return m, nil
}

func derive(p Parameters, dt float64) Coefficients {
	a := math.Exp(-dt / (p.R * p.C))
	return Coefficients{A: a, B: p.R * (1 - a), Bd: 1 - a}
}

// SetParameters validates and installs new parameters, recomputing the
// discrete matrices under the lock so no reader observes a partial update.
func (m *Model) SetParameters(params Parameters) error {
	if err := params.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.params = params
	m.coeffs = derive(params, m.dt)
	m.mu.Unlock()
	logger.L().Infof(
		"Thermal model parameters updated: R=%.6f K/W, C=%.0f J/K, tau=%.1fh",
		params.R, params.C, params.TimeConstant()/3600,
	)
	return nil
}

func (m *Model) Parameters() Parameters {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.params
}

func (m *Model) Dt() float64 { return m.dt }

// Coefficients returns the current discrete matrices as one consistent set.
func (m *Model) Coefficients() Coefficients {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.coeffs
}

// SimulateStep computes T(k+1) from the current temperature, the heating
// power and the outdoor temperature. qDisturbance is additional heat input
// (solar gain, occupancy) in watts.
func (m *Model) SimulateStep(tCurrent, uHeating, tOutdoor, qDisturbance float64) float64 {
	c := m.Coefficients()
	tNext := c.Step(tCurrent, uHeating, tOutdoor)
	if qDisturbance != 0 {
		tNext += c.B * qDisturbance
	}
	return tNext
}

// Predict folds SimulateStep over equal-length input sequences and returns
// the trajectory of length len(uSequence)+1, including the initial state.
func (m *Model) Predict(tInitial float64, uSequence, tOutdoorSequence []float64) ([]float64, error) {
	n := len(uSequence)
	if len(tOutdoorSequence) != n {
		return nil, errors.Errorf(
			"outdoor sequence length %d must match control sequence length %d",
			len(tOutdoorSequence), n,
		)
	}
	c := m.Coefficients()
	trajectory := make([]float64, n+1)
	trajectory[0] = tInitial
	for k := 0; k < n; k++ {
		trajectory[k+1] = c.Step(trajectory[k], uSequence[k], tOutdoorSequence[k])
	}
	return trajectory, nil
}

// SteadyStateTemperature is the temperature reached under constant inputs:
// T_ss = T_outdoor + R·(u + Q).
func (m *Model) SteadyStateTemperature(uHeating, tOutdoor, qDisturbance float64) float64 {
	return tOutdoor + m.Parameters().R*(uHeating+qDisturbance)
}

// HeatingPowerForTarget inverts the steady-state equation. The result is
// clamped at zero, the system cannot actively cool.
func (m *Model) HeatingPowerForTarget(tTarget, tOutdoor, qDisturbance float64) float64 {
	u := (tTarget-tOutdoor)/m.Parameters().R - qDisturbance
	return math.Max(0, u)
}
