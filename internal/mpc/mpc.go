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

// Package mpc implements the receding-horizon heating controller.
//
// Every cycle it solves
//
//	min J(u) = sum_{k=0}^{Np-1} w_comfort·(T(k+1)-T_sp)^2
//	         + w_energy·u(k)^2/1e6 + w_smooth·(u(k)-u(k-1))^2/1e6
//	s.t. u_min <= u(k) <= u_max, |u(k)-u(k-1)| <= du_max
//
// over a control sequence of length Nc, held constant beyond the control
// horizon, applies only the first element and keeps the rest for the next
// warm start.
package mpc

import (
	"context"
	"math"
	"sync"

	"github.com/pkg/errors"

	"github.com/antst/mzatc/internal/logger"
	"github.com/antst/mzatc/internal/thermal"
)

const (
	DefaultNp       = 24 // 4 hours at dt=600s
	DefaultNc       = 12 // 2 hours at dt=600s
	DefaultDt       = 600.0
	DefaultWComfort = 1.0
	DefaultWEnergy  = 0.1
	DefaultWSmooth  = 0.1
	DefaultUMin     = 0.0    // [W]
	DefaultUMax     = 2000.0 // [W]
	DefaultDuMax    = 500.0  // [W/step]

	defaultMaxIterations = 100
	defaultTolerance     = 1e-6

	// Energy and smoothness terms are in watts squared; this keeps them on
	// the same scale as the comfort term.
	powerScale = 1e6
)

// Config is immutable during an optimization call. Weights may be replaced
// between cycles via SetWeights.
type Config struct {
	Np       int     `yaml:"np"`
	Nc       int     `yaml:"nc"`
	Dt       float64 `yaml:"dt"`
	WComfort float64 `yaml:"w_comfort"`
	WEnergy  float64 `yaml:"w_energy"`
	WSmooth  float64 `yaml:"w_smooth"`
	UMin     float64 `yaml:"u_min"`
	UMax     float64 `yaml:"u_max"`
	DuMax    float64 `yaml:"du_max"`

	MaxIterations int     `yaml:"max_iterations"`
	Tolerance     float64 `yaml:"tolerance"`
}

func DefaultConfig() Config {
	return Config{
		Np:            DefaultNp,
		Nc:            DefaultNc,
		Dt:            DefaultDt,
		WComfort:      DefaultWComfort,
		WEnergy:       DefaultWEnergy,
		WSmooth:       DefaultWSmooth,
		UMin:          DefaultUMin,
		UMax:          DefaultUMax,
		DuMax:         DefaultDuMax,
		MaxIterations: defaultMaxIterations,
		Tolerance:     defaultTolerance,
	}
}

// Validate rejects impossible configurations and clamps Nc to Np.
func (c *Config) Validate() error {
	if c.Np < 1 {
		return errors.Errorf("prediction horizon must be at least 1: Np=%d", c.Np)
	}
	if c.Nc < 1 {
		return errors.Errorf("control horizon must be at least 1: Nc=%d", c.Nc)
	}
	if c.Nc > c.Np {
		logger.L().Warnf("Control horizon Nc=%d > prediction horizon Np=%d, setting Nc=Np", c.Nc, c.Np)
		c.Nc = c.Np
	}
	if c.Dt <= 0 {
		return errors.Errorf("sampling interval must be positive: dt=%g", c.Dt)
	}
	if c.WComfort < 0 || c.WEnergy < 0 || c.WSmooth < 0 {
		return errors.Errorf(
			"cost weights must be non-negative: comfort=%g energy=%g smooth=%g",
			c.WComfort, c.WEnergy, c.WSmooth,
		)
	}
	if c.UMin > c.UMax {
		return errors.Errorf("inverted power bounds: u_min=%g > u_max=%g", c.UMin, c.UMax)
	}
	if c.DuMax < 0 {
		return errors.Errorf("rate bound must be non-negative: du_max=%g", c.DuMax)
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = defaultMaxIterations
	}
	if c.Tolerance <= 0 {
		c.Tolerance = defaultTolerance
	}
	return nil
}

// Result of one optimization. Produced fresh each cycle; the sequence kept
// for warm-starting is an internal copy.
type Result struct {
	USequence      []float64 `json:"u_sequence"`
	UFirst         float64   `json:"u_first"`
	Cost           float64   `json:"cost"`
	Success        bool      `json:"success"`
	Message        string    `json:"message"`
	Iterations     int       `json:"iterations"`
	PredictedTemps []float64 `json:"predicted_temps,omitempty"`
}

// Controller holds the model reference and the warm-start state. The mutex
// serializes optimization against weight updates and resets; per zone the
// supervisor additionally guarantees at most one solve in flight.
type Controller struct {
	model *thermal.Model

	mu       sync.Mutex
	cfg      Config
	uPrev    float64
	uSeqPrev []float64
}

func New(model *thermal.Model, cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.L().Infof(
		"MPC controller: Np=%d (%.1fh), Nc=%d (%.1fh), dt=%.0fs",
		cfg.Np, float64(cfg.Np)*cfg.Dt/3600, cfg.Nc, float64(cfg.Nc)*cfg.Dt/3600, cfg.Dt,
	)
	return &Controller{model: model, cfg: cfg}, nil
}

// Config returns a copy of the current configuration.
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// SetWeights replaces cost weights between cycles. Nil keeps the current
// value.
func (c *Controller) SetWeights(wComfort, wEnergy, wSmooth *float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if wComfort != nil && *wComfort >= 0 {
		c.cfg.WComfort = *wComfort
	}
	if wEnergy != nil && *wEnergy >= 0 {
		c.cfg.WEnergy = *wEnergy
	}
	if wSmooth != nil && *wSmooth >= 0 {
		c.cfg.WSmooth = *wSmooth
	}
	logger.L().Infof(
		"MPC weights updated: comfort=%.2f, energy=%.2f, smooth=%.2f",
		c.cfg.WComfort, c.cfg.WEnergy, c.cfg.WSmooth,
	)
}

// Reset clears the warm-start state.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.uPrev = 0
	c.uSeqPrev = nil
	c.mu.Unlock()
	logger.L().Debug("MPC controller state reset")
}

// ComputeControl solves the receding-horizon problem. A forecast shorter
// than Np is edge-padded. On non-convergence or error the warm-start guess
// is returned with Success=false; the caller decides about the fallback,
// this controller never substitutes PI itself. A cancelled context
// invalidates the result and leaves the warm-start state untouched.
func (c *Controller) ComputeControl(
	ctx context.Context, tCurrent, tSetpoint float64, tOutdoorForecast []float64, uLast *float64,
) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	if uLast != nil {
		c.uPrev = *uLast
	}

	if len(tOutdoorForecast) == 0 {
		return Result{Success: false, Message: "Optimization failed: empty outdoor forecast"}
	}
	if len(tOutdoorForecast) < c.cfg.Np {
		logger.L().Warnf(
			"Forecast too short (%d < %d), extending with last value",
			len(tOutdoorForecast), c.cfg.Np,
		)
	}
	forecast := edgeResize(tOutdoorForecast, c.cfg.Np)

	uInit := c.initialGuess()
	coeffs := c.model.Coefficients()

	uOpt, cost, iterations, err := solve(coeffs, c.cfg, tCurrent, tSetpoint, forecast, c.uPrev, uInit)
	if err != nil {
		logger.L().Warnf("MPC optimization failed: %v (iterations=%d)", err, iterations)
		return Result{
			USequence:  uInit,
			UFirst:     uInit[0],
			Cost:       math.Inf(1),
			Success:    false,
			Message:    "Optimization failed: " + err.Error(),
			Iterations: iterations,
		}
	}

	// A timed-out call is abandoned by the supervisor; its late result is
	// discarded and must not corrupt the next warm start.
	if ctx.Err() != nil {
		return Result{
			USequence:  uInit,
			UFirst:     uInit[0],
			Cost:       math.Inf(1),
			Success:    false,
			Message:    "Exception: " + ctx.Err().Error(),
			Iterations: iterations,
		}
	}

	predicted := simulateTrajectory(coeffs, c.cfg.Np, tCurrent, uOpt, forecast)
	c.uSeqPrev = append([]float64(nil), uOpt...)

	logger.L().Debugf(
		"MPC optimization successful: cost=%.3f, u_first=%.1fW, iterations=%d",
		cost, uOpt[0], iterations,
	)
	return Result{
		USequence:      uOpt,
		UFirst:         uOpt[0],
		Cost:           cost,
		Success:        true,
		Message:        "Optimization converged",
		Iterations:     iterations,
		PredictedTemps: predicted,
	}
}

// initialGuess shifts the previous optimal sequence one step, repeating its
// last value; cold start is a flat sequence at the last applied control.
func (c *Controller) initialGuess() []float64 {
	u := make([]float64, c.cfg.Nc)
	if c.uSeqPrev == nil {
		for i := range u {
			u[i] = c.uPrev
		}
		return u
	}
	shifted := make([]float64, len(c.uSeqPrev))
	copy(shifted, c.uSeqPrev[1:])
	shifted[len(shifted)-1] = c.uSeqPrev[len(c.uSeqPrev)-1]
	copy(u, edgeResize(shifted, c.cfg.Nc))
	return u
}

// edgeResize truncates or edge-pads s to length n.
func edgeResize(s []float64, n int) []float64 {
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		if i < len(s) {
			out[i] = s[i]
		} else {
			out[i] = s[len(s)-1]
		}
	}
	return out
}

// extendZOH extends the Nc-length decision vector to Np steps by holding
// the last value.
func extendZOH(u []float64, np int) []float64 {
	return edgeResize(u, np)
}

// rolloutCost evaluates the Np-step cost of a decision vector. uRef is the
// smoothness reference for the first step (the last applied control).
func rolloutCost(
	coeffs thermal.Coefficients, cfg Config, tCurrent, tSetpoint float64,
	forecast, u []float64, uRef float64,
) float64 {
	uFull := extendZOH(u, cfg.Np)
	t := tCurrent
	cost := 0.0
	for k := 0; k < cfg.Np; k++ {
		tNext := coeffs.Step(t, uFull[k], forecast[k])

		comfortErr := tNext - tSetpoint
		cost += cfg.WComfort * comfortErr * comfortErr
		cost += cfg.WEnergy * uFull[k] * uFull[k] / powerScale

		prev := uRef
		if k > 0 {
			prev = uFull[k-1]
		}
		du := uFull[k] - prev
		cost += cfg.WSmooth * du * du / powerScale

		t = tNext
	}
	return cost
}

func simulateTrajectory(
	coeffs thermal.Coefficients, np int, tCurrent float64, u, forecast []float64,
) []float64 {
	uFull := extendZOH(u, np)
	temps := make([]float64, np+1)
	temps[0] = tCurrent
	for k := 0; k < np; k++ {
		temps[k+1] = coeffs.Step(temps[k], uFull[k], forecast[k])
	}
	return temps
}
