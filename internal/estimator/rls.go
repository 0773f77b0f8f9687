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

// Package estimator identifies the thermal model parameters online with
// recursive least squares.
//
// Regression form of the discrete plant:
//
//	y(k) = phi(k)ᵀ·theta
//	phi(k) = [T(k-1), u(k-1), T_outdoor(k-1)]
//	theta  = [a, b, c]
//
// A forgetting factor lambda in (0,1] exponentially discounts old samples.
package estimator

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/antst/mzatc/internal/logger"
	"github.com/antst/mzatc/internal/thermal"
)

const (
	DefaultForgettingFactor  = 0.98
	DefaultInitialCovariance = 1000.0

	// Seed used when no prior parameters are available.
	seedR = 0.002
	seedC = 4.5e6

	// Below this the gain denominator is treated as singular and the
	// update is skipped. A defined no-op, not an error.
	singularDenominator = 1e-10

	consistencyTolerance = 0.1
)

// State of the RLS recursion: theta, the 3x3 covariance P, the update
// counter and the last one-step prediction error.
type State struct {
	Theta    *mat.VecDense
	P        *mat.Dense
	NUpdates int
	LastErr  float64
}

func newState() State {
	p := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		p.Set(i, i, DefaultInitialCovariance)
	}
	return State{Theta: mat.NewVecDense(3, nil), P: p}
}

// Estimator runs the RLS recursion for one zone. Not safe for concurrent
// use; the trainer owns it and runs outside the control hot path.
type Estimator struct {
	dt     float64
	lambda float64
	state  State
}

// New creates an estimator. lambda outside (0,1] falls back to the default.
// When seed is non-nil, theta starts from the discrete coefficients of the
// seed parameters for faster reconvergence.
func New(dt, lambda float64, seed *thermal.Parameters) *Estimator {
	if lambda <= 0 || lambda > 1 {
		logger.L().Warnf("Forgetting factor %.3f outside (0,1], using %.3f", lambda, DefaultForgettingFactor)
		lambda = DefaultForgettingFactor
	}
	e := &Estimator{dt: dt, lambda: lambda}
	e.Reset(seed)
	return e
}

// Reset restores a fresh theta/P pair, optionally seeded from existing
// parameters.
func (e *Estimator) Reset(seed *thermal.Parameters) {
	e.state = newState()
	p := thermal.Parameters{R: seedR, C: seedC}
	if seed != nil {
		p = *seed
	}
	a := math.Exp(-e.dt / (p.R * p.C))
	e.state.Theta.SetVec(0, a)
	e.state.Theta.SetVec(1, p.R*(1-a))
	e.state.Theta.SetVec(2, 1-a)
	logger.L().Debugf(
		"Estimator reset: dt=%.0fs lambda=%.3f theta0=[%.6f %.6f %.6f]",
		e.dt, e.lambda, e.state.Theta.AtVec(0), e.state.Theta.AtVec(1), e.state.Theta.AtVec(2),
	)
}

// Update performs one RLS step with the measured temperature y = T(k) and
// the regressor built from the previous sample. Returns the one-step
// prediction error. A near-singular gain denominator skips the update.
func (e *Estimator) Update(tMeasured, tPrevious, uHeating, tOutdoor float64) float64 {
	phi := mat.NewVecDense(3, []float64{tPrevious, uHeating, tOutdoor})

	yPred := mat.Dot(phi, e.state.Theta)
	err := tMeasured - yPred
	e.state.LastErr = err

	var pPhi mat.VecDense
	pPhi.MulVec(e.state.P, phi)
	den := e.lambda + mat.Dot(phi, &pPhi)
	if math.Abs(den) < singularDenominator {
		logger.L().Warn("RLS gain denominator near zero, skipping update")
		return err
	}

	var gain mat.VecDense
	gain.ScaleVec(1/den, &pPhi)

	e.state.Theta.AddScaledVec(e.state.Theta, err, &gain)

	// P <- (P - K·(P·phi)ᵀ) / lambda
	var outer mat.Dense
	outer.Outer(1, &gain, &pPhi)
	e.state.P.Sub(e.state.P, &outer)
	e.state.P.Scale(1/e.lambda, e.state.P)

	e.state.NUpdates++
	if e.state.NUpdates%100 == 0 {
		logger.L().Debugf(
			"RLS update #%d: error=%.3f theta=[%.6f %.6f %.6f]",
			e.state.NUpdates, err,
			e.state.Theta.AtVec(0), e.state.Theta.AtVec(1), e.state.Theta.AtVec(2),
		)
	}
	return err
}

// NUpdates reports how many samples have been absorbed.
func (e *Estimator) NUpdates() int { return e.state.NUpdates }

// LastError returns the prediction error of the most recent update.
func (e *Estimator) LastError() float64 { return e.state.LastErr }

// Theta returns a copy of the current parameter vector [a, b, c].
func (e *Estimator) Theta() [3]float64 {
	return [3]float64{e.state.Theta.AtVec(0), e.state.Theta.AtVec(1), e.state.Theta.AtVec(2)}
}

// ExtractParameters converts theta back to physical (R, C):
//
//	R = b/c, C = -dt/(R·ln a)
//
// Returns ok=false when theta is outside the physically meaningful region.
// An inconsistency between c and 1-a is logged but not rejected.
func (e *Estimator) ExtractParameters() (thermal.Parameters, bool) {
	a := e.state.Theta.AtVec(0)
	b := e.state.Theta.AtVec(1)
	c := e.state.Theta.AtVec(2)

	if a <= 0 || a >= 1 {
		logger.L().Warnf("Invalid a parameter: %.6f (must be in (0,1))", a)
		return thermal.Parameters{}, false
	}
	if b <= 0 {
		logger.L().Warnf("Invalid b parameter: %.6f (must be > 0)", b)
		return thermal.Parameters{}, false
	}
	if c <= 0 || c >= 1 {
		logger.L().Warnf("Invalid c parameter: %.6f (must be in (0,1))", c)
		return thermal.Parameters{}, false
	}
	if math.Abs(c-(1-a)) > consistencyTolerance {
		logger.L().Warnf("Inconsistent parameters: c=%.6f, expected %.6f from a=%.6f", c, 1-a, a)
	}

	r := b / c
	lnA := math.Log(a)
	if lnA >= 0 {
		logger.L().Errorf("Invalid ln(a)=%.6f (should be negative)", lnA)
		return thermal.Parameters{}, false
	}
	params := thermal.Parameters{R: r, C: -e.dt / (r * lnA)}
	if err := params.Validate(); err != nil {
		logger.L().Warnf("Extracted parameters failed validation: %v", err)
		return thermal.Parameters{}, false
	}
	logger.L().Debugf(
		"Extracted parameters: R=%.6f K/W, C=%.0f J/K, tau=%.1fh",
		params.R, params.C, params.TimeConstant()/3600,
	)
	return params, true
}
