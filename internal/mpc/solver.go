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

package mpc

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"

	"github.com/antst/mzatc/internal/thermal"
)

// The box and rate constraints are folded into the objective as quadratic
// penalties so the problem stays smooth for a quasi-Newton solver; the
// minimizer output is then projected onto the exact feasible set. The
// penalty weight is in cost units per squared watt of violation, large
// enough to dominate any realistic rollout cost.
const constraintPenalty = 10.0

// solve minimizes the penalized rollout cost with L-BFGS and projects the
// result onto the feasible set. It returns the feasible sequence, its pure
// (unpenalized) cost and the iteration count.
func solve(
	coeffs thermal.Coefficients, cfg Config, tCurrent, tSetpoint float64,
	forecast []float64, uPrev float64, uInit []float64,
) ([]float64, float64, int, error) {
	objective := func(u []float64) float64 {
		return rolloutCost(coeffs, cfg, tCurrent, tSetpoint, forecast, u, uPrev) +
			constraintPenalty*constraintViolation(u, cfg, uPrev)
	}

	problem := optimize.Problem{
		Func: objective,
		Grad: func(grad, u []float64) {
			fd.Gradient(grad, objective, u, nil)
		},
	}

	settings := &optimize.Settings{
		MajorIterations: cfg.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   cfg.Tolerance,
			Iterations: 20,
		},
	}

	x0 := append([]float64(nil), uInit...)
	result, err := optimize.Minimize(problem, x0, settings, &optimize.LBFGS{})

	iterations := 0
	if result != nil {
		iterations = result.Stats.MajorIterations
	}
	if err != nil {
		return nil, 0, iterations, errors.WithMessage(err, "optimizer error")
	}
	if result.Status == optimize.IterationLimit {
		return nil, 0, iterations, errors.New("iteration limit reached without convergence")
	}

	u := projectFeasible(result.X, cfg, uPrev)
	cost := rolloutCost(coeffs, cfg, tCurrent, tSetpoint, forecast, u, uPrev)
	return u, cost, iterations, nil
}

// constraintViolation is the sum of squared box and rate violations. It is
// continuously differentiable, which the line search relies on.
func constraintViolation(u []float64, cfg Config, uPrev float64) float64 {
	total := 0.0
	prev := uPrev
	for _, uk := range u {
		if uk < cfg.UMin {
			d := cfg.UMin - uk
			total += d * d
		}
		if uk > cfg.UMax {
			d := uk - cfg.UMax
			total += d * d
		}
		if du := math.Abs(uk - prev); du > cfg.DuMax {
			d := du - cfg.DuMax
			total += d * d
		}
		prev = uk
	}
	return total
}

// projectFeasible clamps each step into the intersection of the box bounds
// and the rate window around the previous (projected) step. The window is
// never empty because the previous value is itself inside the box.
func projectFeasible(u []float64, cfg Config, uPrev float64) []float64 {
	out := make([]float64, len(u))
	prev := clampF(uPrev, cfg.UMin, cfg.UMax)
	for k, uk := range u {
		lo := math.Max(cfg.UMin, prev-cfg.DuMax)
		hi := math.Min(cfg.UMax, prev+cfg.DuMax)
		out[k] = clampF(uk, lo, hi)
		prev = out[k]
	}
	return out
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
