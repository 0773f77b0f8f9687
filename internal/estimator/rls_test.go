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

package estimator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antst/mzatc/internal/thermal"
)

const testDt = 600.0

// feedSyntheticData drives the estimator with noiseless data generated by
// the given true model over the given number of steps. The excitation mixes
// slow and fast components so all three regressor entries stay informative.
func feedSyntheticData(e *Estimator, truth thermal.Parameters, steps int) {
	a := math.Exp(-testDt / truth.TimeConstant())
	b := truth.R * (1 - a)
	bd := 1 - a

	temp := 18.0
	for k := 0; k < steps; k++ {
		u := 1000 + 800*math.Sin(float64(k)/7.0)
		if u < 0 {
			u = 0
		}
		tOut := 5 + 5*math.Sin(2*math.Pi*float64(k)/144.0)

		tNext := a*temp + b*u + bd*tOut
		e.Update(tNext, temp, u, tOut)
		temp = tNext
	}
}

func TestRecoverKnownParameters(t *testing.T) {
	truth := thermal.Parameters{R: 0.003, C: 3.6e6} // tau = 3h
	e := New(testDt, DefaultForgettingFactor, nil)

	// 30 days of 10-minute samples.
	feedSyntheticData(e, truth, 30*144)

	params, ok := e.ExtractParameters()
	require.True(t, ok, "estimate should be physically valid, theta=%v", e.Theta())

	assert.InEpsilon(t, truth.R, params.R, 0.3)
	assert.InEpsilon(t, truth.C, params.C, 0.3)
	assert.InEpsilon(t, truth.TimeConstant(), params.TimeConstant(), 0.3)

	// On noiseless data the one-step prediction error must end up tiny.
	assert.Less(t, math.Abs(e.LastError()), 0.01)
	assert.Equal(t, 30*144, e.NUpdates())
}

func TestSeedRoundTripsWithoutUpdates(t *testing.T) {
	seed := thermal.Parameters{R: 0.004, C: 2.5e6}
	e := New(testDt, DefaultForgettingFactor, &seed)

	params, ok := e.ExtractParameters()
	require.True(t, ok)
	assert.InDelta(t, seed.R, params.R, 1e-9)
	assert.InEpsilon(t, seed.C, params.C, 1e-6)
}

func TestThetaSeededFromParameters(t *testing.T) {
	seed := thermal.Parameters{R: 0.002, C: 4.5e6}
	e := New(testDt, DefaultForgettingFactor, &seed)

	a := math.Exp(-testDt / seed.TimeConstant())
	theta := e.Theta()
	assert.InDelta(t, a, theta[0], 1e-12)
	assert.InDelta(t, seed.R*(1-a), theta[1], 1e-12)
	assert.InDelta(t, 1-a, theta[2], 1e-12)
}

func TestInvalidForgettingFactorFallsBack(t *testing.T) {
	// Out-of-range lambda must not break the recursion.
	e := New(testDt, 1.5, nil)
	feedSyntheticData(e, thermal.Parameters{R: 0.002, C: 4.5e6}, 500)
	_, ok := e.ExtractParameters()
	assert.True(t, ok)
}

func TestResetRestoresSeed(t *testing.T) {
	e := New(testDt, DefaultForgettingFactor, nil)
	feedSyntheticData(e, thermal.Parameters{R: 0.003, C: 3.6e6}, 200)
	require.Equal(t, 200, e.NUpdates())

	seed := thermal.Parameters{R: 0.002, C: 4.5e6}
	e.Reset(&seed)
	assert.Equal(t, 0, e.NUpdates())

	a := math.Exp(-testDt / seed.TimeConstant())
	assert.InDelta(t, a, e.Theta()[0], 1e-12)
}

func TestExtractRejectsUnphysicalTheta(t *testing.T) {
	e := New(testDt, DefaultForgettingFactor, nil)

	// Force theta into an invalid region: a >= 1 has no positive time
	// constant.
	e.state.Theta.SetVec(0, 1.2)
	_, ok := e.ExtractParameters()
	assert.False(t, ok)

	e.Reset(nil)
	e.state.Theta.SetVec(1, -0.001)
	_, ok = e.ExtractParameters()
	assert.False(t, ok)

	e.Reset(nil)
	e.state.Theta.SetVec(2, 1.5)
	_, ok = e.ExtractParameters()
	assert.False(t, ok)
}

func TestUpdateReturnsInnovation(t *testing.T) {
	seed := thermal.Parameters{R: 0.002, C: 4.5e6}
	e := New(testDt, DefaultForgettingFactor, &seed)

	a := math.Exp(-testDt / seed.TimeConstant())
	b := seed.R * (1 - a)
	bd := 1 - a

	// Exact model data gives a zero innovation on the first step.
	tNext := a*20 + b*1000 + bd*5
	err := e.Update(tNext, 20, 1000, 5)
	assert.InDelta(t, 0.0, err, 1e-9)

	// A biased measurement returns the bias as innovation.
	err = e.Update(tNext+0.5, 20, 1000, 5)
	assert.Greater(t, err, 0.0)
}
