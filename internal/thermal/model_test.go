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

package thermal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams() Parameters {
	return Parameters{R: 0.002, C: 4.5e6} // tau = 9000s = 2.5h
}

func TestNewModelRejectsBadInputs(t *testing.T) {
	_, err := NewModel(Parameters{R: 0, C: 1e6}, 600)
	assert.Error(t, err)

	_, err = NewModel(Parameters{R: 0.002, C: -1}, 600)
	assert.Error(t, err)

	_, err = NewModel(testParams(), 0)
	assert.Error(t, err)

	_, err = NewModel(testParams(), 600)
	assert.NoError(t, err)
}

func TestDiscreteCoefficients(t *testing.T) {
	p := testParams()
	dt := 600.0
	m, err := NewModel(p, dt)
	require.NoError(t, err)

	c := m.Coefficients()
	wantA := math.Exp(-dt / (p.R * p.C))
	assert.InDelta(t, wantA, c.A, 1e-12)
	assert.InDelta(t, p.R*(1-wantA), c.B, 1e-12)
	assert.InDelta(t, 1-wantA, c.Bd, 1e-12)

	// Unit steady-state gain: constant T = u·B/(1-A) + T_out.
	assert.InDelta(t, 1.0, c.A+c.Bd, 1e-12)
	assert.Greater(t, c.A, 0.0)
	assert.Less(t, c.A, 1.0)

	// Reference value for the floor-heating defaults.
	assert.InDelta(t, 0.9355, c.A, 5e-4)
}

func TestNoHeatingDecaysToOutdoor(t *testing.T) {
	m, err := NewModel(testParams(), 600)
	require.NoError(t, err)

	const tOutdoor = 5.0
	temp := 22.0
	for i := 0; i < 500; i++ {
		temp = m.SimulateStep(temp, 0, tOutdoor, 0)
	}
	assert.InDelta(t, tOutdoor, temp, 1e-6)
}

func TestStepConvergesToSteadyState(t *testing.T) {
	m, err := NewModel(testParams(), 600)
	require.NoError(t, err)

	const (
		u        = 1000.0
		tOutdoor = 5.0
	)
	temp := 18.0
	for i := 0; i < 500; i++ {
		temp = m.SimulateStep(temp, u, tOutdoor, 0)
	}

	// T_ss = T_out + R·u = 5 + 0.002·1000 = 7.
	assert.InDelta(t, m.SteadyStateTemperature(u, tOutdoor, 0), temp, 1e-6)
	assert.InDelta(t, 7.0, temp, 1e-6)
}

func TestDisturbanceAddsHeat(t *testing.T) {
	m, err := NewModel(testParams(), 600)
	require.NoError(t, err)

	withQ := m.SimulateStep(20, 500, 5, 300)
	withoutQ := m.SimulateStep(20, 500, 5, 0)
	assert.Greater(t, withQ, withoutQ)
	assert.InDelta(t, m.SimulateStep(20, 800, 5, 0), withQ, 1e-9)
}

func TestPredict(t *testing.T) {
	m, err := NewModel(testParams(), 600)
	require.NoError(t, err)

	u := []float64{1000, 1000, 500}
	out := []float64{5, 5, 5}
	traj, err := m.Predict(18, u, out)
	require.NoError(t, err)
	require.Len(t, traj, 4)
	assert.Equal(t, 18.0, traj[0])

	c := m.Coefficients()
	assert.InDelta(t, c.Step(18, 1000, 5), traj[1], 1e-12)

	_, err = m.Predict(18, u, out[:2])
	assert.Error(t, err)
}

func TestSetParameters(t *testing.T) {
	m, err := NewModel(testParams(), 600)
	require.NoError(t, err)
	before := m.Coefficients()

	require.NoError(t, m.SetParameters(Parameters{R: 0.004, C: 2.5e6}))
	after := m.Coefficients()
	assert.NotEqual(t, before, after)
	assert.Equal(t, Parameters{R: 0.004, C: 2.5e6}, m.Parameters())

	// Invalid parameters are rejected and the model keeps the old set.
	assert.Error(t, m.SetParameters(Parameters{R: -1, C: 2.5e6}))
	assert.Equal(t, after, m.Coefficients())
}

func TestHeatingPowerForTarget(t *testing.T) {
	m, err := NewModel(testParams(), 600)
	require.NoError(t, err)

	// Holding 21C at 5C outdoor needs (21-5)/0.002 = 8000W.
	assert.InDelta(t, 8000.0, m.HeatingPowerForTarget(21, 5, 0), 1e-9)

	// Target below outdoor cannot be reached by heating; clamp at zero.
	assert.Equal(t, 0.0, m.HeatingPowerForTarget(15, 25, 0))

	// Round trip through the steady state.
	u := m.HeatingPowerForTarget(21, 5, 0)
	assert.InDelta(t, 21.0, m.SteadyStateTemperature(u, 5, 0), 1e-9)
}

func TestTimeConstant(t *testing.T) {
	assert.InDelta(t, 9000.0, testParams().TimeConstant(), 1e-9)
}
