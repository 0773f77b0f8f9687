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

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestControlConfigDefaults(t *testing.T) {
	c := NewControlConfig()

	assert.Equal(t, 600.0, *c.Dt)
	assert.Equal(t, 24, *c.Np)
	assert.Equal(t, 12, *c.Nc)
	assert.Equal(t, 1.0, *c.WComfort)
	assert.Equal(t, 0.1, *c.WEnergy)
	assert.Equal(t, 0.1, *c.WSmooth)
	assert.Equal(t, 0.0, *c.UMin)
	assert.Equal(t, 2000.0, *c.UMax)
	assert.Equal(t, 500.0, *c.DuMax)
	assert.Equal(t, 10.0, *c.Kp)
	assert.Equal(t, 1500.0, *c.Ti)
	assert.Equal(t, 3, *c.MaxFailures)
	assert.Equal(t, 5, *c.SuccessToRecover)
	assert.Equal(t, 10.0, *c.TimeoutSeconds)
	assert.Equal(t, 3600.0, *c.RetryIntervalSeconds)
	assert.Equal(t, 0.98, *c.ForgettingFactor)

	// Initial model parameters have no default; a zone without them runs
	// PI until trained.
	assert.Nil(t, c.R)
	assert.Nil(t, c.C)
}

func TestControlConfigMerge(t *testing.T) {
	parent := NewControlConfig()
	parent.UMax = GetPTR(3000.0)
	parent.R = GetPTR(0.0025)
	parent.C = GetPTR(4.5e6)

	child := &ControlConfig{Kp: GetPTR(15.0)}
	child.MergeFrom(parent)

	// Child override survives, everything else inherits.
	assert.Equal(t, 15.0, *child.Kp)
	assert.Equal(t, 3000.0, *child.UMax)
	assert.Equal(t, 0.0025, *child.R)
	assert.Equal(t, 600.0, *child.Dt)
}

func TestZoneConfigFillDefaults(t *testing.T) {
	var z ZoneConfig
	require.NoError(t, yaml.Unmarshal([]byte(`
setpoint:
  topic: home/living/setpoint
sensors:
  - topic: home/living/temp
    json_entry: temperature
command_topic: home/living/heater/set
control:
  u_max: 1500
`), &z))

	parent := NewControlConfig()
	z.FillDefaults(parent)

	assert.Equal(t, DefaultAverageType, z.SensorsAverageType)
	assert.Equal(t, 1.0, *z.Weight)
	assert.Equal(t, 1500.0, *z.Control.UMax)
	assert.Equal(t, 600.0, *z.Control.Dt)
	assert.Equal(t, 1.0, *z.Sensors[0].Scale)
	assert.Equal(t, 0.0, *z.Sensors[0].Offset)
	require.NotNil(t, z.Setpoint.Scale)
	assert.Equal(t, "temperature", *z.Sensors[0].JSONEntry)
}

func TestOutsideConfigDefaults(t *testing.T) {
	var o OutsideConfig
	require.NoError(t, yaml.Unmarshal([]byte(`
temperature_sensors:
  - topic: weather/outdoor
forecast_topic: weather/forecast
`), &o))
	o.FillDefaults()

	assert.Equal(t, DefaultAverageType, o.TemperatureAverageType)
	assert.Equal(t, 1.0, *o.ForecastMaxAgeHours)
	assert.Equal(t, "weather/forecast", o.ForecastTopic)
}
