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
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antst/mzatc/internal/config"
	"github.com/antst/mzatc/internal/db"
	"github.com/antst/mzatc/internal/pi"
	"github.com/antst/mzatc/internal/thermal"
)

func testQueries(t *testing.T) *db.Queries {
	t.Helper()
	return db.OpenDatabase(filepath.Join(t.TempDir(), "test.db"))
}

// testZone builds a zone controller around the supervisor without any MQTT
// plumbing; enough for the trainer to install models into.
func testZone(t *testing.T, queries *db.Queries) *ZoneController {
	t.Helper()
	ctl := config.NewControlConfig()
	z := &ZoneController{
		name:    "test",
		cfg:     &config.ZoneConfig{Control: ctl},
		queries: queries,
	}
	piCtl := pi.New(*ctl.Kp, *ctl.Ti, *ctl.Dt, *ctl.UMin, *ctl.UMax, *ctl.AntiWindupLimit)
	z.sup = NewSupervisor(z.name, FailsafeConfig{
		Dt:               *ctl.Dt,
		MaxFailures:      *ctl.MaxFailures,
		SuccessToRecover: *ctl.SuccessToRecover,
		Timeout:          time.Duration(*ctl.TimeoutSeconds * float64(time.Second)),
		RetryInterval:    time.Duration(*ctl.RetryIntervalSeconds * float64(time.Second)),
	}, piCtl, goodForecast, nil)
	return z
}

// insertHistory writes `days` of 10-minute samples generated by the true
// model, ending now.
func insertHistory(
	t *testing.T, queries *db.Queries, zone string, truth thermal.Parameters, days int,
) {
	t.Helper()
	dt := 600.0
	a := math.Exp(-dt / truth.TimeConstant())
	b := truth.R * (1 - a)
	bd := 1 - a

	n := days * 144
	ts := time.Now().Add(-time.Duration(n) * 10 * time.Minute)
	temp := 18.0
	for k := 0; k < n; k++ {
		u := 900 + 700*math.Sin(float64(k)/11.0)
		if u < 0 {
			u = 0
		}
		tOut := 5 + 4*math.Sin(2*math.Pi*float64(k)/144.0)

		err := queries.InsertControlSample(context.Background(), db.InsertControlSampleParams{
			ZoneName: zone, Ts: ts, RoomTemp: temp, OutdoorTemp: tOut, HeatingPower: u,
		})
		require.NoError(t, err)

		temp = a*temp + b*u + bd*tOut
		ts = ts.Add(10 * time.Minute)
	}
}

func TestTrainOnceRecoversModel(t *testing.T) {
	queries := testQueries(t)
	zone := testZone(t, queries)
	trainer := NewTrainer(zone, queries)

	truth := thermal.Parameters{R: 0.003, C: 3.6e6}
	insertHistory(t, queries, zone.name, truth, 8)

	require.Nil(t, zone.Model())
	require.NoError(t, trainer.TrainOnce(context.Background()))

	model := zone.Model()
	require.NotNil(t, model, "training must install the model")
	params := model.Parameters()
	assert.InEpsilon(t, truth.R, params.R, 0.3)
	assert.InEpsilon(t, truth.C, params.C, 0.3)

	// The accepted pair is persisted for the next restart.
	row, err := queries.GetModelParameters(context.Background(), zone.name)
	require.NoError(t, err)
	assert.Equal(t, params.R, row.R)
	assert.Equal(t, params.C, row.C)
	assert.Greater(t, row.NSamples, 0)
	assert.LessOrEqual(t, row.RMSE, 2.0)
}

func TestTrainOnceNeedsEnoughHistory(t *testing.T) {
	queries := testQueries(t)
	zone := testZone(t, queries)
	trainer := NewTrainer(zone, queries)

	// Two days against a seven-day minimum.
	insertHistory(t, queries, zone.name, thermal.Parameters{R: 0.003, C: 3.6e6}, 2)

	err := trainer.TrainOnce(context.Background())
	assert.Error(t, err)
	assert.Nil(t, zone.Model())
}

func TestTrainOnceEmptyHistory(t *testing.T) {
	queries := testQueries(t)
	zone := testZone(t, queries)
	trainer := NewTrainer(zone, queries)

	assert.Error(t, trainer.TrainOnce(context.Background()))
}

func TestRetrainingRefinesExistingModel(t *testing.T) {
	queries := testQueries(t)
	zone := testZone(t, queries)
	trainer := NewTrainer(zone, queries)

	// Start from a deliberately wrong model; the retrain must pull the
	// parameters towards the data.
	require.NoError(t, zone.InstallModel(thermal.Parameters{R: 0.006, C: 1.2e6}))

	truth := thermal.Parameters{R: 0.003, C: 3.6e6}
	insertHistory(t, queries, zone.name, truth, 8)
	require.NoError(t, trainer.TrainOnce(context.Background()))

	params := zone.Model().Parameters()
	assert.InEpsilon(t, truth.R, params.R, 0.3)
	assert.InEpsilon(t, truth.TimeConstant(), params.TimeConstant(), 0.3)
}
