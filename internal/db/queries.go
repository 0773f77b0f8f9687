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

package db

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

type Queries struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Queries {
	return &Queries{db: db}
}

type UpsertControllerValueParams struct {
	Name  string `db:"name"`
	Value string `db:"value"`
}

func (q *Queries) UpsertControllerValue(ctx context.Context, arg UpsertControllerValueParams) error {
	_, err := q.db.NamedExecContext(ctx,
		`INSERT INTO controller_values (name, value) VALUES (:name, :value)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`, arg)
	return errors.Wrap(err, "upsert controller value")
}

func (q *Queries) GetControllerValue(ctx context.Context, name string) (string, error) {
	var value string
	err := q.db.GetContext(ctx, &value,
		`SELECT value FROM controller_values WHERE name = ?`, name)
	return value, err
}

type UpsertZoneSetpointParams struct {
	ZoneName string  `db:"zone_name"`
	Setpoint float64 `db:"setpoint"`
}

func (q *Queries) UpsertZoneSetpoint(ctx context.Context, arg UpsertZoneSetpointParams) error {
	_, err := q.db.NamedExecContext(ctx,
		`INSERT INTO zone_setpoints (zone_name, setpoint) VALUES (:zone_name, :setpoint)
		 ON CONFLICT(zone_name) DO UPDATE SET setpoint = excluded.setpoint`, arg)
	return errors.Wrap(err, "upsert zone setpoint")
}

func (q *Queries) GetZoneSetpoint(ctx context.Context, zoneName string) (float64, error) {
	var setpoint float64
	err := q.db.GetContext(ctx, &setpoint,
		`SELECT setpoint FROM zone_setpoints WHERE zone_name = ?`, zoneName)
	return setpoint, err
}

type UpsertSensorValueParams struct {
	SensorName string  `db:"sensor_name"`
	Value      float64 `db:"value"`
}

func (q *Queries) UpsertSensorValue(ctx context.Context, arg UpsertSensorValueParams) error {
	_, err := q.db.NamedExecContext(ctx,
		`INSERT INTO sensor_values (sensor_name, value) VALUES (:sensor_name, :value)
		 ON CONFLICT(sensor_name) DO UPDATE SET value = excluded.value`, arg)
	return errors.Wrap(err, "upsert sensor value")
}

func (q *Queries) GetSensorValue(ctx context.Context, sensorName string) (float64, error) {
	var value float64
	err := q.db.GetContext(ctx, &value,
		`SELECT value FROM sensor_values WHERE sensor_name = ?`, sensorName)
	return value, err
}

// ModelParametersRow is one persisted (R, C) pair with its training
// provenance.
type ModelParametersRow struct {
	ZoneName  string    `db:"zone_name"`
	R         float64   `db:"r"`
	C         float64   `db:"c"`
	RMSE      float64   `db:"rmse"`
	NSamples  int       `db:"n_samples"`
	TrainedAt time.Time `db:"trained_at"`
}

func (q *Queries) UpsertModelParameters(ctx context.Context, arg ModelParametersRow) error {
	_, err := q.db.NamedExecContext(ctx,
		`INSERT INTO model_parameters (zone_name, r, c, rmse, n_samples, trained_at)
		 VALUES (:zone_name, :r, :c, :rmse, :n_samples, :trained_at)
		 ON CONFLICT(zone_name) DO UPDATE SET
		     r = excluded.r, c = excluded.c, rmse = excluded.rmse,
		     n_samples = excluded.n_samples, trained_at = excluded.trained_at`, arg)
	return errors.Wrap(err, "upsert model parameters")
}

func (q *Queries) GetModelParameters(ctx context.Context, zoneName string) (ModelParametersRow, error) {
	var row ModelParametersRow
	err := q.db.GetContext(ctx, &row,
		`SELECT zone_name, r, c, rmse, n_samples, trained_at
		   FROM model_parameters WHERE zone_name = ?`, zoneName)
	return row, err
}

// ControlSample is one aligned historical record used for estimation.
type ControlSample struct {
	ID           int64     `db:"id"`
	ZoneName     string    `db:"zone_name"`
	Ts           time.Time `db:"ts"`
	RoomTemp     float64   `db:"room_temp"`
	OutdoorTemp  float64   `db:"outdoor_temp"`
	HeatingPower float64   `db:"heating_power"`
}

type InsertControlSampleParams struct {
	ZoneName     string    `db:"zone_name"`
	Ts           time.Time `db:"ts"`
	RoomTemp     float64   `db:"room_temp"`
	OutdoorTemp  float64   `db:"outdoor_temp"`
	HeatingPower float64   `db:"heating_power"`
}

func (q *Queries) InsertControlSample(ctx context.Context, arg InsertControlSampleParams) error {
	_, err := q.db.NamedExecContext(ctx,
		`INSERT INTO control_samples (zone_name, ts, room_temp, outdoor_temp, heating_power)
		 VALUES (:zone_name, :ts, :room_temp, :outdoor_temp, :heating_power)`, arg)
	return errors.Wrap(err, "insert control sample")
}

func (q *Queries) ListControlSamples(ctx context.Context, zoneName string, since time.Time) ([]ControlSample, error) {
	var samples []ControlSample
	err := q.db.SelectContext(ctx, &samples,
		`SELECT id, zone_name, ts, room_temp, outdoor_temp, heating_power
		   FROM control_samples
		  WHERE zone_name = ? AND ts >= ?
		  ORDER BY ts ASC`, zoneName, since)
	return samples, errors.Wrap(err, "list control samples")
}

// PruneControlSamples drops samples older than the cutoff; the trainer only
// ever looks back a bounded window.
func (q *Queries) PruneControlSamples(ctx context.Context, zoneName string, before time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM control_samples WHERE zone_name = ? AND ts < ?`, zoneName, before)
	return errors.Wrap(err, "prune control samples")
}
