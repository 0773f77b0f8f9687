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

const schema = `
CREATE TABLE IF NOT EXISTS controller_values (
    name  TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS zone_setpoints (
    zone_name TEXT PRIMARY KEY,
    setpoint  REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS sensor_values (
    sensor_name TEXT PRIMARY KEY,
    value       REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS model_parameters (
    zone_name  TEXT PRIMARY KEY,
    r          REAL NOT NULL,
    c          REAL NOT NULL,
    rmse       REAL NOT NULL DEFAULT 0,
    n_samples  INTEGER NOT NULL DEFAULT 0,
    trained_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS control_samples (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    zone_name     TEXT NOT NULL,
    ts            TIMESTAMP NOT NULL,
    room_temp     REAL NOT NULL,
    outdoor_temp  REAL NOT NULL,
    heating_power REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_control_samples_zone_ts
    ON control_samples (zone_name, ts);
`
