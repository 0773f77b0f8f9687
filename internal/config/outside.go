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

const defaultForecastMaxAgeHours = 1.0

// OutsideConfig covers outdoor temperature sensing and the forecast feed
// shared by all zones.
type OutsideConfig struct {
	TemperatureSensors     []*SensorConfig `yaml:"temperature_sensors"`
	TemperatureAverageType string          `yaml:"temperature_average_type"`

	// ForecastTopic carries an outdoor temperature forecast as a plain
	// JSON array of hourly values, the first valid at publish time. Empty
	// means no forecast feed; the live outdoor reading is held flat
	// instead.
	ForecastTopic       string   `yaml:"forecast_topic,omitempty"`
	ForecastMaxAgeHours *float64 `yaml:"forecast_max_age_hours,omitempty"`
}

// NewOutsideConfig creates a new OutsideConfig with default values
func NewOutsideConfig() *OutsideConfig {
	cfg := &OutsideConfig{}
	cfg.FillDefaults()
	return cfg
}

// FillDefaults sets default values for the OutsideConfig
func (c *OutsideConfig) FillDefaults() {
	for _, s := range c.TemperatureSensors {
		s.FillDefaults()
	}
	if c.TemperatureAverageType == "" {
		c.TemperatureAverageType = DefaultAverageType
	}
	if c.ForecastMaxAgeHours == nil {
		c.ForecastMaxAgeHours = GetPTR(defaultForecastMaxAgeHours)
	}
}
