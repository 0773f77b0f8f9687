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

const (
	defaultDt = 600.0 // control cycle period [s]

	// MPC
	defaultNp       = 24
	defaultNc       = 12
	defaultWComfort = 1.0
	defaultWEnergy  = 0.1
	defaultWSmooth  = 0.1
	defaultUMin     = 0.0
	defaultUMax     = 2000.0
	defaultDuMax    = 500.0

	// PI
	defaultKp              = 10.0
	defaultTi              = 1500.0
	defaultAntiWindupLimit = 100.0

	// Failsafe
	defaultMaxFailures      = 3
	defaultSuccessToRecover = 5
	defaultTimeoutSeconds   = 10.0
	defaultRetrySeconds     = 3600.0

	// Estimation / training
	defaultForgettingFactor = 0.98
	defaultTrainingDays     = 30
	defaultMinTrainingDays  = 7
	defaultTrainingHours    = 6.0
	defaultMaxRMSE          = 2.0
)

// ControlConfig gathers the per-zone control engine settings. The top-level
// `control:` block supplies defaults; a zone-level block overrides fields
// individually.
type ControlConfig struct {
	Dt *float64 `yaml:"dt,omitempty"`

	// Initial model parameters, used until the trainer produces a
	// calibrated pair. Both must be set for a zone to start with MPC.
	R *float64 `yaml:"r,omitempty"`
	C *float64 `yaml:"c,omitempty"`

	Np       *int     `yaml:"np,omitempty"`
	Nc       *int     `yaml:"nc,omitempty"`
	WComfort *float64 `yaml:"w_comfort,omitempty"`
	WEnergy  *float64 `yaml:"w_energy,omitempty"`
	WSmooth  *float64 `yaml:"w_smooth,omitempty"`
	UMin     *float64 `yaml:"u_min,omitempty"`
	UMax     *float64 `yaml:"u_max,omitempty"`
	DuMax    *float64 `yaml:"du_max,omitempty"`

	Kp              *float64 `yaml:"kp,omitempty"`
	Ti              *float64 `yaml:"ti,omitempty"`
	AntiWindupLimit *float64 `yaml:"anti_windup_limit,omitempty"`

	MaxFailures          *int     `yaml:"max_failures,omitempty"`
	SuccessToRecover     *int     `yaml:"success_to_recover,omitempty"`
	TimeoutSeconds       *float64 `yaml:"timeout_seconds,omitempty"`
	RetryIntervalSeconds *float64 `yaml:"retry_interval_seconds,omitempty"`

	ForgettingFactor      *float64 `yaml:"forgetting_factor,omitempty"`
	TrainingDays          *int     `yaml:"training_days,omitempty"`
	MinTrainingDays       *int     `yaml:"min_training_days,omitempty"`
	TrainingIntervalHours *float64 `yaml:"training_interval_hours,omitempty"`
	MaxRMSE               *float64 `yaml:"max_rmse,omitempty"`
}

func NewControlConfig() *ControlConfig {
	cfg := &ControlConfig{}
	cfg.FillDefaults()
	return cfg
}

func (c *ControlConfig) FillDefaults() {
	fillF64(&c.Dt, defaultDt)
	fillInt(&c.Np, defaultNp)
	fillInt(&c.Nc, defaultNc)
	fillF64(&c.WComfort, defaultWComfort)
	fillF64(&c.WEnergy, defaultWEnergy)
	fillF64(&c.WSmooth, defaultWSmooth)
	fillF64(&c.UMin, defaultUMin)
	fillF64(&c.UMax, defaultUMax)
	fillF64(&c.DuMax, defaultDuMax)
	fillF64(&c.Kp, defaultKp)
	fillF64(&c.Ti, defaultTi)
	fillF64(&c.AntiWindupLimit, defaultAntiWindupLimit)
	fillInt(&c.MaxFailures, defaultMaxFailures)
	fillInt(&c.SuccessToRecover, defaultSuccessToRecover)
	fillF64(&c.TimeoutSeconds, defaultTimeoutSeconds)
	fillF64(&c.RetryIntervalSeconds, defaultRetrySeconds)
	fillF64(&c.ForgettingFactor, defaultForgettingFactor)
	fillInt(&c.TrainingDays, defaultTrainingDays)
	fillInt(&c.MinTrainingDays, defaultMinTrainingDays)
	fillF64(&c.TrainingIntervalHours, defaultTrainingHours)
	fillF64(&c.MaxRMSE, defaultMaxRMSE)
}

// MergeFrom copies values from the parent for fields left unset by the
// zone-level block.
func (c *ControlConfig) MergeFrom(parent *ControlConfig) {
	if parent == nil {
		c.FillDefaults()
		return
	}
	mergeF64(&c.Dt, parent.Dt)
	mergeF64(&c.R, parent.R)
	mergeF64(&c.C, parent.C)
	mergeInt(&c.Np, parent.Np)
	mergeInt(&c.Nc, parent.Nc)
	mergeF64(&c.WComfort, parent.WComfort)
	mergeF64(&c.WEnergy, parent.WEnergy)
	mergeF64(&c.WSmooth, parent.WSmooth)
	mergeF64(&c.UMin, parent.UMin)
	mergeF64(&c.UMax, parent.UMax)
	mergeF64(&c.DuMax, parent.DuMax)
	mergeF64(&c.Kp, parent.Kp)
	mergeF64(&c.Ti, parent.Ti)
	mergeF64(&c.AntiWindupLimit, parent.AntiWindupLimit)
	mergeInt(&c.MaxFailures, parent.MaxFailures)
	mergeInt(&c.SuccessToRecover, parent.SuccessToRecover)
	mergeF64(&c.TimeoutSeconds, parent.TimeoutSeconds)
	mergeF64(&c.RetryIntervalSeconds, parent.RetryIntervalSeconds)
	mergeF64(&c.ForgettingFactor, parent.ForgettingFactor)
	mergeInt(&c.TrainingDays, parent.TrainingDays)
	mergeInt(&c.MinTrainingDays, parent.MinTrainingDays)
	mergeF64(&c.TrainingIntervalHours, parent.TrainingIntervalHours)
	mergeF64(&c.MaxRMSE, parent.MaxRMSE)
	c.FillDefaults()
}

func fillF64(p **float64, def float64) {
	if *p == nil {
		*p = GetPTR(def)
	}
}

func fillInt(p **int, def int) {
	if *p == nil {
		*p = GetPTR(def)
	}
}

func mergeF64(dst **float64, src *float64) {
	if *dst == nil && src != nil {
		*dst = GetPTR(*src)
	}
}

func mergeInt(dst **int, src *int) {
	if *dst == nil && src != nil {
		*dst = GetPTR(*src)
	}
}
