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

// Package pi implements the discrete PI fallback controller with
// back-calculation anti-windup. It has no dependency on the thermal model,
// which is exactly why it serves as the failsafe path.
package pi

import (
	"github.com/antst/mzatc/internal/logger"
)

const (
	DefaultKp              = 10.0
	DefaultTi              = 1500.0 // [s]
	DefaultDt              = 600.0  // [s]
	DefaultAntiWindupLimit = 100.0
)

// State mutated on every control step.
type State struct {
	Integral   float64
	LastError  float64
	LastOutput float64
	Saturated  bool
}

// Controller is a discrete PI controller:
//
//	u(k) = Kp·e(k) + (Kp/Ti)·integral
//
// The integral accumulates e·dt only while the previous output was not
// saturated, and is additionally hard-clamped. Ti=0 degenerates to pure
// proportional control.
type Controller struct {
	kp              float64
	ti              float64
	dt              float64
	outputMin       float64
	outputMax       float64
	antiWindupLimit float64

	state State
}

func New(kp, ti, dt, outputMin, outputMax, antiWindupLimit float64) *Controller {
	c := &Controller{
		kp:              kp,
		ti:              ti,
		dt:              dt,
		outputMin:       outputMin,
		outputMax:       outputMax,
		antiWindupLimit: antiWindupLimit,
	}
	logger.L().Infof(
		"PI controller: Kp=%.2f, Ti=%.1fs, dt=%.1fs, output=[%.1f, %.1f]",
		kp, ti, dt, outputMin, outputMax,
	)
	return c
}

// NewDefault returns a controller with the floor-heating defaults and the
// given output range.
func NewDefault(outputMin, outputMax float64) *Controller {
	return New(DefaultKp, DefaultTi, DefaultDt, outputMin, outputMax, DefaultAntiWindupLimit)
}

// Update computes the control output for one step. dt<=0 selects the
// configured sampling time. The saturation observed here gates integration
// on the next call.
func (c *Controller) Update(setpoint, measurement, dt float64) float64 {
	if dt <= 0 {
		dt = c.dt
	}

	err := setpoint - measurement
	pTerm := c.kp * err

	if !c.state.Saturated {
		c.state.Integral += err * dt
	}

	var iTerm float64
	if c.ti > 0 {
		maxIntegral := c.antiWindupLimit / (c.kp / c.ti)
		c.state.Integral = clamp(c.state.Integral, -maxIntegral, maxIntegral)
		iTerm = (c.kp / c.ti) * c.state.Integral
	} else {
		c.state.Integral = 0
	}

	output := pTerm + iTerm
	saturated := clamp(output, c.outputMin, c.outputMax)

	c.state.Saturated = output != saturated
	c.state.LastError = err
	c.state.LastOutput = saturated

	logger.L().Debugf(
		"PI update: e=%.2f, P=%.2f, I=%.2f (int=%.2f), u=%.2f saturated=%v",
		err, pTerm, iTerm, c.state.Integral, saturated, c.state.Saturated,
	)
	return saturated
}

// Reset zeroes all state. Call when heating is disabled or the setpoint
// jumps discontinuously.
func (c *Controller) Reset() {
	c.state = State{}
	logger.L().Debug("PI controller state reset")
}

// SetParameters updates the gains between cycles. Zero values keep the
// current setting.
func (c *Controller) SetParameters(kp, ti, dt float64) {
	if kp != 0 {
		c.kp = kp
	}
	if ti != 0 {
		c.ti = ti
	}
	if dt != 0 {
		c.dt = dt
	}
	logger.L().Infof("PI parameters updated: Kp=%.2f, Ti=%.1fs, dt=%.1fs", c.kp, c.ti, c.dt)
}

// State returns a snapshot of the controller state.
func (c *Controller) State() State { return c.state }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
