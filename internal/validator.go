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
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/antst/mzatc/internal/db"
	"github.com/antst/mzatc/internal/thermal"
)

// FitMetrics summarizes one-step prediction quality of a model over a
// sample window. By construction MAE <= RMSE <= MaxError.
type FitMetrics struct {
	MAE      float64 `json:"mae"`
	RMSE     float64 `json:"rmse"`
	MaxError float64 `json:"max_error"`
	RSquared float64 `json:"r_squared"`
	NSamples int     `json:"n_samples"`
}

// Good reports whether the fit is usable for control.
func (m FitMetrics) Good(rmseThreshold float64) bool {
	return m.NSamples > 0 && m.RMSE <= rmseThreshold
}

// validateModel replays the sample window through the model one step at a
// time and compares predicted against measured temperatures. Pairs split
// by a gap larger than maxGap are skipped.
func validateModel(model *thermal.Model, samples []db.ControlSample, maxGap float64) FitMetrics {
	coeffs := model.Coefficients()

	var predicted, measured []float64
	for i := 1; i < len(samples); i++ {
		gap := samples[i].Ts.Sub(samples[i-1].Ts).Seconds()
		if gap <= 0 || gap > maxGap {
			continue
		}
		prev := samples[i-1]
		predicted = append(predicted, coeffs.Step(prev.RoomTemp, prev.HeatingPower, prev.OutdoorTemp))
		measured = append(measured, samples[i].RoomTemp)
	}
	return calculateMetrics(predicted, measured)
}

func calculateMetrics(predicted, measured []float64) FitMetrics {
	n := len(predicted)
	if n == 0 {
		return FitMetrics{}
	}

	absErr := make([]float64, n)
	sqErr := make([]float64, n)
	maxErr := 0.0
	for i := range predicted {
		e := measured[i] - predicted[i]
		absErr[i] = math.Abs(e)
		sqErr[i] = e * e
		if absErr[i] > maxErr {
			maxErr = absErr[i]
		}
	}

	mae := stat.Mean(absErr, nil)
	rmse := math.Sqrt(stat.Mean(sqErr, nil))

	// R^2 against the variance of the measurements.
	meanMeasured := stat.Mean(measured, nil)
	ssTot := 0.0
	for _, y := range measured {
		d := y - meanMeasured
		ssTot += d * d
	}
	r2 := 0.0
	if ssTot > 0 {
		ssRes := 0.0
		for _, e := range sqErr {
			ssRes += e
		}
		r2 = 1 - ssRes/ssTot
	}

	return FitMetrics{MAE: mae, RMSE: rmse, MaxError: maxErr, RSquared: r2, NSamples: n}
}
