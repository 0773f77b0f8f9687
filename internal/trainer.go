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
	"time"

	"github.com/pkg/errors"

	"github.com/antst/mzatc/internal/db"
	"github.com/antst/mzatc/internal/estimator"
	"github.com/antst/mzatc/internal/logger"
	"github.com/antst/mzatc/internal/thermal"
)

// Sample pairs further apart than this multiple of dt belong to different
// runs and are not used as one-step transitions.
const trainingGapFactor = 1.5

// Trainer periodically re-estimates the thermal model of one zone from the
// recorded control history and swaps the new parameters in when they
// validate better than the acceptance threshold.
type Trainer struct {
	zone    *ZoneController
	queries *db.Queries
}

func NewTrainer(zone *ZoneController, queries *db.Queries) *Trainer {
	return &Trainer{zone: zone, queries: queries}
}

// run retrains on the configured interval until the context is cancelled.
// The first attempt happens shortly after start so a freshly restarted
// controller regains its model without waiting a full interval.
func (t *Trainer) run(ctx context.Context) {
	ctl := t.zone.cfg.Control
	interval := time.Duration(*ctl.TrainingIntervalHours * float64(time.Hour))

	timer := time.NewTimer(time.Minute)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := t.TrainOnce(ctx); err != nil {
				logger.L().Warnf("Training for zone %v skipped: %v", t.zone.name, err)
			}
			timer.Reset(interval)
		}
	}
}

// TrainOnce runs one batch estimation pass over the recorded history.
func (t *Trainer) TrainOnce(ctx context.Context) error {
	ctl := t.zone.cfg.Control
	dt := *ctl.Dt
	now := time.Now()
	since := now.AddDate(0, 0, -*ctl.TrainingDays)

	samples, err := t.queries.ListControlSamples(ctx, t.zone.name, since)
	if err != nil {
		return err
	}
	if len(samples) < 2 {
		return errors.Errorf("not enough samples: %d", len(samples))
	}

	coverage := samples[len(samples)-1].Ts.Sub(samples[0].Ts)
	minCoverage := time.Duration(*ctl.MinTrainingDays) * 24 * time.Hour
	if coverage < minCoverage {
		return errors.Errorf("history covers %v, need at least %v", coverage.Round(time.Hour), minCoverage)
	}

	est := estimator.New(dt, *ctl.ForgettingFactor, t.seedParameters())

	maxGap := trainingGapFactor * dt
	nPairs := 0
	for i := 1; i < len(samples); i++ {
		gap := samples[i].Ts.Sub(samples[i-1].Ts).Seconds()
		if gap <= 0 || gap > maxGap {
			continue
		}
		prev := samples[i-1]
		est.Update(samples[i].RoomTemp, prev.RoomTemp, prev.HeatingPower, prev.OutdoorTemp)
		nPairs++
	}
	if nPairs == 0 {
		return errors.New("no usable sample transitions")
	}

	params, ok := est.ExtractParameters()
	if !ok {
		return errors.Errorf("estimate did not converge to a physical model after %d updates", nPairs)
	}

	model, err := thermal.NewModel(params, dt)
	if err != nil {
		return err
	}
	metrics := validateModel(model, samples, maxGap)
	if !metrics.Good(*ctl.MaxRMSE) {
		return errors.Errorf(
			"estimated model rejected: RMSE=%.3f over %d samples (limit %.3f)",
			metrics.RMSE, metrics.NSamples, *ctl.MaxRMSE,
		)
	}

	if err := t.zone.InstallModel(params); err != nil {
		return err
	}
	logger.L().Infof(
		"Zone %v retrained: R=%.5f, C=%.0f, tau=%.0fs, RMSE=%.3f, R2=%.3f (%d pairs)",
		t.zone.name, params.R, params.C, params.TimeConstant(), metrics.RMSE, metrics.RSquared, nPairs,
	)

	err = t.queries.UpsertModelParameters(ctx, db.ModelParametersRow{
		ZoneName:  t.zone.name,
		R:         params.R,
		C:         params.C,
		RMSE:      metrics.RMSE,
		NSamples:  metrics.NSamples,
		TrainedAt: now,
	})
	if err != nil {
		logger.L().Error(err)
	}

	// History beyond the training window is never read again.
	if err := t.queries.PruneControlSamples(ctx, t.zone.name, since); err != nil {
		logger.L().Error(err)
	}
	return nil
}

// seedParameters biases the estimator towards the current model when one
// exists, so retraining refines rather than restarts.
func (t *Trainer) seedParameters() *thermal.Parameters {
	model := t.zone.Model()
	if model == nil {
		return nil
	}
	p := model.Parameters()
	return &p
}
