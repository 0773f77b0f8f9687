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
	"encoding/json"
	"math"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/antst/mzatc/internal/config"
	"github.com/antst/mzatc/internal/db"
	"github.com/antst/mzatc/internal/logger"
	"github.com/antst/mzatc/internal/safe_mqtt"
)

const (
	outsidePrefix     = "outside-temperature-"
	mqttOutsidePrefix = "mzatc-outside-"

	// Published forecasts carry one point per hour.
	forecastPointInterval = 3600.0
)

// ForecastController manages outdoor sensors and the weather forecast feed,
// and serves outdoor trajectories to the zone optimizers.
type ForecastController struct {
	mu                          sync.RWMutex
	cfg                         *config.OutsideConfig
	mqtt                        safe_mqtt.MqttClient
	queries                     *db.Queries
	temperatureSensors          []*SensorController
	childChan                   chan bool
	averageTemperature          float64
	averageTemperatureTimestamp time.Time
	averageTemperatureFunc      func([]*SensorController) (float64, time.Time)

	// Parallel slices: temperature at offset seconds past forecastTime.
	forecastOffsets []float64
	forecastTemps   []float64
	forecastTime    time.Time
}

// forecastPoint is one entry of the object payload form. Hour is the offset
// from publish time; missing hours default to the entry index.
type forecastPoint struct {
	Hour        *float64 `json:"hour"`
	Temperature float64  `json:"temperature"`
}

func NewForecastController(
	_cfg *config.OutsideConfig, _mqttCfg *config.MQTTConfig, _q *db.Queries,
) *ForecastController {
	o := &ForecastController{
		cfg:                         _cfg,
		queries:                     _q,
		averageTemperatureTimestamp: zeroTS,
		childChan:                   make(chan bool, childChanBuffer),
	}
	o.LinkAverageFun()

	o.temperatureSensors = make([]*SensorController, len(o.cfg.TemperatureSensors))
	for i, sensor := range o.cfg.TemperatureSensors {
		sName := outsidePrefix
		if sensor.Name == "" {
			sName += strconv.Itoa(i + 1)
		} else {
			sName += sensor.Name
		}
		o.temperatureSensors[i] = NewSensorController(sName, sensor, _mqttCfg, o.queries, o.childChan)
	}

	go o.childProcessor()
	o.updateTemperatureAverage()
	o.mqtt = safe_mqtt.InitMQTTClient(_mqttCfg.URL, mqttOutsidePrefix+uuid.New().String())
	if o.cfg.ForecastTopic != "" {
		o.mqtt.SafeSubscribe(o.cfg.ForecastTopic, mqttQoS, o.forecastUpdateHandler)
	}
	return o
}

func (o *ForecastController) childProcessor() {
	for range o.childChan {
		o.updateTemperatureAverage()
	}
}

func (o *ForecastController) updateTemperatureAverage() {
	v, t := o.averageTemperatureFunc(o.temperatureSensors)
	if t.After(zeroTS) {
		o.mu.Lock()
		o.averageTemperatureTimestamp = t
		o.averageTemperature = v
		o.mu.Unlock()
	}
}

func (o *ForecastController) LinkAverageFun() {
	if o.cfg.TemperatureAverageType == "mean" {
		o.averageTemperatureFunc = sensorsMean
	} else {
		logger.L().Errorf("Unknown average function type: %v", o.cfg.TemperatureAverageType)
		logger.L().Error("Reverting to the `mean`")
		o.cfg.TemperatureAverageType = config.DefaultAverageType
		o.averageTemperatureFunc = sensorsMean
	}
}

// forecastUpdateHandler accepts either a plain JSON array of hourly outdoor
// temperatures or an array of {hour, temperature} points, the first valid at
// the time of receipt.
func (o *ForecastController) forecastUpdateHandler(client mqtt.Client, message mqtt.Message) {
	offsets, temps, err := parseForecastPayload(message.Payload())
	if err != nil {
		logger.L().Errorf("Bad forecast payload on %v: %v", message.Topic(), err)
		return
	}
	o.mu.Lock()
	o.forecastOffsets = offsets
	o.forecastTemps = temps
	o.forecastTime = time.Now()
	o.mu.Unlock()
	logger.L().Debugf("Got outdoor forecast with %d points", len(temps))
}

func parseForecastPayload(payload []byte) (offsets, temps []float64, err error) {
	var plain []float64
	if err := json.Unmarshal(payload, &plain); err == nil {
		if len(plain) == 0 {
			return nil, nil, errors.New("empty forecast")
		}
		offsets = make([]float64, len(plain))
		for i := range plain {
			offsets[i] = float64(i) * forecastPointInterval
		}
		return offsets, plain, nil
	}

	var points []forecastPoint
	if err := json.Unmarshal(payload, &points); err != nil {
		return nil, nil, errors.Wrap(err, "unmarshal forecast")
	}
	if len(points) == 0 {
		return nil, nil, errors.New("empty forecast")
	}
	offsets = make([]float64, len(points))
	temps = make([]float64, len(points))
	prev := math.Inf(-1)
	for i, p := range points {
		offset := float64(i) * forecastPointInterval
		if p.Hour != nil {
			offset = *p.Hour * forecastPointInterval
		}
		if offset <= prev {
			return nil, nil, errors.Errorf("forecast hours not strictly increasing at index %d", i)
		}
		offsets[i] = offset
		temps[i] = p.Temperature
		prev = offset
	}
	return offsets, temps, nil
}

// CurrentOutdoor returns the weighted average of the live outdoor sensors.
func (o *ForecastController) CurrentOutdoor() (float64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.averageTemperatureTimestamp.After(zeroTS) {
		return 0, errors.New("no outdoor temperature reading yet")
	}
	return o.averageTemperature, nil
}

// Forecast returns an outdoor trajectory of `steps` points sampled every
// `dt` seconds, starting one step ahead of now. With a forecast feed
// configured, a stale or missing forecast is an error (the supervisor
// handles the fallback); without one, the live outdoor reading is held
// flat over the horizon.
func (o *ForecastController) Forecast(steps int, dt float64) ([]float64, error) {
	if steps <= 0 {
		return nil, errors.New("forecast horizon must be positive")
	}

	o.mu.RLock()
	offsets := o.forecastOffsets
	temps := o.forecastTemps
	forecastTime := o.forecastTime
	haveLive := o.averageTemperatureTimestamp.After(zeroTS)
	live := o.averageTemperature
	o.mu.RUnlock()
	maxAge := time.Duration(*o.cfg.ForecastMaxAgeHours * float64(time.Hour))

	if o.cfg.ForecastTopic != "" {
		if len(temps) == 0 {
			return nil, errors.New("no outdoor forecast received yet")
		}
		age := time.Since(forecastTime)
		if age > maxAge {
			return nil, errors.Errorf("outdoor forecast is stale (age %v)", age.Round(time.Second))
		}
		out := make([]float64, steps)
		start := age.Seconds()
		for k := 0; k < steps; k++ {
			out[k] = interpolateForecast(offsets, temps, start+float64(k+1)*dt)
		}
		return out, nil
	}

	if !haveLive {
		return nil, errors.New("no outdoor temperature reading yet")
	}
	out := make([]float64, steps)
	for k := range out {
		out[k] = live
	}
	return out, nil
}

// interpolateForecast linearly evaluates the forecast polyline at `offset`
// seconds past its first point, holding the edges beyond the published
// range.
func interpolateForecast(offsets, temps []float64, offset float64) float64 {
	if offset <= offsets[0] {
		return temps[0]
	}
	last := len(offsets) - 1
	if offset >= offsets[last] {
		return temps[last]
	}
	i := 0
	for offsets[i+1] < offset {
		i++
	}
	frac := (offset - offsets[i]) / (offsets[i+1] - offsets[i])
	return temps[i] + frac*(temps[i+1]-temps[i])
}
