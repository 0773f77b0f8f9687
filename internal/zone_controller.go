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
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/antst/mzatc/internal/config"
	"github.com/antst/mzatc/internal/logger"
	"github.com/antst/mzatc/internal/safe_mqtt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/antst/mzatc/internal/db"
	"github.com/antst/mzatc/internal/mpc"
	"github.com/antst/mzatc/internal/pi"
	"github.com/antst/mzatc/internal/thermal"
)

// ZoneController owns everything for one heating zone: its sensors and
// setpoint feeds, the thermal model, the MPC/PI supervisor and the control
// loop that commands the zone actuator.
type ZoneController struct {
	name               string
	mu                 sync.RWMutex
	cfg                *config.ZoneConfig
	mqtt               safe_mqtt.MqttClient
	sensors            []*SensorController
	queries            *db.Queries
	forecast           *ForecastController
	setpoint           float64
	setpointTimestamp  time.Time
	averageTemperature float64
	averageTimestamp   time.Time
	averageFunc        func([]*SensorController) (float64, time.Time)
	childChan          chan bool

	enabled func() bool

	model  *thermal.Model
	mpcCtl *mpc.Controller
	sup    *Supervisor

	statusTopic string
	wasEnabled  bool
}

func newZoneController(
	_name string, _cfg *config.ZoneConfig, _mqttCfg *config.MQTTConfig, _q *db.Queries,
	_forecast *ForecastController, _notify func(Event), _enabled func() bool,
) *ZoneController {
	z := &ZoneController{
		name:              _name,
		cfg:               _cfg,
		queries:           _q,
		forecast:          _forecast,
		enabled:           _enabled,
		setpointTimestamp: zeroTS,
		averageTimestamp:  zeroTS,
		childChan:         make(chan bool, childChanBuffer),
		statusTopic:       _mqttCfg.ControlTopic + "/zone/" + _name + "/status",
		wasEnabled:        true,
	}

	z.LinkAverageFun()
	if err := z.readState(); err == nil {
		logger.L().Debugf("Loaded previous setpoint from DB for zone %v: %v", z.name, z.setpoint)
		z.setpointTimestamp = time.Now()
	}
	z.mqtt = safe_mqtt.InitMQTTClient(_mqttCfg.URL, "mzatc-zone-"+z.name+"-"+uuid.New().String())

	z.mqtt.SafeSubscribe(_cfg.Setpoint.Topic, mqttQoS, z.setpointUpdateHandler)

	zoneMQTTgroup := _mqttCfg.ControlTopic + "/zone/" + z.name + "/"
	z.mqtt.SafeSubscribe(zoneMQTTgroup+"sensors_average_type", mqttQoS, z.controlUpdateHandler)
	z.mqtt.SafeSubscribe(zoneMQTTgroup+"weight", mqttQoS, z.controlUpdateHandler)
	z.mqtt.SafeSubscribe(zoneMQTTgroup+"w_comfort", mqttQoS, z.controlUpdateHandler)
	z.mqtt.SafeSubscribe(zoneMQTTgroup+"w_energy", mqttQoS, z.controlUpdateHandler)
	z.mqtt.SafeSubscribe(zoneMQTTgroup+"w_smooth", mqttQoS, z.controlUpdateHandler)
	z.mqtt.SafeSubscribe(zoneMQTTgroup+"pi_reset", mqttQoS, z.controlUpdateHandler)

	z.sensors = make([]*SensorController, len(z.cfg.Sensors))
	for i, sensor := range z.cfg.Sensors {
		sName := "zone-" + z.name + "-"
		if sensor.Name == "" {
			sName += strconv.Itoa(i + 1)
		} else {
			sName += sensor.Name
		}

		z.sensors[i] = NewSensorController(sName, sensor, _mqttCfg, z.queries, z.childChan)
	}
	go z.childProcessor()
	z.updateAverage()

	ctl := z.cfg.Control
	piCtl := pi.New(*ctl.Kp, *ctl.Ti, *ctl.Dt, *ctl.UMin, *ctl.UMax, *ctl.AntiWindupLimit)
	z.sup = NewSupervisor(z.name, FailsafeConfig{
		Dt:               *ctl.Dt,
		MaxFailures:      *ctl.MaxFailures,
		SuccessToRecover: *ctl.SuccessToRecover,
		Timeout:          time.Duration(*ctl.TimeoutSeconds * float64(time.Second)),
		RetryInterval:    time.Duration(*ctl.RetryIntervalSeconds * float64(time.Second)),
	}, piCtl, _forecast.Forecast, _notify)

	z.bootstrapModel()

	return z
}

// bootstrapModel installs the thermal model from persisted training results
// when available, or from configured initial parameters. Without either the
// zone runs PI-only until the trainer produces a calibrated pair.
func (z *ZoneController) bootstrapModel() {
	row, err := z.queries.GetModelParameters(context.Background(), z.name)
	if err == nil {
		if err := z.InstallModel(thermal.Parameters{R: row.R, C: row.C}); err != nil {
			logger.L().Errorf("Persisted model parameters for zone %v are unusable: %v", z.name, err)
		} else {
			logger.L().Infof(
				"Zone %v model restored from DB: R=%.5f, C=%.0f (RMSE=%.3f, trained %v)",
				z.name, row.R, row.C, row.RMSE, row.TrainedAt,
			)
			return
		}
	}

	ctl := z.cfg.Control
	if ctl.R != nil && ctl.C != nil {
		if err := z.InstallModel(thermal.Parameters{R: *ctl.R, C: *ctl.C}); err != nil {
			logger.L().Errorf("Configured model parameters for zone %v are unusable: %v", z.name, err)
			return
		}
		logger.L().Infof("Zone %v model initialized from config: R=%.5f, C=%.0f", z.name, *ctl.R, *ctl.C)
		return
	}

	logger.L().Warnf("Zone %v has no thermal model yet, running PI until first training", z.name)
}

// InstallModel creates or retunes the thermal model. The first successful
// call also builds the MPC controller and hands it to the supervisor; later
// calls swap parameters atomically under the running optimizer.
func (z *ZoneController) InstallModel(params thermal.Parameters) error {
	z.mu.Lock()
	defer z.mu.Unlock()

	if z.model != nil {
		return z.model.SetParameters(params)
	}

	ctl := z.cfg.Control
	model, err := thermal.NewModel(params, *ctl.Dt)
	if err != nil {
		return err
	}

	mpcCtl, err := mpc.New(model, mpc.Config{
		Np:       *ctl.Np,
		Nc:       *ctl.Nc,
		Dt:       *ctl.Dt,
		WComfort: *ctl.WComfort,
		WEnergy:  *ctl.WEnergy,
		WSmooth:  *ctl.WSmooth,
		UMin:     *ctl.UMin,
		UMax:     *ctl.UMax,
		DuMax:    *ctl.DuMax,
	})
	if err != nil {
		return err
	}

	z.model = model
	z.mpcCtl = mpcCtl
	z.sup.SetOptimizer(mpcCtl)
	return nil
}

// Model returns the zone thermal model, nil before the first calibration.
func (z *ZoneController) Model() *thermal.Model {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.model
}

// run is the control loop; one cycle every dt seconds until the context is
// cancelled.
func (z *ZoneController) run(ctx context.Context) {
	dt := time.Duration(*z.cfg.Control.Dt * float64(time.Second))
	ticker := time.NewTicker(dt)
	defer ticker.Stop()

	logger.L().Infof("Zone %v control loop started (dt=%v)", z.name, dt)
	for {
		select {
		case <-ctx.Done():
			logger.L().Infof("Zone %v control loop stopped", z.name)
			return
		case <-ticker.C:
			z.step(ctx)
		}
	}
}

func (z *ZoneController) step(ctx context.Context) {
	if !z.enabled() {
		if z.wasEnabled {
			logger.L().Infof("Heating disabled, zone %v commands 0W and resets controllers", z.name)
			z.sup.ResetControllers()
			z.wasEnabled = false
		}
		z.publishCommand(0)
		return
	}
	z.wasEnabled = true

	setpoint, current, ok := z.getPair()
	if !ok {
		logger.L().Warnf("Zone %v has no setpoint/temperature pair yet, skipping cycle", z.name)
		return
	}

	u := z.sup.Cycle(ctx, current, setpoint)
	z.publishCommand(u)
	z.recordSample(ctx, current, u)
	z.publishStatus(setpoint, current)
}

func (z *ZoneController) publishCommand(u float64) {
	z.mqtt.SafePublish(z.cfg.CommandTopic, mqttQoS, false, strconv.FormatFloat(u, 'f', 1, 64))
}

func (z *ZoneController) recordSample(ctx context.Context, current, u float64) {
	outdoor, err := z.forecast.CurrentOutdoor()
	if err != nil {
		logger.L().Debugf("Zone %v sample not recorded: %v", z.name, err)
		return
	}
	err = z.queries.InsertControlSample(ctx, db.InsertControlSampleParams{
		ZoneName:     z.name,
		Ts:           time.Now(),
		RoomTemp:     current,
		OutdoorTemp:  outdoor,
		HeatingPower: u,
	})
	if err != nil {
		logger.L().Error(err)
	}
}

type zoneStatus struct {
	Zone        string  `json:"zone"`
	Setpoint    float64 `json:"setpoint"`
	Temperature float64 `json:"temperature"`
	SupervisorStatus
}

func (z *ZoneController) publishStatus(setpoint, current float64) {
	st := zoneStatus{
		Zone:             z.name,
		Setpoint:         setpoint,
		Temperature:      current,
		SupervisorStatus: z.sup.Status(),
	}
	payload, err := json.Marshal(st)
	if err != nil {
		logger.L().Error(err)
		return
	}
	z.mqtt.SafePublish(z.statusTopic, mqttQoS, true, payload)
}

func (z *ZoneController) getPair() (float64, float64, bool) {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.setpoint, z.averageTemperature, z.setpointTimestamp.After(zeroTS) && z.averageTimestamp.After(zeroTS)
}

func (z *ZoneController) childProcessor() {
	for range z.childChan {
		z.updateAverage()
	}
}

func (z *ZoneController) LinkAverageFun() {
	if z.cfg.SensorsAverageType == config.DefaultAverageType {
		z.averageFunc = sensorsMean
	} else {
		logger.L().Errorf("Unknown average function type: %v", z.cfg.SensorsAverageType)
		logger.L().Error("Reverting to the `mean`")
		z.cfg.SensorsAverageType = config.DefaultAverageType
		z.averageFunc = sensorsMean
	}
}

func (z *ZoneController) updateAverage() {
	v, t := z.averageFunc(z.sensors)
	if t.After(zeroTS) {
		z.mu.Lock()
		z.averageTimestamp = t
		z.averageTemperature = v
		z.mu.Unlock()
	}
}

func (z *ZoneController) setpointUpdateHandler(client mqtt.Client, message mqtt.Message) {
	t0, err := extractF64PlainOrJson(message, z.cfg.Setpoint.JSONEntry)
	if err != nil {
		logger.L().Error(err)
		return
	}

	z.mu.Lock()
	z.setpoint = t0*(*z.cfg.Setpoint.Scale) + (*z.cfg.Setpoint.Offset)
	z.setpointTimestamp = time.Now()
	logger.L().Debugf("Got setpoint for zone %s : %f", z.name, z.setpoint)
	z.mu.Unlock()

	if err := z.writeState(); err != nil {
		logger.L().Error(err)
	}
}

func (z *ZoneController) writeState() error {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.queries.UpsertZoneSetpoint(
		context.Background(), db.UpsertZoneSetpointParams{Setpoint: z.setpoint, ZoneName: z.name},
	)
}

func (z *ZoneController) readState() error {
	val, err := z.queries.GetZoneSetpoint(context.Background(), z.name)
	if err != nil {
		return err
	}
	z.setpoint = val
	return nil
}

func (z *ZoneController) controlUpdateHandler(client mqtt.Client, message mqtt.Message) {
	topic := message.Topic()[strings.LastIndex(message.Topic(), "/")+1:]
	logger.L().Infof("Zone %v got MQTT control request: %v : %v", z.name, topic, string(message.Payload()))

	switch topic {
	case "weight":
		value, err := strconv.ParseFloat(string(message.Payload()), 64)
		if err != nil {
			logger.L().Error(err)
			return
		}
		z.cfg.Weight = &value
		logger.L().Infof("Updated %s for zone `%v` to %v", topic, z.name, value)
	case "w_comfort", "w_energy", "w_smooth":
		value, err := strconv.ParseFloat(string(message.Payload()), 64)
		if err != nil {
			logger.L().Error(err)
			return
		}
		z.setWeight(topic, value)
	case "sensors_average_type":
		z.cfg.SensorsAverageType = string(message.Payload())
		z.LinkAverageFun()
		logger.L().Infof("Updated sensors average type to `%v`", z.cfg.SensorsAverageType)
	case "pi_reset":
		z.sup.ResetControllers()
		logger.L().Infof("Controllers reset for zone `%v`", z.name)
	default:
		logger.L().Errorf("Unknown control topic: %s", topic)
	}
}

func (z *ZoneController) setWeight(which string, value float64) {
	z.mu.RLock()
	mpcCtl := z.mpcCtl
	z.mu.RUnlock()
	if mpcCtl == nil {
		logger.L().Warnf("Zone %v has no optimizer yet, ignoring %s update", z.name, which)
		return
	}
	switch which {
	case "w_comfort":
		z.cfg.Control.WComfort = &value
		mpcCtl.SetWeights(&value, nil, nil)
	case "w_energy":
		z.cfg.Control.WEnergy = &value
		mpcCtl.SetWeights(nil, &value, nil)
	case "w_smooth":
		z.cfg.Control.WSmooth = &value
		mpcCtl.SetWeights(nil, nil, &value)
	}
	logger.L().Infof("Updated %s for zone `%v` to %v", which, z.name, value)
}
