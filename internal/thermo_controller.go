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
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/antst/mzatc/internal/config"
	"github.com/antst/mzatc/internal/logger"
	"github.com/antst/mzatc/internal/safe_mqtt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/antst/mzatc/internal/db"
)

// ThermoController is the top of the tree: it owns the shared MQTT control
// surface, the database, the outdoor/forecast feed and one controller plus
// trainer per zone. Zones run independently; the only shared control state
// is the global heating enable flag.
type ThermoController struct {
	cfg      *config.Config
	queries  *db.Queries
	mqtt     safe_mqtt.MqttClient
	forecast *ForecastController
	zones    map[string]*ZoneController
	trainers map[string]*Trainer

	enabledMu sync.RWMutex
	enabled   bool
}

func NewThermoController() *ThermoController {
	c := &ThermoController{
		cfg:      config.Get(),
		zones:    make(map[string]*ZoneController),
		trainers: make(map[string]*Trainer),
	}

	c.mqtt = safe_mqtt.InitMQTTClient(c.cfg.MQTTConfig.URL, "mzatc-"+uuid.New().String())
	c.setupMQTTSubscriptions()
	c.queries = db.OpenDatabase(c.cfg.DBFile)
	c.forecast = NewForecastController(c.cfg.Outside, c.cfg.MQTTConfig, c.queries)
	c.initializeZones()
	c.setEnabled(c.readValueWithDefault("enabled", "true"))
	return c
}

func (c *ThermoController) setupMQTTSubscriptions() {
	controlTopic := c.cfg.MQTTConfig.ControlTopic
	c.mqtt.SafeSubscribe(controlTopic+"/log_level", mqttQoS, c.controlUpdateHandler)
	c.mqtt.SafeSubscribe(controlTopic+"/enable", mqttQoS, c.controlUpdateHandler)
}

func (c *ThermoController) initializeZones() {
	for name, cfg := range c.cfg.Zones {
		zone := newZoneController(
			name, cfg, c.cfg.MQTTConfig, c.queries, c.forecast, c.publishEvent, c.isEnabled,
		)
		c.zones[name] = zone
		c.trainers[name] = NewTrainer(zone, c.queries)
	}
	logger.L().Infof("Initialized %d zones", len(c.zones))
}

// Run starts the per-zone control loops and trainers and blocks until
// interrupted.
func (c *ThermoController) Run() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	for _, zone := range c.zones {
		go zone.run(ctx)
	}
	for _, trainer := range c.trainers {
		go trainer.run(ctx)
	}

	<-ctx.Done()
	logger.L().Info("Shutting down")
}

// publishEvent forwards supervisor transitions to the control topic so that
// an external system can alert on them.
func (c *ThermoController) publishEvent(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		logger.L().Error(err)
		return
	}
	logger.L().Infof("Zone %v event: %v (%v)", e.Zone, e.Type, e.Reason)
	c.mqtt.SafePublish(c.cfg.MQTTConfig.ControlTopic+"/events", mqttQoS, false, payload)
}

func (c *ThermoController) isEnabled() bool {
	c.enabledMu.RLock()
	defer c.enabledMu.RUnlock()
	return c.enabled
}

func (c *ThermoController) controlUpdateHandler(client mqtt.Client, message mqtt.Message) {
	topic := message.Topic()[strings.LastIndex(message.Topic(), "/")+1:]
	logger.L().Infof("main: Got MQTT control request: %v : %v", topic, string(message.Payload()))
	switch topic {
	case "log_level":
		if err := c.cfg.LogLevel.Set(string(message.Payload())); err != nil {
			logger.L().Errorf("Wrong log level `%v`", string(message.Payload()))
		} else {
			logger.SetLogLevel(c.cfg.LogLevel)
			logger.L().Infof("Updated loglevel to `%v`", c.cfg.LogLevel.String())
		}
	case "enable":
		c.setEnabled(string(message.Payload()))
	}
}

func (c *ThermoController) setEnabled(val string) {
	var enabled bool
	switch strings.ToLower(val) {
	case "true", "on":
		enabled = true
	case "false", "off":
		enabled = false
	default:
		logger.L().Warnf("Invalid value for enabled_heating: %v", val)
		return
	}

	c.enabledMu.Lock()
	c.enabled = enabled
	c.enabledMu.Unlock()

	state := "OFF"
	if enabled {
		state = "ON"
	}
	c.mqtt.SafePublish(c.cfg.MQTTConfig.ControlTopic+"/active", mqttQoS, true, state)
	if err := c.writeValue("enabled", strconv.FormatBool(enabled)); err != nil {
		logger.L().Error(err)
	}
}

func (c *ThermoController) writeValue(name, value string) error {
	return c.queries.UpsertControllerValue(
		context.Background(),
		db.UpsertControllerValueParams{Name: name, Value: value},
	)
}

func (c *ThermoController) readValueWithDefault(name string, defValue string) string {
	val, err := c.queries.GetControllerValue(context.Background(), name)
	if err != nil {
		val = defValue
	}
	return val
}
