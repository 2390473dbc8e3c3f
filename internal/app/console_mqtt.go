// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/relabs-tech/imu_telemetry/internal/config"
	"github.com/relabs-tech/imu_telemetry/internal/telemetry"
)

var newMQTTClient = mqtt.NewClient

const mqttConsoleTimeout = 5 * time.Second

// RunConsoleMQTT prints the telemetry mirrored to the broker configured in
// cfg until ctx is cancelled. With calibrate set it first publishes the
// calibrate command on the control topic.
func RunConsoleMQTT(ctx context.Context, cfg *config.Config, calibrate bool, out io.Writer, logger *zap.Logger) error {
	if cfg.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is not configured")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID + "-console")

	client := newMQTTClient(opts)
	if token := client.Connect(); !token.WaitTimeout(mqttConsoleTimeout) || token.Error() != nil {
		return fmt.Errorf("connect to %s: %w", cfg.MQTTBroker, tokenErr(token))
	}
	defer client.Disconnect(250)
	logger.Info("connected to MQTT broker", zap.String("broker", cfg.MQTTBroker))

	// paho delivers on its own goroutines.
	var mu sync.Mutex
	token := client.Subscribe(cfg.TopicTelemetry, 0, func(_ mqtt.Client, msg mqtt.Message) {
		mu.Lock()
		defer mu.Unlock()
		printMessage(out, msg.Payload(), logger)
	})
	if !token.WaitTimeout(mqttConsoleTimeout) || token.Error() != nil {
		return fmt.Errorf("subscribe to %s: %w", cfg.TopicTelemetry, tokenErr(token))
	}
	logger.Info("subscribed", zap.String("topic", cfg.TopicTelemetry))

	if calibrate {
		token := client.Publish(cfg.TopicControl, 0, false, []byte(telemetry.CalibrateCommand))
		if !token.WaitTimeout(mqttConsoleTimeout) || token.Error() != nil {
			return fmt.Errorf("publish calibrate to %s: %w", cfg.TopicControl, tokenErr(token))
		}
		logger.Info("calibration requested", zap.String("topic", cfg.TopicControl))
	}

	<-ctx.Done()
	logger.Info("console shutting down")
	return nil
}

func tokenErr(t mqtt.Token) error {
	if err := t.Error(); err != nil {
		return err
	}
	return fmt.Errorf("timed out after %s", mqttConsoleTimeout)
}
