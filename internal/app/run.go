// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/imu_telemetry/internal/config"
	"github.com/relabs-tech/imu_telemetry/internal/display"
	"github.com/relabs-tech/imu_telemetry/internal/orientation"
	"github.com/relabs-tech/imu_telemetry/internal/sensors"
	"github.com/relabs-tech/imu_telemetry/internal/telemetry"
)

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func mqttConfig(cfg *config.Config) telemetry.MQTTConfig {
	mc := telemetry.DefaultMQTTConfig()
	mc.Broker = cfg.MQTTBroker
	mc.ClientID = cfg.MQTTClientID
	mc.TelemetryTopic = cfg.TopicTelemetry
	mc.ControlTopic = cfg.TopicControl
	mc.PublishTimeout = ms(cfg.MQTTPublishTimeoutMS)
	return mc
}

// RunTelemetry opens the sample source, starts the transports and runs the
// sampling loop until ctx is cancelled.
func RunTelemetry(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting imu telemetry",
		zap.String("source", cfg.SampleSource),
		zap.String("mode", cfg.TelemetryMode),
		zap.Int("port", cfg.WebSocketPort))

	clock := sensors.NewMonotonicClock()
	source, err := OpenSource(cfg, clock, logger)
	if err != nil {
		return err
	}
	defer source.Close()

	verbosity, err := telemetry.ParseVerbosity(cfg.TelemetryMode)
	if err != nil {
		return err
	}

	transports := []telemetry.Transport{
		telemetry.NewWebSocketTransport(telemetry.WebSocketConfig{
			WebRoot:      cfg.WebRoot,
			WriteTimeout: ms(cfg.WebSocketWriteTimeoutMS),
		}, logger.Named("websocket")),
	}
	if cfg.MQTTBroker != "" {
		transports = append(transports, telemetry.NewMQTTTransport(mqttConfig(cfg), logger.Named("mqtt")))
	}

	b := telemetry.NewBroadcaster(telemetry.Config{
		Verbosity:        verbosity,
		MaxEventsPerPoll: cfg.MaxEventsPerPoll,
	}, telemetry.NewJSONEncoder(), logger.Named("telemetry"), transports...)
	if err := b.Start(cfg.WebSocketPort); err != nil {
		return err
	}
	defer b.Close()

	estimator := orientation.NewEstimator(orientation.EstimatorConfig{Alpha: cfg.FilterAlpha})
	loop := NewLoop(LoopConfig{
		Interval:           ms(cfg.LoopIntervalMS),
		ConsoleLogInterval: ms(cfg.ConsoleLogInterval),
		ResetOnCalibrate:   cfg.EstimatorResetOnCalibrate,
		CalibrateAtStartup: true,
		SourceName:         cfg.SampleSource,
	}, source, clock, estimator, b, logger.Named("loop"))

	if cfg.DisplayEnabled {
		panel, err := display.Open(cfg.DisplayI2CAddr, ms(cfg.DisplayUpdateInterval))
		if err != nil {
			logger.Warn("display unavailable, continuing without it", zap.Error(err))
		} else {
			defer panel.Close()
			if err := panel.Splash("IMU telemetry", "calibrating"); err != nil {
				logger.Warn("display splash failed", zap.Error(err))
			}
			loop.SetPanel(panel)
		}
	}

	return loop.Run(ctx)
}

// OpenSource opens and configures the sample source named by
// cfg.SampleSource.
func OpenSource(cfg *config.Config, clock sensors.Clock, logger *zap.Logger) (sensors.Source, error) {
	settle := ms(cfg.CalibrationSettleMS)

	var (
		src sensors.Source
		err error
	)
	switch cfg.SampleSource {
	case "mock":
		src = sensors.NewMockSource(clock, settle)
	case "serial":
		src, err = sensors.OpenSerialSource(cfg.SerialPort, cfg.SerialBaudRate, clock, settle, logger.Named("serial"))
	case "mpu9250":
		src, err = sensors.OpenMPU9250(cfg.IMUSPIDevice, cfg.IMUCSPin, clock, settle, logger.Named("mpu9250"))
	default:
		return nil, fmt.Errorf("unknown sample source %q", cfg.SampleSource)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s source: %w", cfg.SampleSource, err)
	}

	settings := sensors.Settings{
		AccelRange: cfg.IMUAccelRange,
		GyroRange:  cfg.IMUGyroRange,
		DLPFMode:   cfg.IMUDLPFConfig,
	}
	if err := src.Configure(settings); err != nil {
		src.Close()
		return nil, fmt.Errorf("configure %s source: %w", cfg.SampleSource, err)
	}
	return src, nil
}
