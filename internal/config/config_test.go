// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmptyUsesDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 81, cfg.WebSocketPort)
	assert.InDelta(t, 0.3, cfg.FilterAlpha, 1e-12)
	assert.Equal(t, "basic", cfg.TelemetryMode)
	assert.Equal(t, 1000, cfg.CalibrationSettleMS)
}

func TestParseOverrides(t *testing.T) {
	input := `
# telemetry
WEBSOCKET_PORT = 8081
TELEMETRY_MODE=Detailed
FILTER_ALPHA=0.5
SAMPLE_SOURCE=serial
SERIAL_PORT=/dev/ttyUSB0
SERIAL_BAUD_RATE=230400
DISPLAY_I2C_ADDR=0x3D
ESTIMATOR_RESET_ON_CALIBRATE=true
IMU_ACCEL_RANGE=2
LOG_FORMAT=json
MQTT_PUBLISH_TIMEOUT_MS=250
`
	cfg, err := Parse(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.WebSocketPort)
	assert.Equal(t, "detailed", cfg.TelemetryMode)
	assert.InDelta(t, 0.5, cfg.FilterAlpha, 1e-12)
	assert.Equal(t, "serial", cfg.SampleSource)
	assert.Equal(t, "/dev/ttyUSB0", cfg.SerialPort)
	assert.Equal(t, 230400, cfg.SerialBaudRate)
	assert.Equal(t, uint16(0x3D), cfg.DisplayI2CAddr)
	assert.True(t, cfg.EstimatorResetOnCalibrate)
	assert.Equal(t, byte(2), cfg.IMUAccelRange)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 250, cfg.MQTTPublishTimeoutMS)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"missing equals", "WEBSOCKET_PORT", "invalid config line 1"},
		{"unknown key", "NOPE=1", "unknown config key"},
		{"alpha zero", "FILTER_ALPHA=0", "FILTER_ALPHA must be in (0, 1]"},
		{"alpha above one", "FILTER_ALPHA=1.5", "FILTER_ALPHA must be in (0, 1]"},
		{"bad mode", "TELEMETRY_MODE=verbose", "TELEMETRY_MODE must be"},
		{"bad range", "IMU_GYRO_RANGE=4", "IMU_GYRO_RANGE must be 0-3"},
		{"bad port", "WEBSOCKET_PORT=70000", "WEBSOCKET_PORT must be"},
		{"negative baud rate", "SERIAL_BAUD_RATE=-9600", "SERIAL_BAUD_RATE must be > 0"},
		{"zero baud rate", "SERIAL_BAUD_RATE=0", "SERIAL_BAUD_RATE must be > 0"},
		{"zero mqtt publish timeout", "MQTT_PUBLISH_TIMEOUT_MS=0", "MQTT_PUBLISH_TIMEOUT_MS must be > 0"},
		{"serial without port", "SAMPLE_SOURCE=serial", "SERIAL_PORT is required"},
		{"bad source", "SAMPLE_SOURCE=i2c", "SAMPLE_SOURCE must be"},
		{"zero loop interval", "LOOP_INTERVAL_MS=0", "LOOP_INTERVAL_MS must be > 0"},
		{"mqtt without topic", "MQTT_BROKER=tcp://localhost:1883\nTOPIC_CONTROL=", "TOPIC_TELEMETRY and TOPIC_CONTROL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imu_telemetry.txt")
	require.NoError(t, os.WriteFile(path, []byte("SAMPLE_SOURCE=mock\nLOOP_INTERVAL_MS=5\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mock", cfg.SampleSource)
	assert.Equal(t, 5, cfg.LoopIntervalMS)

	_, err = Load(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestShippedConfigMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "imu_config.txt"))
	require.NoError(t, err)

	want := Default()
	want.SerialPort = "/dev/ttyUSB0"
	assert.Equal(t, want, cfg)
}
