// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration values.
type Config struct {
	// Websocket / HTTP
	WebSocketPort           int
	WebRoot                 string
	WebSocketWriteTimeoutMS int
	MaxEventsPerPoll        int

	// Telemetry
	TelemetryMode string // "basic" or "detailed"

	// Timing
	LoopIntervalMS      int // milliseconds
	ConsoleLogInterval  int // milliseconds
	CalibrationSettleMS int // milliseconds

	// Filter
	FilterAlpha               float64
	EstimatorResetOnCalibrate bool

	// Sample source: "mpu9250", "serial" or "mock"
	SampleSource string

	// IMU Hardware
	IMUSPIDevice string
	IMUCSPin     string

	// IMU Sensor Ranges
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange byte
	// Gyroscope: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	IMUGyroRange byte
	// Digital Low Pass Filter configuration (0-7)
	IMUDLPFConfig byte

	// Serial IMU
	SerialPort     string
	SerialBaudRate int

	// MQTT (empty broker disables the MQTT transport)
	MQTTBroker           string
	MQTTClientID         string
	TopicTelemetry       string
	TopicControl         string
	MQTTPublishTimeoutMS int

	// Display
	DisplayEnabled        bool
	DisplayI2CAddr        uint16
	DisplayUpdateInterval int // milliseconds

	// Logging
	LogLevel  string
	LogFormat string // "console" or "json"
}

// Default returns the configuration used for any key the file leaves out.
func Default() *Config {
	return &Config{
		WebSocketPort:           81,
		WebSocketWriteTimeoutMS: 5,
		MaxEventsPerPoll:        64,
		TelemetryMode:           "basic",
		LoopIntervalMS:          1,
		ConsoleLogInterval:      1000,
		CalibrationSettleMS:     1000,
		FilterAlpha:             0.3,
		SampleSource:            "mpu9250",
		IMUSPIDevice:            "/dev/spidev0.0",
		IMUCSPin:                "8",
		IMUAccelRange:           1,
		IMUGyroRange:            0,
		SerialBaudRate:          115200,
		MQTTClientID:            "imu-telemetry",
		TopicTelemetry:          "imu/telemetry",
		TopicControl:            "imu/control",
		MQTTPublishTimeoutMS:    100,
		DisplayI2CAddr:          0x3C,
		DisplayUpdateInterval:   250,
		LogLevel:                "info",
		LogFormat:               "console",
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads KEY=VALUE lines on top of Default().
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// Websocket / HTTP
	case "WEBSOCKET_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEBSOCKET_PORT %q: %w", value, err)
		}
		if port < 1 || port > 65535 {
			return fmt.Errorf("WEBSOCKET_PORT must be 1-65535, got %d", port)
		}
		c.WebSocketPort = port
	case "WEB_ROOT":
		c.WebRoot = value
	case "WEBSOCKET_WRITE_TIMEOUT_MS":
		ms, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEBSOCKET_WRITE_TIMEOUT_MS %q: %w", value, err)
		}
		c.WebSocketWriteTimeoutMS = ms
	case "MAX_EVENTS_PER_POLL":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MAX_EVENTS_PER_POLL %q: %w", value, err)
		}
		c.MaxEventsPerPoll = n

	// Telemetry
	case "TELEMETRY_MODE":
		mode := strings.ToLower(value)
		if mode != "basic" && mode != "detailed" {
			return fmt.Errorf("TELEMETRY_MODE must be basic or detailed, got %q", value)
		}
		c.TelemetryMode = mode

	// Timing
	case "LOOP_INTERVAL_MS":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid LOOP_INTERVAL_MS %q: %w", value, err)
		}
		c.LoopIntervalMS = interval
	case "CONSOLE_LOG_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid CONSOLE_LOG_INTERVAL %q: %w", value, err)
		}
		c.ConsoleLogInterval = interval
	case "CALIBRATION_SETTLE_MS":
		ms, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid CALIBRATION_SETTLE_MS %q: %w", value, err)
		}
		if ms < 0 {
			return fmt.Errorf("CALIBRATION_SETTLE_MS must be >= 0, got %d", ms)
		}
		c.CalibrationSettleMS = ms

	// Filter
	case "FILTER_ALPHA":
		alpha, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid FILTER_ALPHA %q: %w", value, err)
		}
		if alpha <= 0 || alpha > 1 {
			return fmt.Errorf("FILTER_ALPHA must be in (0, 1], got %g", alpha)
		}
		c.FilterAlpha = alpha
	case "ESTIMATOR_RESET_ON_CALIBRATE":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid ESTIMATOR_RESET_ON_CALIBRATE %q: %w", value, err)
		}
		c.EstimatorResetOnCalibrate = b

	// Sample source
	case "SAMPLE_SOURCE":
		src := strings.ToLower(value)
		switch src {
		case "mpu9250", "serial", "mock":
		default:
			return fmt.Errorf("SAMPLE_SOURCE must be mpu9250, serial or mock, got %q", value)
		}
		c.SampleSource = src

	// IMU Hardware
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value

	// IMU Sensor Ranges
	case "IMU_ACCEL_RANGE":
		rangeVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_ACCEL_RANGE %q: %w", value, err)
		}
		if rangeVal < 0 || rangeVal > 3 {
			return fmt.Errorf("IMU_ACCEL_RANGE must be 0-3 (0=±2g, 1=±4g, 2=±8g, 3=±16g), got %d", rangeVal)
		}
		c.IMUAccelRange = byte(rangeVal)
	case "IMU_GYRO_RANGE":
		rangeVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_GYRO_RANGE %q: %w", value, err)
		}
		if rangeVal < 0 || rangeVal > 3 {
			return fmt.Errorf("IMU_GYRO_RANGE must be 0-3 (0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s), got %d", rangeVal)
		}
		c.IMUGyroRange = byte(rangeVal)
	case "IMU_DLPF_CFG":
		val, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_DLPF_CFG %q: %w", value, err)
		}
		if val < 0 || val > 7 {
			return fmt.Errorf("IMU_DLPF_CFG must be 0-7, got %d", val)
		}
		c.IMUDLPFConfig = byte(val)

	// Serial IMU
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SERIAL_BAUD_RATE %q: %w", value, err)
		}
		if rate <= 0 {
			return fmt.Errorf("SERIAL_BAUD_RATE must be > 0, got %d", rate)
		}
		c.SerialBaudRate = rate

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "TOPIC_TELEMETRY":
		c.TopicTelemetry = value
	case "TOPIC_CONTROL":
		c.TopicControl = value
	case "MQTT_PUBLISH_TIMEOUT_MS":
		ms, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MQTT_PUBLISH_TIMEOUT_MS %q: %w", value, err)
		}
		if ms <= 0 {
			return fmt.Errorf("MQTT_PUBLISH_TIMEOUT_MS must be > 0, got %d", ms)
		}
		c.MQTTPublishTimeoutMS = ms

	// Display
	case "DISPLAY_ENABLED":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_ENABLED %q: %w", value, err)
		}
		c.DisplayEnabled = b
	case "DISPLAY_I2C_ADDR":
		addr, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_I2C_ADDR %q: %w", value, err)
		}
		c.DisplayI2CAddr = uint16(addr)
	case "DISPLAY_UPDATE_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_UPDATE_INTERVAL %q: %w", value, err)
		}
		c.DisplayUpdateInterval = interval

	// Logging
	case "LOG_LEVEL":
		c.LogLevel = strings.ToLower(value)
	case "LOG_FORMAT":
		format := strings.ToLower(value)
		if format != "console" && format != "json" {
			return fmt.Errorf("LOG_FORMAT must be console or json, got %q", value)
		}
		c.LogFormat = format

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

// validate checks the cross-field requirements.
func (c *Config) validate() error {
	if c.LoopIntervalMS <= 0 {
		return fmt.Errorf("LOOP_INTERVAL_MS must be > 0")
	}
	if c.ConsoleLogInterval <= 0 {
		return fmt.Errorf("CONSOLE_LOG_INTERVAL must be > 0")
	}
	if c.WebSocketWriteTimeoutMS <= 0 {
		return fmt.Errorf("WEBSOCKET_WRITE_TIMEOUT_MS must be > 0")
	}
	if c.MaxEventsPerPoll <= 0 {
		return fmt.Errorf("MAX_EVENTS_PER_POLL must be > 0")
	}
	if c.SampleSource == "serial" {
		if c.SerialPort == "" {
			return fmt.Errorf("SERIAL_PORT is required when SAMPLE_SOURCE=serial")
		}
		if c.SerialBaudRate == 0 {
			return fmt.Errorf("SERIAL_BAUD_RATE is required when SAMPLE_SOURCE=serial")
		}
	}
	if c.SampleSource == "mpu9250" && c.IMUSPIDevice == "" {
		return fmt.Errorf("IMU_SPI_DEVICE is required when SAMPLE_SOURCE=mpu9250")
	}
	if c.MQTTBroker != "" && (c.TopicTelemetry == "" || c.TopicControl == "") {
		return fmt.Errorf("TOPIC_TELEMETRY and TOPIC_CONTROL are required when MQTT_BROKER is set")
	}
	if c.DisplayEnabled && c.DisplayUpdateInterval <= 0 {
		return fmt.Errorf("DISPLAY_UPDATE_INTERVAL must be > 0 when DISPLAY_ENABLED=true")
	}
	return nil
}
