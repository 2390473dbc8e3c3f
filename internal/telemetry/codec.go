// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/relabs-tech/imu_telemetry/internal/imu"
	"github.com/relabs-tech/imu_telemetry/internal/orientation"
)

// Verbosity selects which keys a message carries.
type Verbosity int

const (
	// Basic carries pitch, roll and yaw.
	Basic Verbosity = iota
	// Detailed also carries the nine raw axes.
	Detailed
)

func (v Verbosity) String() string {
	if v == Detailed {
		return "detailed"
	}
	return "basic"
}

// ParseVerbosity accepts "basic" or "detailed".
func ParseVerbosity(s string) (Verbosity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "basic", "simple":
		return Basic, nil
	case "detailed", "advanced":
		return Detailed, nil
	default:
		return Basic, fmt.Errorf("unknown telemetry verbosity %q", s)
	}
}

// Encoder renders one pose (and optionally the raw sample) as a wire message.
type Encoder interface {
	Encode(pose orientation.Pose, sample *imu.Sample, v Verbosity) ([]byte, error)
}

// Message is the flat wire object. Every value is a fixed-precision decimal
// string; the raw-axis keys are present only in detailed messages.
type Message struct {
	Pitch string `json:"pitch"`
	Roll  string `json:"roll"`
	Yaw   string `json:"yaw"`

	AccX string `json:"accX,omitempty"`
	AccY string `json:"accY,omitempty"`
	AccZ string `json:"accZ,omitempty"`
	GyrX string `json:"gyrX,omitempty"`
	GyrY string `json:"gyrY,omitempty"`
	GyrZ string `json:"gyrZ,omitempty"`
	MagX string `json:"magX,omitempty"`
	MagY string `json:"magY,omitempty"`
	MagZ string `json:"magZ,omitempty"`
}

// JSONEncoder truncates angles and raw axes to a fixed number of decimals.
type JSONEncoder struct {
	AngleDecimals int
	AxisDecimals  int
}

// NewJSONEncoder returns the wire-compatible encoder: 2 decimals for angles,
// 4 for raw axes.
func NewJSONEncoder() JSONEncoder {
	return JSONEncoder{AngleDecimals: 2, AxisDecimals: 4}
}

// Encode implements Encoder. A nil sample in detailed mode encodes zeros.
func (e JSONEncoder) Encode(pose orientation.Pose, sample *imu.Sample, v Verbosity) ([]byte, error) {
	msg := Message{
		Pitch: formatFixed(pose.Pitch, e.AngleDecimals),
		Roll:  formatFixed(pose.Roll, e.AngleDecimals),
		Yaw:   formatFixed(pose.Yaw, e.AngleDecimals),
	}

	if v == Detailed {
		var s imu.Sample
		if sample != nil {
			s = *sample
		}
		d := e.AxisDecimals
		msg.AccX, msg.AccY, msg.AccZ = formatFixed(s.Acc.X, d), formatFixed(s.Acc.Y, d), formatFixed(s.Acc.Z, d)
		msg.GyrX, msg.GyrY, msg.GyrZ = formatFixed(s.Gyr.X, d), formatFixed(s.Gyr.Y, d), formatFixed(s.Gyr.Z, d)
		msg.MagX, msg.MagY, msg.MagZ = formatFixed(s.Mag.X, d), formatFixed(s.Mag.Y, d), formatFixed(s.Mag.Z, d)
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: encode message: %w", err)
	}
	return b, nil
}

func formatFixed(v float64, decimals int) string {
	return strconv.FormatFloat(v, 'f', decimals, 64)
}

// DecodeMessage parses a wire message.
func DecodeMessage(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("telemetry: decode message: %w", err)
	}
	return m, nil
}

// Pose parses the angle fields.
func (m Message) Pose() (orientation.Pose, error) {
	var p orientation.Pose
	var err error
	if p.Pitch, err = strconv.ParseFloat(m.Pitch, 64); err != nil {
		return orientation.Pose{}, fmt.Errorf("telemetry: pitch: %w", err)
	}
	if p.Roll, err = strconv.ParseFloat(m.Roll, 64); err != nil {
		return orientation.Pose{}, fmt.Errorf("telemetry: roll: %w", err)
	}
	if p.Yaw, err = strconv.ParseFloat(m.Yaw, 64); err != nil {
		return orientation.Pose{}, fmt.Errorf("telemetry: yaw: %w", err)
	}
	return p, nil
}

// Detailed reports whether the message carries raw axes.
func (m Message) Detailed() bool {
	return m.AccX != ""
}
