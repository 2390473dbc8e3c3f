// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import "time"

// Vec3 is one 3-axis reading.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Sample is one synchronized accel/gyro/mag reading in physical units.
//
//	Acc: g
//	Gyr: deg/s
//	Mag: µT (zero when the source has no magnetometer)
//
// Timestamp is the monotonic time since the source's origin.
type Sample struct {
	Acc       Vec3          `json:"acc"`
	Gyr       Vec3          `json:"gyr"`
	Mag       Vec3          `json:"mag"`
	Timestamp time.Duration `json:"timestamp"`
}
