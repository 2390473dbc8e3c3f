// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"

	"github.com/relabs-tech/imu_telemetry/internal/imu"
)

// Pose is the canonical representation of orientation for the app, in degrees.
type Pose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Filter turns a stream of samples into poses. Estimator is the
// complementary-filter implementation; a fusion filter can replace it.
type Filter interface {
	Update(sample imu.Sample) Pose
	Pose() Pose
	Reset()
}

// ComputePoseFromAccel computes roll and pitch from accelerometer data only.
// Yaw is set to 0; gravity carries no heading information.
//
// Uses simple tilt formulas:
//
//	roll  = atan2(ay, az)
//	pitch = atan2(-ax, sqrt(ay² + az²))
func ComputePoseFromAccel(ax, ay, az float64) Pose {
	rollRad := math.Atan2(ay, az)
	pitchRad := math.Atan2(-ax, math.Sqrt(ay*ay+az*az))

	return Pose{
		Roll:  rollRad * 180.0 / math.Pi,
		Pitch: pitchRad * 180.0 / math.Pi,
		Yaw:   0,
	}
}
