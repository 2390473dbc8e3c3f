// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

// IMURaw represents a single raw IMU sample in register counts.
type IMURaw struct {
	Ax int16 `json:"ax"` // accel
	Ay int16 `json:"ay"`
	Az int16 `json:"az"`

	Gx int16 `json:"gx"` // gyro
	Gy int16 `json:"gy"`
	Gz int16 `json:"gz"`
}

// Scale converts register counts to physical units.
type Scale struct {
	AccelLSBPerG   float64
	GyroLSBPerDegS float64
}

var (
	accelLSBPerG   = [4]float64{16384, 8192, 4096, 2048}
	gyroLSBPerDegS = [4]float64{131, 65.5, 32.8, 16.4}
)

// ScaleForRange returns the MPU9250 sensitivity for the given full-scale
// range selectors (0-3 each, as in IMU_ACCEL_RANGE / IMU_GYRO_RANGE).
// Out-of-range selectors fall back to the most sensitive setting.
func ScaleForRange(accelRange, gyroRange byte) Scale {
	if accelRange > 3 {
		accelRange = 0
	}
	if gyroRange > 3 {
		gyroRange = 0
	}
	return Scale{
		AccelLSBPerG:   accelLSBPerG[accelRange],
		GyroLSBPerDegS: gyroLSBPerDegS[gyroRange],
	}
}

// Apply converts a raw reading to g and deg/s.
func (s Scale) Apply(raw IMURaw) (acc, gyr Vec3) {
	acc = Vec3{
		X: float64(raw.Ax) / s.AccelLSBPerG,
		Y: float64(raw.Ay) / s.AccelLSBPerG,
		Z: float64(raw.Az) / s.AccelLSBPerG,
	}
	gyr = Vec3{
		X: float64(raw.Gx) / s.GyroLSBPerDegS,
		Y: float64(raw.Gy) / s.GyroLSBPerDegS,
		Z: float64(raw.Gz) / s.GyroLSBPerDegS,
	}
	return acc, gyr
}
