// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"fmt"
	"time"

	"github.com/relabs-tech/imu_telemetry/internal/imu"
)

// DefaultAlpha is the smoothing coefficient used when none is configured.
const DefaultAlpha = 0.3

// EstimatorConfig holds the filter tuning.
type EstimatorConfig struct {
	// Alpha is the weight of the new raw measurement in the exponential
	// moving average, in (0, 1]. It is not derived from dt.
	Alpha float64
}

// DefaultEstimatorConfig returns the design defaults.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{Alpha: DefaultAlpha}
}

// Validate checks the tuning values.
func (c EstimatorConfig) Validate() error {
	if !(c.Alpha > 0 && c.Alpha <= 1) {
		return fmt.Errorf("estimator alpha must be in (0, 1], got %g", c.Alpha)
	}
	return nil
}

// Estimator is a complementary filter: accelerometer tilt for pitch/roll,
// open-loop gyro Z integration for yaw, each axis smoothed independently.
//
// Yaw is never corrected and drifts with any gyro bias. The magnetometer is
// carried in the sample but not fused.
//
// An Estimator is not safe for concurrent use; the sampling loop owns it.
type Estimator struct {
	alpha float64

	pose   Pose
	rawYaw float64
	lastTS time.Duration
	haveTS bool
}

// NewEstimator creates an estimator with the given tuning. An invalid alpha
// falls back to DefaultAlpha.
func NewEstimator(cfg EstimatorConfig) *Estimator {
	if err := cfg.Validate(); err != nil {
		cfg = DefaultEstimatorConfig()
	}
	return &Estimator{alpha: cfg.Alpha}
}

// Update folds one sample into the estimate and returns the new pose.
// The first call (and any call whose timestamp does not advance) integrates
// nothing into yaw. NaN inputs propagate into the result.
func (e *Estimator) Update(s imu.Sample) Pose {
	tilt := ComputePoseFromAccel(s.Acc.X, s.Acc.Y, s.Acc.Z)

	var dt float64
	if e.haveTS && s.Timestamp > e.lastTS {
		dt = (s.Timestamp - e.lastTS).Seconds()
	}
	e.rawYaw += s.Gyr.Z * dt

	a := e.alpha
	e.pose.Pitch = a*tilt.Pitch + (1-a)*e.pose.Pitch
	e.pose.Roll = a*tilt.Roll + (1-a)*e.pose.Roll
	e.pose.Yaw = a*e.rawYaw + (1-a)*e.pose.Yaw

	e.lastTS = s.Timestamp
	e.haveTS = true
	return e.pose
}

// Pose returns the current estimate.
func (e *Estimator) Pose() Pose { return e.pose }

// RawYaw returns the unsmoothed gyro Z integral in degrees.
func (e *Estimator) RawYaw() float64 { return e.rawYaw }

// Alpha returns the smoothing coefficient in use.
func (e *Estimator) Alpha() float64 { return e.alpha }

// Reset clears the estimate, the yaw integrator and the previous timestamp.
func (e *Estimator) Reset() {
	e.pose = Pose{}
	e.rawYaw = 0
	e.lastTS = 0
	e.haveTS = false
}
