// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/relabs-tech/imu_telemetry/internal/imu"
)

// ErrNoSample is returned by ReadSample when no new physical sample is ready.
var ErrNoSample = errors.New("no new sample")

// Settings is the startup-only sensor configuration.
type Settings struct {
	AccelRange byte // 0=±2g, 1=±4g, 2=±8g, 3=±16g
	GyroRange  byte // 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	DLPFMode   byte // 0-7
}

// Source produces timestamped samples in physical units.
type Source interface {
	// Configure applies range/rate settings. Call once, before the loop.
	Configure(Settings) error
	// ReadSample returns the latest sample or ErrNoSample.
	ReadSample() (imu.Sample, error)
	// Calibrate resets the sensor's bias offsets and waits for it to
	// settle. It blocks the caller for the whole duration.
	Calibrate(ctx context.Context) error
	Close() error
}

// Clock is a monotonic time source.
type Clock interface {
	Now() time.Duration
}

// MonotonicClock measures time since its creation on the monotonic clock.
type MonotonicClock struct {
	start time.Time
}

// NewMonotonicClock starts a clock at zero.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

// Now returns the elapsed time since the clock was created.
func (c *MonotonicClock) Now() time.Duration {
	return time.Since(c.start)
}

// ManualClock is a Clock advanced by hand. Used by the mock source and tests.
type ManualClock struct {
	mu sync.Mutex
	t  time.Duration
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t += d
	c.mu.Unlock()
}

// settle waits for d or until ctx is done.
func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
