// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"math"
	"time"

	"github.com/relabs-tech/imu_telemetry/internal/imu"
)

const (
	mockYawRateDegS = 30.0
	mockFieldUT     = 45.0
)

type mockSource struct {
	clock  Clock
	settle time.Duration
}

// NewMockSource creates a sample source that generates a smooth rocking
// motion (roll 20° sin t, pitch 15° cos 0.7t) while turning at 30°/s.
func NewMockSource(clock Clock, settleDelay time.Duration) Source {
	return &mockSource{clock: clock, settle: settleDelay}
}

func (m *mockSource) Configure(Settings) error { return nil }

func (m *mockSource) ReadSample() (imu.Sample, error) {
	ts := m.clock.Now()
	elapsed := ts.Seconds()

	roll := deg2rad(20 * math.Sin(elapsed))
	pitch := deg2rad(15 * math.Cos(elapsed*0.7))
	yaw := deg2rad(math.Mod(elapsed*mockYawRateDegS, 360))

	return imu.Sample{
		// gravity seen by a sensor at (pitch, roll)
		Acc: imu.Vec3{
			X: -math.Sin(pitch),
			Y: math.Cos(pitch) * math.Sin(roll),
			Z: math.Cos(pitch) * math.Cos(roll),
		},
		Gyr: imu.Vec3{Z: mockYawRateDegS},
		Mag: imu.Vec3{
			X: mockFieldUT * math.Cos(yaw),
			Y: -mockFieldUT * math.Sin(yaw),
		},
		Timestamp: ts,
	}, nil
}

func (m *mockSource) Calibrate(ctx context.Context) error {
	return settle(ctx, m.settle)
}

func (m *mockSource) Close() error { return nil }

func deg2rad(d float64) float64 { return d * math.Pi / 180 }
