// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/imu_telemetry/internal/display"
	"github.com/relabs-tech/imu_telemetry/internal/orientation"
	"github.com/relabs-tech/imu_telemetry/internal/sensors"
	"github.com/relabs-tech/imu_telemetry/internal/telemetry"
)

// LoopConfig controls the sampling loop.
type LoopConfig struct {
	Interval           time.Duration
	ConsoleLogInterval time.Duration
	// ResetOnCalibrate clears the estimator after a calibration so stale
	// smoothing does not leak across the new bias offsets.
	ResetOnCalibrate   bool
	CalibrateAtStartup bool
	SourceName         string
}

// Panel is the optional local status display.
type Panel interface {
	Update(now time.Duration, st display.Status) (bool, error)
}

// Loop drives acquisition, estimation and publishing from one goroutine.
type Loop struct {
	cfg         LoopConfig
	source      sensors.Source
	clock       sensors.Clock
	filter      orientation.Filter
	broadcaster *telemetry.Broadcaster
	panel       Panel
	logger      *zap.Logger

	ctx context.Context

	pose       orientation.Pose
	havePose   bool
	lastLog    time.Duration
	logged     bool
	ticks      uint64
	samples    uint64
	readErrors uint64
	lastErr    error
}

// NewLoop wires the loop and registers its calibration hook on b.
func NewLoop(cfg LoopConfig, source sensors.Source, clock sensors.Clock, filter orientation.Filter, b *telemetry.Broadcaster, logger *zap.Logger) *Loop {
	l := &Loop{
		cfg:         cfg,
		source:      source,
		clock:       clock,
		filter:      filter,
		broadcaster: b,
		logger:      logger,
		ctx:         context.Background(),
	}
	b.OnCalibrate(func() {
		if err := l.Calibrate(l.ctx); err != nil {
			l.logger.Error("calibration failed", zap.Error(err))
		}
	})
	return l
}

// SetPanel attaches a status display, redrawn from the loop.
func (l *Loop) SetPanel(p Panel) { l.panel = p }

// Run calibrates if configured, then ticks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.ctx = ctx
	if l.cfg.CalibrateAtStartup {
		if err := l.Calibrate(ctx); err != nil {
			return fmt.Errorf("startup calibration: %w", err)
		}
	}

	interval := l.cfg.Interval
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.logger.Info("sampling loop started",
		zap.String("source", l.cfg.SourceName),
		zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("sampling loop stopped", zap.Uint64("ticks", l.ticks), zap.Uint64("samples", l.samples))
			return nil
		case <-ticker.C:
			l.Step(ctx)
		}
	}
}

// Step runs one tick: acquire, estimate, publish, then poll the network.
func (l *Loop) Step(ctx context.Context) {
	l.ctx = ctx
	l.ticks++

	sample, err := l.source.ReadSample()
	switch {
	case err == nil:
		l.samples++
		l.pose = l.filter.Update(sample)
		l.havePose = true
		l.broadcaster.Publish(l.pose, &sample)
	case errors.Is(err, sensors.ErrNoSample):
	default:
		// Reported with the periodic status line.
		l.readErrors++
		l.lastErr = err
	}

	l.broadcaster.Poll()

	now := l.clock.Now()
	l.logStatus(now)
	l.updatePanel(now)
}

// Calibrate runs the source calibration, blocking the loop for its duration.
func (l *Loop) Calibrate(ctx context.Context) error {
	l.logger.Info("calibrating sensor, keep it still", zap.String("source", l.cfg.SourceName))
	start := time.Now()
	if err := l.source.Calibrate(ctx); err != nil {
		return fmt.Errorf("calibrate %s: %w", l.cfg.SourceName, err)
	}
	if l.cfg.ResetOnCalibrate {
		l.filter.Reset()
		l.havePose = false
	}
	l.logger.Info("calibration done", zap.Duration("took", time.Since(start)))
	return nil
}

// Pose returns the latest estimate and whether one exists yet.
func (l *Loop) Pose() (orientation.Pose, bool) { return l.pose, l.havePose }

func (l *Loop) logStatus(now time.Duration) {
	if l.logged && now-l.lastLog < l.cfg.ConsoleLogInterval {
		return
	}
	l.lastLog = now
	l.logged = true

	fields := []zap.Field{
		zap.Int("subscribers", l.broadcaster.SubscriberCount()),
		zap.Uint64("samples", l.samples),
	}
	if l.havePose {
		fields = append(fields,
			zap.Float64("roll", round2(l.pose.Roll)),
			zap.Float64("pitch", round2(l.pose.Pitch)),
			zap.Float64("yaw", round2(l.pose.Yaw)))
	}
	if l.readErrors > 0 {
		fields = append(fields, zap.Uint64("read_errors", l.readErrors), zap.NamedError("last_error", l.lastErr))
		l.readErrors = 0
		l.logger.Warn("orientation", fields...)
		return
	}
	l.logger.Info("orientation", fields...)
}

func (l *Loop) updatePanel(now time.Duration) {
	if l.panel == nil {
		return
	}
	st := display.Status{
		Pose:        l.pose,
		Subscribers: l.broadcaster.SubscriberCount(),
		Source:      l.cfg.SourceName,
	}
	if _, err := l.panel.Update(now, st); err != nil {
		l.logger.Debug("display update failed", zap.Error(err))
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
