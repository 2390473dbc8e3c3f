// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/imu_telemetry/internal/imu"
)

// mpuDevice is the subset of the periph MPU9250 driver used here.
type mpuDevice interface {
	SetAccelRange(rng byte) error
	SetGyroRange(rng byte) error
	Calibrate() error

	GetAccelerationX() (int16, error)
	GetAccelerationY() (int16, error)
	GetAccelerationZ() (int16, error)
	GetRotationX() (int16, error)
	GetRotationY() (int16, error)
	GetRotationZ() (int16, error)
}

var _ mpuDevice = (*mpu9250.MPU9250)(nil)

// MPU9250Source reads an MPU9250 over SPI. The periph driver does not expose
// the AK8963 magnetometer, so Mag is always zero.
type MPU9250Source struct {
	dev    mpuDevice
	clock  Clock
	scale  imu.Scale
	settle time.Duration
	logger *zap.Logger
}

// OpenMPU9250 initializes the MPU9250 on spiDev with chip select csPin and
// runs the driver self-test. Failure here means the sensor is unavailable.
func OpenMPU9250(spiDev, csPin string, clock Clock, settleDelay time.Duration, logger *zap.Logger) (*MPU9250Source, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("mpu9250: periph host init: %w", err)
	}

	cs := gpioreg.ByName(csPin)
	if cs == nil {
		return nil, fmt.Errorf("mpu9250: CS pin %q not found", csPin)
	}

	tr, err := mpu9250.NewSpiTransport(spiDev, cs)
	if err != nil {
		return nil, fmt.Errorf("mpu9250: SPI transport (%s): %w", spiDev, err)
	}

	dev, err := mpu9250.New(tr)
	if err != nil {
		return nil, fmt.Errorf("mpu9250: device creation: %w", err)
	}

	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("mpu9250: initialization: %w", err)
	}

	testResult, err := dev.SelfTest()
	if err != nil {
		logger.Warn("mpu9250 self-test failed", zap.Error(err))
	} else {
		logger.Info("mpu9250 self-test passed",
			zap.Float64("accel_dev_x_pct", testResult.AccelDeviation.X),
			zap.Float64("accel_dev_y_pct", testResult.AccelDeviation.Y),
			zap.Float64("accel_dev_z_pct", testResult.AccelDeviation.Z),
			zap.Float64("gyro_dev_x_pct", testResult.GyroDeviation.X),
			zap.Float64("gyro_dev_y_pct", testResult.GyroDeviation.Y),
			zap.Float64("gyro_dev_z_pct", testResult.GyroDeviation.Z),
		)
	}

	return newMPU9250Source(dev, clock, settleDelay, logger), nil
}

func newMPU9250Source(dev mpuDevice, clock Clock, settleDelay time.Duration, logger *zap.Logger) *MPU9250Source {
	return &MPU9250Source{
		dev:    dev,
		clock:  clock,
		scale:  imu.ScaleForRange(0, 0),
		settle: settleDelay,
		logger: logger,
	}
}

// Configure applies the full-scale ranges and updates the count-to-unit
// scale accordingly. The periph driver has no DLPF setter, so a non-zero
// DLPFMode is reported and ignored.
func (s *MPU9250Source) Configure(st Settings) error {
	if err := s.dev.SetAccelRange(st.AccelRange); err != nil {
		return fmt.Errorf("mpu9250: set accel range: %w", err)
	}
	if err := s.dev.SetGyroRange(st.GyroRange); err != nil {
		return fmt.Errorf("mpu9250: set gyro range: %w", err)
	}
	if st.DLPFMode != 0 {
		s.logger.Warn("mpu9250: DLPF mode not supported by the driver, ignoring", zap.Uint8("dlpf", st.DLPFMode))
	}
	s.scale = imu.ScaleForRange(st.AccelRange, st.GyroRange)

	s.logger.Info("mpu9250 configured",
		zap.Int("accel_range_g", []int{2, 4, 8, 16}[st.AccelRange&3]),
		zap.Int("gyro_range_dps", []int{250, 500, 1000, 2000}[st.GyroRange&3]),
	)
	return nil
}

// ReadSample reads accelerometer and gyroscope registers and converts them.
func (s *MPU9250Source) ReadSample() (imu.Sample, error) {
	raw, err := s.readRaw()
	if err != nil {
		return imu.Sample{}, err
	}
	acc, gyr := s.scale.Apply(raw)
	return imu.Sample{Acc: acc, Gyr: gyr, Timestamp: s.clock.Now()}, nil
}

func (s *MPU9250Source) readRaw() (imu.IMURaw, error) {
	ax, err := s.dev.GetAccelerationX()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("mpu9250: accel X: %w", err)
	}
	ay, err := s.dev.GetAccelerationY()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("mpu9250: accel Y: %w", err)
	}
	az, err := s.dev.GetAccelerationZ()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("mpu9250: accel Z: %w", err)
	}

	gx, err := s.dev.GetRotationX()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("mpu9250: gyro X: %w", err)
	}
	gy, err := s.dev.GetRotationY()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("mpu9250: gyro Y: %w", err)
	}
	gz, err := s.dev.GetRotationZ()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("mpu9250: gyro Z: %w", err)
	}

	return imu.IMURaw{Ax: ax, Ay: ay, Az: az, Gx: gx, Gy: gy, Gz: gz}, nil
}

// Calibrate re-runs the driver's bias calibration, then waits for the
// configured settling delay.
func (s *MPU9250Source) Calibrate(ctx context.Context) error {
	s.logger.Info("calibrating mpu9250")
	if err := s.dev.Calibrate(); err != nil {
		return fmt.Errorf("mpu9250: calibrate: %w", err)
	}
	if err := settle(ctx, s.settle); err != nil {
		return fmt.Errorf("mpu9250: calibration settle: %w", err)
	}
	s.logger.Info("mpu9250 calibration complete")
	return nil
}

// Close is a no-op; periph owns the SPI port for the process lifetime.
func (s *MPU9250Source) Close() error { return nil }
