// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"

	"github.com/relabs-tech/imu_telemetry/internal/imu"
)

// SerialSource reads samples streamed by a microcontroller over a UART, one
// CSV line per sample in physical units:
//
//	ax,ay,az,gx,gy,gz[,mx,my,mz]
//
// (g, deg/s, µT). Commands are written back as text lines: "calibrate" and
// "config <accel_range> <gyro_range> <dlpf>".
type SerialSource struct {
	port   io.ReadWriteCloser
	clock  Clock
	settle time.Duration
	logger *zap.Logger

	latest chan imu.Sample
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// OpenSerialSource opens the serial port and starts reading lines.
func OpenSerialSource(portName string, baudRate int, clock Clock, settleDelay time.Duration, logger *zap.Logger) (*SerialSource, error) {
	opts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              uint(baudRate),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("serial imu: open %s: %w", portName, err)
	}
	logger.Info("serial imu port opened", zap.String("port", portName), zap.Int("baud", baudRate))

	return NewSerialSource(port, clock, settleDelay, logger), nil
}

// NewSerialSource wraps an already open port.
func NewSerialSource(port io.ReadWriteCloser, clock Clock, settleDelay time.Duration, logger *zap.Logger) *SerialSource {
	s := &SerialSource{
		port:   port,
		clock:  clock,
		settle: settleDelay,
		logger: logger,
		latest: make(chan imu.Sample, 1),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *SerialSource) readLoop() {
	defer close(s.done)

	scanner := bufio.NewScanner(s.port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		sample, err := ParseSampleLine(line)
		if err != nil {
			// partial lines are common right after the port opens
			s.logger.Debug("serial imu: dropping line", zap.String("line", line), zap.Error(err))
			continue
		}
		sample.Timestamp = s.clock.Now()

		// Keep only the newest sample.
		select {
		case <-s.latest:
		default:
		}
		s.latest <- sample
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("serial imu: read loop stopped", zap.Error(err))
	}
}

// ParseSampleLine parses one "ax,ay,az,gx,gy,gz[,mx,my,mz]" line.
func ParseSampleLine(line string) (imu.Sample, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 6 && len(fields) != 9 {
		return imu.Sample{}, fmt.Errorf("expected 6 or 9 fields, got %d", len(fields))
	}

	var v [9]float64
	for i, f := range fields {
		x, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return imu.Sample{}, fmt.Errorf("field %d: %w", i, err)
		}
		v[i] = x
	}

	return imu.Sample{
		Acc: imu.Vec3{X: v[0], Y: v[1], Z: v[2]},
		Gyr: imu.Vec3{X: v[3], Y: v[4], Z: v[5]},
		Mag: imu.Vec3{X: v[6], Y: v[7], Z: v[8]},
	}, nil
}

// Configure sends the range settings to the microcontroller.
func (s *SerialSource) Configure(st Settings) error {
	cmd := fmt.Sprintf("config %d %d %d", st.AccelRange, st.GyroRange, st.DLPFMode)
	if err := s.writeLine(cmd); err != nil {
		return fmt.Errorf("serial imu: configure: %w", err)
	}
	return nil
}

// ReadSample returns the newest unread sample, or ErrNoSample.
func (s *SerialSource) ReadSample() (imu.Sample, error) {
	select {
	case sample := <-s.latest:
		return sample, nil
	default:
	}
	select {
	case <-s.done:
		return imu.Sample{}, fmt.Errorf("serial imu: port closed")
	default:
		return imu.Sample{}, ErrNoSample
	}
}

// Calibrate asks the microcontroller to redo its offsets, then waits.
func (s *SerialSource) Calibrate(ctx context.Context) error {
	s.logger.Info("calibrating serial imu")
	if err := s.writeLine("calibrate"); err != nil {
		return fmt.Errorf("serial imu: calibrate: %w", err)
	}
	if err := settle(ctx, s.settle); err != nil {
		return fmt.Errorf("serial imu: calibration settle: %w", err)
	}
	// Samples queued while the offsets were changing are stale.
	select {
	case <-s.latest:
	default:
	}
	s.logger.Info("serial imu calibration complete")
	return nil
}

func (s *SerialSource) writeLine(line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := io.WriteString(s.port, line+"\n")
	return err
}

// Close closes the port and stops the reader.
func (s *SerialSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.port.Close()
	})
	return err
}
