// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relabs-tech/imu_telemetry/internal/telemetry"
)

// RunConsole connects to a telemetry websocket and prints every pose it
// receives to out. With calibrate set it first asks the device to calibrate.
func RunConsole(ctx context.Context, url string, calibrate bool, out io.Writer, logger *zap.Logger) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", url, err)
	}
	defer conn.Close()
	logger.Info("connected to telemetry", zap.String("url", url))

	// Unblock ReadMessage on cancellation.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if calibrate {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(telemetry.CalibrateCommand)); err != nil {
			return fmt.Errorf("send calibrate: %w", err)
		}
		logger.Info("calibration requested")
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Info("telemetry closed the connection")
				return nil
			}
			return fmt.Errorf("read telemetry: %w", err)
		}

		printMessage(out, data, logger)
	}
}

// printMessage decodes one wire message and prints it as a single line.
func printMessage(out io.Writer, data []byte, logger *zap.Logger) {
	msg, err := telemetry.DecodeMessage(data)
	if err != nil {
		logger.Warn("bad telemetry message", zap.Error(err))
		return
	}
	pose, err := msg.Pose()
	if err != nil {
		logger.Warn("bad telemetry pose", zap.Error(err))
		return
	}

	line := fmt.Sprintf("ROLL=%7.2f  PITCH=%7.2f  YAW=%7.2f", pose.Roll, pose.Pitch, pose.Yaw)
	if msg.Detailed() {
		line += fmt.Sprintf("  ACC=(%s,%s,%s)  GYR=(%s,%s,%s)",
			msg.AccX, msg.AccY, msg.AccZ, msg.GyrX, msg.GyrY, msg.GyrZ)
	}
	fmt.Fprintln(out, line)
}
