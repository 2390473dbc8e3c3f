// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/relabs-tech/imu_telemetry/internal/app"
)

func main() {
	url := flag.String("url", "ws://localhost:81/ws", "telemetry websocket URL")
	calibrate := flag.Bool("calibrate", false, "ask the device to calibrate before printing")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger, err := app.NewLogger(*level, "console")
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunConsole(ctx, *url, *calibrate, os.Stdout, logger); err != nil {
		logger.Fatal("console stopped", zap.Error(err))
	}
}
