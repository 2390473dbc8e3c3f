// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package display renders the live orientation on a 128x64 SSD1306 OLED.
package display

import (
	"fmt"
	"image"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/imu_telemetry/internal/orientation"
)

const (
	Width  = 128
	Height = 64

	// DefaultAddr is the only address the ssd1306 I2C driver talks to.
	DefaultAddr = 0x3C
)

// Device is the subset of *ssd1306.Dev the panel draws through.
type Device interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
	Halt() error
}

// Status is what one frame shows.
type Status struct {
	Pose        orientation.Pose
	Subscribers int
	Source      string
}

// Panel redraws the display at most once per interval.
type Panel struct {
	dev      Device
	interval time.Duration
	last     time.Duration
	drawn    bool
	release  func() error
}

// New wraps an already opened device.
func New(dev Device, interval time.Duration) *Panel {
	return &Panel{dev: dev, interval: interval}
}

// Open initializes periph, opens the default I2C bus and the SSD1306 on it.
func Open(addr uint16, interval time.Duration) (*Panel, error) {
	if addr != DefaultAddr {
		return nil, fmt.Errorf("display: unsupported I2C address 0x%02X (driver uses 0x%02X)", addr, DefaultAddr)
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("display: failed to initialize periph: %w", err)
	}
	bus, err := i2creg.Open("")
	if err != nil {
		return nil, fmt.Errorf("display: failed to open I2C bus: %w", err)
	}
	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("display: failed to initialize ssd1306: %w", err)
	}
	p := New(dev, interval)
	p.release = bus.Close
	return p, nil
}

// Splash shows a two line banner until the first Update.
func (p *Panel) Splash(title, subtitle string) error {
	img, d := canvas()
	drawLine(d, 5, 26, title)
	drawLine(d, 5, 43, subtitle)
	return p.dev.Draw(p.dev.Bounds(), img, image.Point{})
}

// Update redraws when interval has elapsed since the last frame, using the
// loop's clock. It reports whether a frame was drawn.
func (p *Panel) Update(now time.Duration, st Status) (bool, error) {
	if p.drawn && now-p.last < p.interval {
		return false, nil
	}
	p.last = now
	p.drawn = true
	if err := p.dev.Draw(p.dev.Bounds(), Render(st), image.Point{}); err != nil {
		return true, fmt.Errorf("display: draw: %w", err)
	}
	return true, nil
}

// Close blanks the display and releases the bus.
func (p *Panel) Close() error {
	err := p.dev.Halt()
	if p.release != nil {
		if rerr := p.release(); err == nil {
			err = rerr
		}
	}
	return err
}

// Render draws one frame: the three angles and the subscriber count.
func Render(st Status) *image1bit.VerticalLSB {
	img, d := canvas()
	drawLine(d, 0, 13, fmt.Sprintf("R: %7.1f", st.Pose.Roll))
	drawLine(d, 0, 26, fmt.Sprintf("P: %7.1f", st.Pose.Pitch))
	drawLine(d, 0, 39, fmt.Sprintf("Y: %7.1f", st.Pose.Yaw))
	drawLine(d, 0, 56, fmt.Sprintf("%s  subs:%d", st.Source, st.Subscribers))
	return img
}

func canvas() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, Width, Height))
	return img, &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
}

func drawLine(d *font.Drawer, x, y int, s string) {
	d.Dot = fixed.P(x, y)
	d.DrawString(s)
}
