// Package config holds the CLI configuration types.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Mode selects how the CLI drives the call.
type Mode string

const (
	ModeInteractive Mode = "interactive"
	ModeAuto        Mode = "auto"
)

// Config stores all parameters gathered from CLI flags.
type Config struct {
	Mode Mode

	Audio bool // capture an audio track
	Video bool // capture a video track

	// LoopbackOnly restricts ICE gathering to loopback addresses. Every
	// endpoint lives in this process, so nothing else is reachable anyway.
	LoopbackOnly bool

	// NegotiationTimeout bounds how long the CLI waits for both legs to
	// report connected transports after call. Zero waits indefinitely.
	NegotiationTimeout time.Duration

	HoldDuration  time.Duration // auto mode: time spent in call before hangup
	StatsInterval time.Duration

	ControlAddr string // websocket control surface; empty disables it
	ControlPIN  string // required as ?pin= on the control surface

	Debug bool
}

// Default returns the configuration used when no flags are given.
func Default() Config {
	return Config{
		Mode:               ModeInteractive,
		Audio:              true,
		Video:              true,
		LoopbackOnly:       true,
		NegotiationTimeout: 10 * time.Second,
		HoldDuration:       5 * time.Second,
		StatsInterval:      10 * time.Second,
	}
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeInteractive, ModeAuto:
	default:
		return fmt.Errorf("invalid mode %q: must be %q or %q", c.Mode, ModeInteractive, ModeAuto)
	}
	if !c.Audio && !c.Video {
		return errors.New("at least one of audio or video must be captured")
	}
	if c.NegotiationTimeout < 0 {
		return errors.New("negotiation timeout must not be negative")
	}
	if c.HoldDuration < 0 {
		return errors.New("hold duration must not be negative")
	}
	if c.StatsInterval <= 0 {
		return errors.New("stats interval must be positive")
	}
	if c.ControlAddr != "" && c.ControlPIN == "" {
		return errors.New("control surface requires a PIN")
	}
	return nil
}
