// Multipc — CLI entry point.
//
// This tool captures one local stream and feeds it through two independent
// in-process WebRTC calls (leg A and leg B), each a local/remote peer pair
// negotiated without any network signaling.
//
// It can be driven interactively (default), non-interactively with -auto, or
// remotely through the websocket control surface (-control).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/multipc/internal/call"
	"github.com/1ureka/multipc/internal/config"
	"github.com/1ureka/multipc/internal/control"
	"github.com/1ureka/multipc/internal/media"
	"github.com/1ureka/multipc/internal/rtc"
	"github.com/1ureka/multipc/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := config.Default()

	// CLI flags.
	auto := flag.Bool("auto", false, "Run start → call → hangup without prompts")
	flag.BoolVar(&cfg.Audio, "audio", cfg.Audio, "Capture an audio track")
	flag.BoolVar(&cfg.Video, "video", cfg.Video, "Capture a video track")
	flag.BoolVar(&cfg.LoopbackOnly, "loopback", cfg.LoopbackOnly, "Gather loopback ICE candidates only")
	flag.DurationVar(&cfg.NegotiationTimeout, "timeout", cfg.NegotiationTimeout, "How long to wait for both legs to connect (0 = forever)")
	flag.DurationVar(&cfg.HoldDuration, "hold", cfg.HoldDuration, "Time spent in call before hangup (auto only)")
	flag.DurationVar(&cfg.StatsInterval, "stats", cfg.StatsInterval, "Stats report interval")
	flag.StringVar(&cfg.ControlAddr, "control", "", "Listen address for the websocket control surface, e.g. 127.0.0.1:8080")
	flag.StringVar(&cfg.ControlPIN, "pin", "", "PIN for the control surface (random if empty)")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if *auto {
		cfg.Mode = config.ModeAuto
	}
	if cfg.ControlAddr != "" && cfg.ControlPIN == "" {
		cfg.ControlPIN = control.GeneratePIN(4)
	}
	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Multipc — v%s", version))
	pterm.Println()

	orch, err := newOrchestrator(cfg)
	if err != nil {
		util.LogError("failed to initialise WebRTC: %v", err)
		os.Exit(1)
	}
	defer orch.Close()

	util.StartStatsReporter(ctx, cfg.StatsInterval)

	if cfg.ControlAddr != "" {
		srv := control.NewServer(cfg.ControlPIN, orch)
		addr, err := srv.Start(cfg.ControlAddr)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		defer srv.Close()
		printControlBox(addr.String(), cfg.ControlPIN)
	}

	switch cfg.Mode {
	case config.ModeAuto:
		if err := runAuto(ctx, cfg, orch); err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
	default:
		runInteractive(ctx, cfg, orch)
	}

	util.LogInfo("all endpoints closed")
}

// newOrchestrator wires the synthetic capture device and pion endpoints.
func newOrchestrator(cfg config.Config) (*call.Orchestrator, error) {
	api, err := rtc.NewAPI(cfg)
	if err != nil {
		return nil, err
	}
	return call.New(call.Options{
		Source:      &media.SyntheticSource{},
		Endpoints:   call.PionEndpoints{API: api},
		Constraints: media.Constraints{Audio: cfg.Audio, Video: cfg.Video},
		Sinks: call.Sinks{
			Local: media.LogSink{Name: "local preview"},
			LegA:  media.LogSink{Name: "remote preview A"},
			LegB:  media.LogSink{Name: "remote preview B"},
		},
	}), nil
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runAuto drives one full call: start, call, wait for media, hold, hangup.
func runAuto(ctx context.Context, cfg config.Config, orch *call.Orchestrator) error {
	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("failed to capture media: %w", err)
	}
	if err := orch.Call(ctx); err != nil {
		if orch.State() != call.StateInCall {
			return fmt.Errorf("call failed: %w", err)
		}
		util.LogWarning("call degraded: %v", err)
	}

	if err := waitConnected(ctx, cfg, orch); err != nil {
		util.LogWarning("%v", err)
	}

	select {
	case <-time.After(cfg.HoldDuration):
	case <-ctx.Done():
	}
	return orch.Hangup()
}

// runInteractive shows a menu of the currently enabled actions until the
// user quits or Ctrl+C is pressed.
func runInteractive(ctx context.Context, cfg config.Config, orch *call.Orchestrator) {
	const (
		optStart  = "Start  — Capture local media"
		optCall   = "Call   — Connect leg A and leg B"
		optHangup = "Hang up — Close all four endpoints"
		optState  = "State  — Show leg status"
		optQuit   = "Quit"
	)

	for ctx.Err() == nil {
		controls := orch.Controls()

		var options []string
		if controls.Start {
			options = append(options, optStart)
		}
		if controls.Call {
			options = append(options, optCall)
		}
		if controls.Hangup {
			options = append(options, optHangup)
		}
		options = append(options, optState, optQuit)

		choice, err := pterm.DefaultInteractiveSelect.
			WithOptions(options).
			WithDefaultText(fmt.Sprintf("State: %s", orch.State())).
			Show()
		if err != nil {
			return
		}
		pterm.Println()

		switch choice {
		case optStart:
			if err := orch.Start(ctx); err != nil {
				util.LogError("failed to capture media: %v", err)
			}
		case optCall:
			if err := orch.Call(ctx); err != nil && !errors.Is(err, call.ErrHungUp) {
				util.LogError("call: %v", err)
			}
			if orch.State() == call.StateInCall {
				if err := waitConnected(ctx, cfg, orch); err != nil {
					util.LogWarning("%v", err)
				}
			}
		case optHangup:
			if err := orch.Hangup(); err != nil {
				util.LogWarning("%v", err)
			}
		case optState:
			printLegs(orch)
		case optQuit:
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

func waitConnected(ctx context.Context, cfg config.Config, orch *call.Orchestrator) error {
	if cfg.NegotiationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.NegotiationTimeout)
		defer cancel()
	}
	if err := orch.WaitConnected(ctx); err != nil {
		return fmt.Errorf("legs not connected: %w", err)
	}
	util.LogSuccess("call %s: media flowing on every leg", orch.CallID())
	return nil
}

func printLegs(orch *call.Orchestrator) {
	legs := orch.Legs()
	if len(legs) == 0 {
		util.LogInfo("state: %s, no call", orch.State())
		return
	}

	data := pterm.TableData{{"Leg", "Negotiation", "Local", "Remote"}}
	for _, l := range legs {
		data = append(data, []string{string(l.Leg), l.State.String(), l.LocalState.String(), l.RemoteState.String()})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	pterm.Println()
}

func printControlBox(addr, pin string) {
	url := fmt.Sprintf("ws://%s/ws?pin=%s", addr, pin)
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════╗")
	fmt.Println("║            WebSocket Control Surface             ║")
	fmt.Println("╠══════════════════════════════════════════════════╣")
	fmt.Printf("║  URL : %-41s ║\n", url)
	fmt.Printf("║  PIN : %-41s ║\n", pin)
	fmt.Println("╠══════════════════════════════════════════════════╣")
	fmt.Printf("║  %-47s ║\n", `{"command": start | call | hangup | state}`)
	fmt.Println("╚══════════════════════════════════════════════════╝")
	fmt.Println()
}
