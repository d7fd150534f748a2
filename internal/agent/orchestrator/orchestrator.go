// Package orchestrator drives the outer conversation loop: one streaming
// session per active agent persona, with the shared dialogue history carried
// across user-requested handoffs and channel failures retried under an
// explicit backoff policy.
//
// The orchestrator is the only component that constructs sessions and audio
// bridges. It guarantees at most one session is streaming at a time and that
// the audio device is fully released between sessions, so a handoff never
// has two bridges contending for the hardware.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/switchboard/internal/agent"
	"github.com/MrWong99/switchboard/internal/observe"
	"github.com/MrWong99/switchboard/internal/resilience"
	"github.com/MrWong99/switchboard/internal/session"
	"github.com/MrWong99/switchboard/pkg/audio"
	"github.com/MrWong99/switchboard/pkg/channel"
	"github.com/MrWong99/switchboard/pkg/conversation"
	"github.com/MrWong99/switchboard/pkg/tools"
	"github.com/MrWong99/switchboard/pkg/wire"
)

// defaultMaxRestarts bounds consecutive channel-error restarts before the
// orchestrator gives up. The counter resets whenever a session ends cleanly.
const defaultMaxRestarts = 3

// ErrDeviceFailed is returned by Run when the audio device died. Device
// failures are not retried here; a supervising layer may restart the whole
// loop once the hardware recovers.
var ErrDeviceFailed = errors.New("orchestrator: audio device failed")

// Config carries the collaborators and settings for an [Orchestrator].
// Dialer, Device, Dispatcher, and Registry are required.
type Config struct {
	// Dialer establishes each session's streaming connection.
	Dialer channel.Dialer

	// Channel is the connection configuration handed to the dialer.
	Channel channel.Config

	// Device is the audio hardware. Exactly one bridge owns it at a time.
	Device audio.Device

	// Dispatcher executes tool invocations for every session.
	Dispatcher *tools.Dispatcher

	// Registry holds the persona profiles and resolves handoff targets.
	Registry *agent.Registry

	// DefaultAgent names the persona that answers first. Empty selects the
	// registry's first profile in name order.
	DefaultAgent string

	// Inference tunes the remote model, identically for every session.
	Inference wire.InferenceConfig

	// CaptureFormat and PlaybackFormat are the PCM formats the bridge runs.
	CaptureFormat  audio.Format
	PlaybackFormat audio.Format

	// MaxRestarts bounds consecutive channel-error restarts. Zero means the
	// package default of 3.
	MaxRestarts int

	// Restart is the delay policy between channel-error restarts. The zero
	// value applies the resilience package defaults.
	Restart resilience.Backoff

	// Metrics receives orchestration instrumentation. Defaults to
	// [observe.DefaultMetrics] when nil.
	Metrics *observe.Metrics
}

// Orchestrator owns the conversation across agent handoffs. Construct with
// [New] and drive with [Run]; Run may only be in flight once at a time.
type Orchestrator struct {
	cfg     Config
	history *conversation.History

	mu       sync.Mutex
	active   string
	handoffs int
}

// New validates cfg and builds an orchestrator with an empty history.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Dialer == nil:
		return nil, errors.New("orchestrator: Dialer is required")
	case cfg.Device == nil:
		return nil, errors.New("orchestrator: Device is required")
	case cfg.Dispatcher == nil:
		return nil, errors.New("orchestrator: Dispatcher is required")
	case cfg.Registry == nil || cfg.Registry.Len() == 0:
		return nil, errors.New("orchestrator: Registry with at least one profile is required")
	}

	start := cfg.DefaultAgent
	if start == "" {
		start = cfg.Registry.Names()[0]
	}
	if _, err := cfg.Registry.Get(start); err != nil {
		return nil, fmt.Errorf("orchestrator: default agent: %w", err)
	}
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = defaultMaxRestarts
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	return &Orchestrator{
		cfg:     cfg,
		history: conversation.NewHistory(),
		active:  start,
	}, nil
}

// History returns the shared dialogue history. Callers must not mutate it
// while a session is streaming.
func (o *Orchestrator) History() *conversation.History { return o.history }

// ActiveAgent reports the persona currently (or last) holding the call.
func (o *Orchestrator) ActiveAgent() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Handoffs reports how many agent switches have completed.
func (o *Orchestrator) Handoffs() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.handoffs
}

// Run loops over sessions until the conversation ends normally, the context
// is cancelled, the device fails, or channel restarts are exhausted.
//
// Each iteration runs exactly one session for the active agent and tears the
// audio bridge fully down before the next iteration begins, so the device is
// never shared between two sessions.
func (o *Orchestrator) Run(ctx context.Context) error {
	restarts := 0
	var switchedAt time.Time

	for {
		profile, err := o.cfg.Registry.Get(o.ActiveAgent())
		if err != nil {
			return fmt.Errorf("orchestrator: active agent vanished: %w", err)
		}

		outcome, devErr, runErr := o.runSession(ctx, profile, switchedAt)
		switchedAt = time.Time{}

		switch {
		case devErr != nil:
			return fmt.Errorf("%w: %v", ErrDeviceFailed, devErr)

		case runErr == nil && outcome.SwitchRequested:
			o.handoff(ctx, profile.Name, outcome.Target)
			switchedAt = time.Now()
			restarts = 0

		case runErr == nil:
			slog.Info("conversation complete", "agent", profile.Name, "turns", o.history.Len())
			return nil

		case ctx.Err() != nil:
			return runErr

		default:
			// A channel failure is recoverable: re-dial for the same agent
			// with the full history so the model regains its context.
			restarts++
			if restarts > o.cfg.MaxRestarts {
				o.cfg.Metrics.RecordReconnect(ctx, "exhausted")
				return fmt.Errorf("orchestrator: giving up after %d restarts: %w", o.cfg.MaxRestarts, runErr)
			}
			o.cfg.Metrics.RecordReconnect(ctx, "retry")
			slog.Warn("session failed, restarting",
				"agent", profile.Name, "attempt", restarts, "max", o.cfg.MaxRestarts, "error", runErr)
			if err := o.cfg.Restart.Sleep(ctx, restarts-1); err != nil {
				return err
			}
		}
	}
}

// runSession runs one complete session for profile, bracketed by the audio
// bridge's lifecycle. The returned devErr is non-nil when the bridge's device
// failed; runErr carries the session's own verdict.
func (o *Orchestrator) runSession(ctx context.Context, profile agent.Profile, switchedAt time.Time) (outcome session.Outcome, devErr, runErr error) {
	bridge := audio.New(o.cfg.Device, o.cfg.CaptureFormat, o.cfg.PlaybackFormat)
	if err := bridge.Start(ctx); err != nil {
		return session.Outcome{}, err, nil
	}
	defer func() {
		if err := bridge.Stop(); err != nil {
			slog.Warn("bridge teardown", "agent", profile.Name, "error", err)
		}
		if err := bridge.Err(); err != nil {
			devErr = err
		}
	}()

	sess := session.New(session.Config{
		Dialer:         o.cfg.Dialer,
		Channel:        o.cfg.Channel,
		Bridge:         bridge,
		Dispatcher:     o.cfg.Dispatcher,
		Registry:       o.cfg.Registry,
		Profile:        profile,
		History:        o.history,
		Inference:      o.cfg.Inference,
		CaptureFormat:  o.cfg.CaptureFormat,
		PlaybackFormat: o.cfg.PlaybackFormat,
		Metrics:        o.cfg.Metrics,
	})

	if !switchedAt.IsZero() {
		o.cfg.Metrics.HandoffDuration.Record(ctx, time.Since(switchedAt).Seconds(),
			metric.WithAttributes(observe.Attr("to", profile.Name)))
	}

	outcome, runErr = sess.Run(ctx)
	return outcome, nil, runErr
}

// handoff prepares the loop for the next persona: the history is trimmed of
// the interrupted assistant turn and the target becomes the active agent.
func (o *Orchestrator) handoff(ctx context.Context, from, to string) {
	o.history.Reset(conversation.TrimForHandoff(o.history.Turns()))

	o.mu.Lock()
	o.active = to
	o.handoffs++
	n := o.handoffs
	o.mu.Unlock()

	o.cfg.Metrics.RecordHandoff(ctx, from, to)
	slog.Info("transferring conversation",
		"from", from, "to", to, "handoff", n, "carried_turns", o.history.Len())
}
