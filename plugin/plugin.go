// Package plugin runs evidence and action plugins as subprocesses with
// enforced output-size and wall-clock limits. Evidence plugins contribute
// per-class log-likelihoods that the posterior folds in under
// "plugin:<name>"; action plugins are observers only and may not send
// signals. A plugin that times out or emits malformed JSON repeatedly is
// auto-disabled by a circuit breaker.
package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/ptops/ptriage/model"
	"github.com/ptops/ptriage/pterrors"
)

// Config bounds plugin execution.
type Config struct {
	// Timeout is the wall-clock limit per invocation.
	Timeout time.Duration `json:"timeout"`
	// MaxOutputBytes caps stdout; larger output fails the invocation.
	MaxOutputBytes int64 `json:"max_output_bytes"`
	// Weight in (0,1] scales evidence log-likelihoods toward 0 before
	// folding.
	Weight float64 `json:"weight"`
	// DisableAfterFailures trips the breaker.
	DisableAfterFailures int `json:"disable_after_failures"`
}

// DefaultConfig returns the embedded plugin bounds.
func DefaultConfig() Config {
	return Config{
		Timeout:              5 * time.Second,
		MaxOutputBytes:       1 << 20,
		Weight:               0.5,
		DisableAfterFailures: 3,
	}
}

// EvidenceRequest is the JSON sent to an evidence plugin on stdin.
type EvidenceRequest struct {
	PIDs   []uint32 `json:"pids"`
	ScanID string   `json:"scan_id,omitempty"`
}

// EvidenceRow is one process's plugin-contributed evidence.
type EvidenceRow struct {
	PID            uint32            `json:"pid"`
	Features       map[string]string `json:"features,omitempty"`
	LogLikelihoods model.ClassScores `json:"log_likelihoods"`
}

// EvidenceResponse is the JSON an evidence plugin writes to stdout.
type EvidenceResponse struct {
	Plugin   string        `json:"plugin"`
	Version  string        `json:"version"`
	Evidence []EvidenceRow `json:"evidence"`
}

// ActionNotice is the JSON sent to an action plugin (observe-only).
type ActionNotice struct {
	Action         string  `json:"action"`
	PID            uint32  `json:"pid"`
	ProcessName    string  `json:"process_name"`
	Classification string  `json:"classification"`
	Confidence     float64 `json:"confidence"`
	SessionID      string  `json:"session_id,omitempty"`
}

// ActionAck is the plugin's response to a notice.
type ActionAck struct {
	Plugin  string `json:"plugin"`
	Status  string `json:"status"` // ok, failed, skipped
	Message string `json:"message,omitempty"`
}

// Runner executes one configured plugin binary behind a failure breaker.
type Runner struct {
	name    string
	command []string
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

// NewRunner builds a runner for a plugin command line.
func NewRunner(name string, command []string, cfg Config, log *zap.Logger) *Runner {
	failures := cfg.DisableAfterFailures
	if failures <= 0 {
		failures = DefaultConfig().DisableAfterFailures
	}
	settings := gobreaker.Settings{
		Name: "plugin:" + name,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		// A disabled plugin retries after a long cool-off.
		Timeout: 10 * time.Minute,
	}
	if log != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			log.Warn("plugin breaker state change",
				zap.String("plugin", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		}
	}
	return &Runner{
		name:    name,
		command: command,
		cfg:     cfg,
		breaker: gobreaker.NewCircuitBreaker(settings),
		log:     log,
	}
}

// Name returns the plugin name.
func (r *Runner) Name() string { return r.name }

// Disabled reports whether the breaker currently rejects invocations.
func (r *Runner) Disabled() bool {
	return r.breaker.State() == gobreaker.StateOpen
}

// CollectEvidence invokes the plugin for a batch of pids and returns the
// contributed terms with log-likelihoods scaled toward zero by the
// configured weight.
func (r *Runner) CollectEvidence(ctx context.Context, req EvidenceRequest) (map[uint32]model.PluginEvidence, error) {
	out, err := r.breaker.Execute(func() (any, error) {
		return r.invoke(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	resp := out.(*EvidenceResponse)

	weight := r.cfg.Weight
	if weight <= 0 || weight > 1 {
		weight = DefaultConfig().Weight
	}
	result := make(map[uint32]model.PluginEvidence, len(resp.Evidence))
	for _, row := range resp.Evidence {
		var scaled model.ClassScores
		for _, c := range model.Classes {
			scaled.Set(c, row.LogLikelihoods.Get(c)*weight)
		}
		result[row.PID] = model.PluginEvidence{
			Plugin:         resp.Plugin,
			LogLikelihoods: scaled,
		}
	}
	return result, nil
}

// NotifyAction sends an observe-only action notice and returns the ack.
func (r *Runner) NotifyAction(ctx context.Context, notice ActionNotice) (ActionAck, error) {
	out, err := r.breaker.Execute(func() (any, error) {
		data, err := r.run(ctx, mustJSON(notice))
		if err != nil {
			return nil, err
		}
		var ack ActionAck
		if err := json.Unmarshal(data, &ack); err != nil {
			return nil, pterrors.Wrap(pterrors.KindJson, err, "plugin %s ack", r.name)
		}
		return &ack, nil
	})
	if err != nil {
		return ActionAck{}, err
	}
	return *out.(*ActionAck), nil
}

func (r *Runner) invoke(ctx context.Context, req EvidenceRequest) (*EvidenceResponse, error) {
	data, err := r.run(ctx, mustJSON(req))
	if err != nil {
		return nil, err
	}
	var resp EvidenceResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, pterrors.Wrap(pterrors.KindJson, err, "plugin %s output", r.name)
	}
	if resp.Plugin == "" {
		resp.Plugin = r.name
	}
	return &resp, nil
}

// run executes the plugin subprocess with the configured limits.
func (r *Runner) run(ctx context.Context, stdin []byte) ([]byte, error) {
	if len(r.command) == 0 {
		return nil, pterrors.New(pterrors.KindConfig, "plugin %s has no command", r.name)
	}
	timeout := r.cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.command[0], r.command[1:]...)
	cmd.Stdin = bytes.NewReader(stdin)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, pterrors.Wrap(pterrors.KindIo, err, "plugin %s stdout", r.name)
	}
	if err := cmd.Start(); err != nil {
		return nil, pterrors.Wrap(pterrors.KindActionFailed, err, "plugin %s start", r.name)
	}

	maxBytes := r.cfg.MaxOutputBytes
	if maxBytes <= 0 {
		maxBytes = DefaultConfig().MaxOutputBytes
	}
	data, readErr := io.ReadAll(io.LimitReader(stdout, maxBytes+1))
	waitErr := cmd.Wait()

	if ctx.Err() == context.DeadlineExceeded {
		return nil, pterrors.New(pterrors.KindActionTimeout, "plugin %s timed out", r.name)
	}
	if readErr != nil {
		return nil, pterrors.Wrap(pterrors.KindIo, readErr, "plugin %s read", r.name)
	}
	if int64(len(data)) > maxBytes {
		return nil, pterrors.New(pterrors.KindActionFailed,
			"plugin %s output exceeds %d bytes", r.name, maxBytes)
	}
	if waitErr != nil {
		return nil, pterrors.Wrap(pterrors.KindActionFailed, waitErr, "plugin %s exited", r.name)
	}
	return data, nil
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
