package engine

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ptops/ptriage/bundle"
	"github.com/ptops/ptriage/collector"
	"github.com/ptops/ptriage/inbox"
	"github.com/ptops/ptriage/pressure"
)

// DaemonConfig holds daemon-specific configuration.
type DaemonConfig struct {
	DataDir    string
	Interval   time.Duration
	BundlePath string
	Passphrase string
	// MetricsAddr serves prometheus metrics when non-empty.
	MetricsAddr string
	Triggers    []TriggerConfig
}

// compactSummary is the minimal per-tick record for the rolling log.
type compactSummary struct {
	Timestamp   time.Time `json:"ts"`
	Pressure    string    `json:"pressure"`
	LoadAvg1    float64   `json:"load_avg_1"`
	MemUsedPct  float64   `json:"mem_pct"`
	SwapUsedPct float64   `json:"swap_pct"`
	PSISome10   float64   `json:"psi_some10,omitempty"`
	OrphanCount int       `json:"orphans"`
	Fired       []string  `json:"fired,omitempty"`
}

// Daemon runs the tick loop: sample signals, advance the trigger machine,
// track memory pressure, surface fires into the inbox, and hot-reload the
// policy bundle when its file changes.
type Daemon struct {
	cfg     DaemonConfig
	log     *zap.Logger
	signals collector.SignalsProvider
	inbox   *inbox.Store
	metrics *Metrics

	triggers *TriggerMachine
	monitor  *pressure.Monitor

	mu     sync.RWMutex
	bundle bundle.Bundle
}

// NewDaemon wires a daemon from its collaborators.
func NewDaemon(cfg DaemonConfig, signals collector.SignalsProvider, log *zap.Logger) *Daemon {
	if cfg.Triggers == nil {
		cfg.Triggers = DefaultTriggers()
	}
	b := bundle.LoadOrDefault(cfg.BundlePath, cfg.Passphrase, log)
	return &Daemon{
		cfg:      cfg,
		log:      log,
		signals:  signals,
		inbox:    inbox.NewStore(cfg.DataDir),
		metrics:  NewMetrics(),
		triggers: NewTriggerMachine(cfg.Triggers),
		monitor:  pressure.NewMonitor(b.Policy.Pressure),
		bundle:   b,
	}
}

// Bundle returns the current policy bundle snapshot.
func (d *Daemon) Bundle() bundle.Bundle {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.bundle
}

// Metrics exposes the daemon's instrumentation.
func (d *Daemon) Metrics() *Metrics { return d.metrics }

// Run loops until SIGINT/SIGTERM. Returns on shutdown or setup error.
func (d *Daemon) Run() error {
	if err := os.MkdirAll(d.cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath := filepath.Join(d.cfg.DataDir, "daemon.pid")
	if err := os.WriteFile(pidPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o600); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	watcher := d.watchBundle()
	if watcher != nil {
		defer watcher.Close()
	}

	if d.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", d.metrics.Handler())
		go func() {
			if err := http.ListenAndServe(d.cfg.MetricsAddr, mux); err != nil {
				d.log.Warn("metrics listener stopped", zap.Error(err))
			}
		}()
	}

	interval := d.cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	summaryPath := filepath.Join(d.cfg.DataDir, "current.jsonl")
	d.log.Info("daemon started",
		zap.Int("pid", os.Getpid()),
		zap.Duration("interval", interval),
		zap.String("data_dir", d.cfg.DataDir))

	for {
		select {
		case <-sigCh:
			d.log.Info("daemon shutting down")
			return nil
		case <-ticker.C:
			d.tick(summaryPath)
		}
	}
}

// tick runs one sample-evaluate-record cycle.
func (d *Daemon) tick(summaryPath string) {
	d.metrics.TicksTotal.Inc()

	sig, err := d.signals.Signals()
	if err != nil {
		d.log.Warn("signal sample failed", zap.Error(err))
		return
	}

	mode := d.monitor.Observe(sig.Memory)
	d.metrics.PressureMode.Set(pressureRank(mode))

	fired := d.triggers.Tick(sig)
	for _, name := range fired {
		d.metrics.TriggersFired.WithLabelValues(name).Inc()
		d.log.Info("trigger fired", zap.String("trigger", name))
		item := inbox.NewItem(inbox.TypeDormantEscalation,
			"daemon trigger "+name+" fired; a triage scan is warranted")
		item.ReviewCommand = "ptriage scan --trigger " + name
		if err := d.inbox.Add(item); err != nil {
			d.log.Warn("inbox write failed", zap.Error(err))
		}
	}

	summary := compactSummary{
		Timestamp:   sig.Timestamp,
		Pressure:    string(mode),
		LoadAvg1:    sig.LoadAvg1,
		MemUsedPct:  sig.Memory.Utilization() * 100,
		SwapUsedPct: sig.Memory.SwapUtilization() * 100,
		OrphanCount: sig.OrphanCount,
		Fired:       fired,
	}
	if sig.Memory.PSISome10 != nil {
		summary.PSISome10 = *sig.Memory.PSISome10
	}
	writeSummaryLine(summaryPath, summary)
}

// watchBundle reloads the policy bundle atomically when its file changes.
// Verification runs on every reload; a bad bundle keeps the old snapshot.
func (d *Daemon) watchBundle() *fsnotify.Watcher {
	if d.cfg.BundlePath == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.log.Warn("bundle watcher unavailable", zap.Error(err))
		return nil
	}
	if err := watcher.Add(filepath.Dir(d.cfg.BundlePath)); err != nil {
		d.log.Warn("bundle watch failed", zap.Error(err))
		watcher.Close()
		return nil
	}
	go func() {
		for event := range watcher.Events {
			if event.Name != d.cfg.BundlePath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			b, err := bundle.LoadFromFile(d.cfg.BundlePath, d.cfg.Passphrase)
			if err != nil {
				d.log.Warn("bundle reload rejected", zap.Error(err))
				continue
			}
			d.mu.Lock()
			d.bundle = b
			d.mu.Unlock()
			d.log.Info("bundle reloaded",
				zap.String("mode", string(b.PolicyMode)),
				zap.String("hash", shortHash(b.PolicyHash)))
		}
	}()
	return watcher
}

func pressureRank(m pressure.Mode) float64 {
	switch m {
	case pressure.ModeEmergency:
		return 2
	case pressure.ModeModerate:
		return 1
	default:
		return 0
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// writeSummaryLine appends a compact JSON line, rotating at 10MB.
func writeSummaryLine(path string, s compactSummary) {
	if info, err := os.Stat(path); err == nil && info.Size() > 10*1024*1024 {
		_ = os.Rename(path, path+".old")
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	_ = json.NewEncoder(f).Encode(s)
}
