// Package cmd is the thin CLI wiring: flag parsing, collaborator
// construction, and exit-code mapping. The decision core stays behind the
// engine package.
package cmd

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ptops/ptriage/bundle"
	"github.com/ptops/ptriage/collector"
	"github.com/ptops/ptriage/config"
	"github.com/ptops/ptriage/engine"
	"github.com/ptops/ptriage/exitcode"
	"github.com/ptops/ptriage/inbox"
	"github.com/ptops/ptriage/model"
)

// Version is set at build time via ldflags.
var Version = "0.1.0"

// ExitCodeError carries a documented exit code out of Run.
type ExitCodeError struct {
	Code exitcode.Code
	Msg  string
}

func (e ExitCodeError) Error() string { return e.Msg }

// Run parses flags and dispatches. Returns an ExitCodeError for documented
// exit codes.
func Run() error {
	var (
		daemonMode   = flag.Bool("daemon", false, "run the background daemon")
		dataDir      = flag.String("data-dir", "", "override the data directory")
		interval     = flag.Duration("interval", 0, "daemon tick interval")
		metricsAddr  = flag.String("metrics", "", "prometheus metrics listen address")
		bundlePath   = flag.String("bundle", "", "policy bundle path")
		verifyBundle = flag.Bool("verify-bundle", false, "verify the policy bundle and exit")
		inboxList    = flag.Bool("inbox", false, "list unread inbox items")
		inboxAck     = flag.String("ack", "", "acknowledge an inbox item by id")
		showVersion  = flag.Bool("version", false, "print version")
		jsonOut      = flag.Bool("json", false, "machine-readable output")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("ptriage %s (schema %s)\n", Version, model.SchemaVersion)
		return nil
	}

	log, err := zap.NewProduction()
	if err != nil {
		return ExitCodeError{Code: exitcode.InternalError, Msg: err.Error()}
	}
	defer log.Sync()

	cfg := config.Load(log)
	dir := *dataDir
	if dir == "" {
		dir = config.DataDir()
	}
	if dir == "" {
		return ExitCodeError{Code: exitcode.ArgsError, Msg: "cannot determine data directory"}
	}

	bPath := *bundlePath
	if bPath == "" {
		bPath = cfg.BundlePath
	}
	if bPath == "" {
		bPath = filepath.Join(dir, "policy-bundle.json")
	}

	switch {
	case *verifyBundle:
		return runVerifyBundle(bPath, *jsonOut)
	case *inboxList:
		return runInboxList(dir, *jsonOut)
	case *inboxAck != "":
		return runInboxAck(dir, *inboxAck)
	case *daemonMode:
		tick := *interval
		if tick == 0 {
			tick = cfg.Interval()
		}
		addr := *metricsAddr
		if addr == "" {
			addr = cfg.MetricsAddr
		}
		daemon := engine.NewDaemon(engine.DaemonConfig{
			DataDir:     dir,
			Interval:    tick,
			BundlePath:  bPath,
			Passphrase:  os.Getenv("PTRIAGE_BUNDLE_PASSPHRASE"),
			MetricsAddr: addr,
		}, &collector.ProcSignals{}, log)
		if err := daemon.Run(); err != nil {
			return ExitCodeError{Code: exitcode.InternalError, Msg: err.Error()}
		}
		return nil
	default:
		flag.Usage()
		return ExitCodeError{Code: exitcode.ArgsError, Msg: "no mode selected"}
	}
}

func runVerifyBundle(path string, jsonOut bool) error {
	b, err := bundle.LoadFromFile(path, os.Getenv("PTRIAGE_BUNDLE_PASSPHRASE"))
	if err != nil {
		if jsonOut {
			printJSON(map[string]any{
				"schema_version": model.SchemaVersion,
				"error_kind":     "schema_validation",
				"message":        err.Error(),
			})
		}
		return ExitCodeError{Code: exitcode.PolicyBlocked, Msg: err.Error()}
	}
	if jsonOut {
		printJSON(map[string]any{
			"schema_version": model.SchemaVersion,
			"bundle_version": b.BundleVersion,
			"policy_mode":    b.PolicyMode,
			"policy_hash":    b.PolicyHash,
		})
	} else {
		fmt.Printf("bundle ok: version=%s mode=%s\n", b.BundleVersion, b.PolicyMode)
	}
	return nil
}

func runInboxList(dataDir string, jsonOut bool) error {
	store := inbox.NewStore(dataDir)
	items, err := store.ListUnread()
	if err != nil {
		return ExitCodeError{Code: exitcode.IoError, Msg: err.Error()}
	}
	if jsonOut {
		printJSON(map[string]any{
			"schema_version": model.SchemaVersion,
			"items":          items,
		})
		return nil
	}
	if len(items) == 0 {
		fmt.Println("inbox empty")
		return nil
	}
	for _, item := range items {
		fmt.Printf("%s  %-22s  %s\n",
			item.CreatedAt.Format(time.RFC3339), item.Type, item.Summary)
	}
	return nil
}

func runInboxAck(dataDir, id string) error {
	store := inbox.NewStore(dataDir)
	item, err := store.Acknowledge(id)
	if err != nil {
		return ExitCodeError{Code: exitcode.SessionError, Msg: err.Error()}
	}
	fmt.Printf("acknowledged %s\n", item.ID)
	return nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
