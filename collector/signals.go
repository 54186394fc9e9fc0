package collector

import (
	"fmt"
	"strings"
	"time"

	"github.com/ptops/ptriage/model"
	"github.com/ptops/ptriage/util"
)

// ProcSignals reads host signals from /proc. It is the default
// SignalsProvider on Linux.
type ProcSignals struct {
	// Root overrides the proc mount for tests; empty means "/proc".
	Root string
}

func (p *ProcSignals) root() string {
	if p.Root != "" {
		return p.Root
	}
	return "/proc"
}

// Signals samples memory, PSI, and the load average. The orphan count is
// not sampled; OrphanCount stays zero.
func (p *ProcSignals) Signals() (model.HostSignals, error) {
	now := time.Now()
	sig := model.HostSignals{Timestamp: now}

	mem, err := p.memory(now)
	if err != nil {
		return sig, err
	}
	sig.Memory = mem

	if load, err := p.loadAvg1(); err == nil {
		sig.LoadAvg1 = load
	}
	return sig, nil
}

// memory reads /proc/meminfo and /proc/pressure/memory.
func (p *ProcSignals) memory(now time.Time) (model.MemorySignals, error) {
	kv, err := util.ParseKeyValueFile(p.root() + "/meminfo")
	if err != nil {
		return model.MemorySignals{}, fmt.Errorf("read meminfo: %w", err)
	}

	total := util.ParseUint64(kv["MemTotal"]) * 1024
	available := util.ParseUint64(kv["MemAvailable"]) * 1024
	swapTotal := util.ParseUint64(kv["SwapTotal"]) * 1024
	swapFree := util.ParseUint64(kv["SwapFree"]) * 1024

	sig := model.MemorySignals{
		Total:     total,
		Available: available,
		SwapTotal: swapTotal,
		SwapUsed:  swapTotal - swapFree,
		Timestamp: now,
	}
	if total >= available {
		sig.Used = total - available
	}

	if psi, ok := p.psiSome10(); ok {
		sig.PSISome10 = &psi
	}
	return sig, nil
}

// psiSome10 reads the some/avg10 value from /proc/pressure/memory.
// Format: "some avg10=0.00 avg60=0.00 avg300=0.00 total=0"
func (p *ProcSignals) psiSome10() (float64, bool) {
	content, err := util.ReadFileString(p.root() + "/pressure/memory")
	if err != nil {
		return 0, false
	}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "some") {
			continue
		}
		for _, field := range strings.Fields(line) {
			if v, ok := strings.CutPrefix(field, "avg10="); ok {
				return util.ParseFloat64(v), true
			}
		}
	}
	return 0, false
}

// loadAvg1 reads the 1-minute load average from /proc/loadavg.
func (p *ProcSignals) loadAvg1() (float64, error) {
	content, err := util.ReadFileString(p.root() + "/loadavg")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty loadavg")
	}
	return util.ParseFloat64(fields[0]), nil
}
