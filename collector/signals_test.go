package collector

import (
	"os"
	"path/filepath"
	"testing"
)

func writeProcFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	meminfo := "" +
		"MemTotal:       16384000 kB\n" +
		"MemFree:         1024000 kB\n" +
		"MemAvailable:    4096000 kB\n" +
		"SwapTotal:       8192000 kB\n" +
		"SwapFree:        6144000 kB\n"
	if err := os.WriteFile(filepath.Join(root, "meminfo"), []byte(meminfo), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := os.MkdirAll(filepath.Join(root, "pressure"), 0o700); err != nil {
		t.Fatal(err)
	}
	psi := "some avg10=12.34 avg60=5.00 avg300=1.00 total=123456\n" +
		"full avg10=2.00 avg60=1.00 avg300=0.50 total=654321\n"
	if err := os.WriteFile(filepath.Join(root, "pressure", "memory"), []byte(psi), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(root, "loadavg"),
		[]byte("3.14 2.71 1.41 2/345 6789\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return root
}

func TestProcSignalsParsesFixture(t *testing.T) {
	p := &ProcSignals{Root: writeProcFixture(t)}
	sig, err := p.Signals()
	if err != nil {
		t.Fatalf("Signals: %v", err)
	}

	if sig.LoadAvg1 != 3.14 {
		t.Errorf("load avg = %v", sig.LoadAvg1)
	}
	mem := sig.Memory
	if mem.Total != 16384000*1024 {
		t.Errorf("total = %d", mem.Total)
	}
	if mem.Available != 4096000*1024 {
		t.Errorf("available = %d", mem.Available)
	}
	if mem.SwapUsed != (8192000-6144000)*1024 {
		t.Errorf("swap used = %d", mem.SwapUsed)
	}
	if mem.PSISome10 == nil || *mem.PSISome10 != 12.34 {
		t.Errorf("psi = %v", mem.PSISome10)
	}
	if u := mem.Utilization(); u <= 0 || u >= 1 {
		t.Errorf("utilization = %v", u)
	}
}

func TestProcSignalsMissingPSIIsOptional(t *testing.T) {
	root := writeProcFixture(t)
	if err := os.Remove(filepath.Join(root, "pressure", "memory")); err != nil {
		t.Fatal(err)
	}
	p := &ProcSignals{Root: root}
	sig, err := p.Signals()
	if err != nil {
		t.Fatalf("Signals: %v", err)
	}
	if sig.Memory.PSISome10 != nil {
		t.Error("missing PSI should yield nil")
	}
}

func TestProcSignalsMissingMeminfoFails(t *testing.T) {
	p := &ProcSignals{Root: t.TempDir()}
	if _, err := p.Signals(); err == nil {
		t.Error("missing meminfo should fail")
	}
}
