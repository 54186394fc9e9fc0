package bundle

import (
	"bytes"
	"math"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/ptops/ptriage/policy"
)

func TestNewBundleHasValidHash(t *testing.T) {
	b, err := New(policy.Default(), ModeDefault)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b.PolicyHash == "" {
		t.Fatal("missing hash")
	}
	if err := b.VerifyIntegrity(); err != nil {
		t.Errorf("fresh bundle fails integrity: %v", err)
	}
}

func TestRoundTripJSON(t *testing.T) {
	b, _ := New(policy.Default(), ModeDefault)
	data, err := b.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	back, err := FromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if back.BundleVersion != CurrentVersion || back.PolicyMode != ModeDefault {
		t.Errorf("roundtrip changed envelope: %+v", back)
	}
}

func TestTamperedPolicyDetected(t *testing.T) {
	b, _ := New(policy.Default(), ModeDefault)
	b.Policy.LossMatrix.Kill.Useful = 999.0
	if err := b.VerifyIntegrity(); err == nil {
		t.Error("tampered loss matrix passed integrity")
	}
}

func TestUnsupportedVersionRejected(t *testing.T) {
	b, _ := New(policy.Default(), ModeDefault)
	b.BundleVersion = "99.0.0"
	if err := b.VerifyIntegrity(); err == nil {
		t.Error("unsupported version accepted")
	}
}

func TestCanaryFractionValidated(t *testing.T) {
	b, _ := New(policy.Default(), ModeCanary)
	bad := 1.5
	b.CanaryFraction = &bad
	if err := b.VerifyIntegrity(); err == nil {
		t.Error("canary fraction 1.5 accepted")
	}
}

func TestNoHashStillValidates(t *testing.T) {
	b, _ := New(policy.Default(), ModeDefault)
	b.PolicyHash = ""
	if err := b.VerifyIntegrity(); err != nil {
		t.Errorf("hashless bundle rejected: %v", err)
	}
}

func TestShadowNeverAppliesDefaultAlways(t *testing.T) {
	shadow, _ := New(policy.Default(), ModeShadow)
	if !shadow.IsShadow() || shadow.ShouldApply("anything") {
		t.Error("shadow bundle applied")
	}
	def, _ := New(policy.Default(), ModeDefault)
	if !def.ShouldApply("anything") {
		t.Error("default bundle did not apply")
	}
}

func TestCanaryDeterministicPerCandidate(t *testing.T) {
	b, _ := New(policy.Default(), ModeCanary)
	frac := 0.5
	b.CanaryFraction = &frac
	first := b.ShouldApply("process-42")
	for i := 0; i < 100; i++ {
		if b.ShouldApply("process-42") != first {
			t.Fatal("canary decision not deterministic")
		}
	}
}

func TestCanaryRateConvergesToFraction(t *testing.T) {
	b, _ := New(policy.Default(), ModeCanary)
	frac := 0.1
	b.CanaryFraction = &frac

	const n = 10000
	applied := 0
	for i := 0; i < n; i++ {
		if b.ShouldApply("candidate-" + strconv.Itoa(i)) {
			applied++
		}
	}
	rate := float64(applied) / n
	if math.Abs(rate-0.1) > 0.01 {
		t.Errorf("canary rate %v too far from 0.1", rate)
	}
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	b := LoadOrDefault("/nonexistent/bundle.json", "", nil)
	if b.PolicyMode != ModeDefault {
		t.Errorf("fallback mode = %v", b.PolicyMode)
	}
	if err := b.VerifyIntegrity(); err != nil {
		t.Errorf("fallback bundle invalid: %v", err)
	}
}

func TestSaveAndLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.json")

	b, _ := New(policy.Default(), ModeDefault)
	if err := b.Save(path, ""); err != nil {
		t.Fatalf("Save: %v", err)
	}
	back, err := LoadFromFile(path, "")
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if back.PolicyHash != b.PolicyHash {
		t.Error("hash changed across save/load")
	}
}

func TestEncryptedSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.enc")

	b, _ := New(policy.Default(), ModeDefault)
	if err := b.Save(path, "hunter2"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := LoadFromFile(path, "wrong"); err == nil {
		t.Error("wrong passphrase accepted")
	}
	back, err := LoadFromFile(path, "hunter2")
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if back.PolicyHash != b.PolicyHash {
		t.Error("hash changed across encrypted roundtrip")
	}
}

// ── Encryption envelope ─────────────────────────────────────────────────

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plaintext := []byte("policy bundle payload")
	sealed, err := EncryptBytes(plaintext, "secret")
	if err != nil {
		t.Fatalf("EncryptBytes: %v", err)
	}
	if !IsEncrypted(sealed) {
		t.Fatal("missing magic")
	}
	opened, err := DecryptBytes(sealed, "secret")
	if err != nil {
		t.Fatalf("DecryptBytes: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Error("roundtrip mismatch")
	}
}

func TestDecryptRejectsBadHeaders(t *testing.T) {
	sealed, _ := EncryptBytes([]byte("x"), "secret")

	// Zero iterations.
	zeroIters := append([]byte(nil), sealed...)
	zeroIters[8], zeroIters[9], zeroIters[10], zeroIters[11] = 0, 0, 0, 0
	if _, err := DecryptBytes(zeroIters, "secret"); err == nil {
		t.Error("zero iterations accepted")
	}

	// Excessive iterations (> 10_000_000).
	huge := append([]byte(nil), sealed...)
	huge[8], huge[9], huge[10], huge[11] = 0xFF, 0xFF, 0xFF, 0xFF
	if _, err := DecryptBytes(huge, "secret"); err == nil {
		t.Error("excessive iterations accepted")
	}

	// Truncated.
	if _, err := DecryptBytes(sealed[:20], "secret"); err == nil {
		t.Error("truncated envelope accepted")
	}

	// Empty passphrase.
	if _, err := DecryptBytes(sealed, ""); err == nil {
		t.Error("empty passphrase accepted")
	}
	if _, err := EncryptBytes([]byte("x"), ""); err == nil {
		t.Error("encrypt with empty passphrase accepted")
	}
}

func TestDecryptRejectsCorruptedCiphertext(t *testing.T) {
	sealed, _ := EncryptBytes([]byte("payload"), "secret")
	sealed[len(sealed)-1] ^= 0xFF
	if _, err := DecryptBytes(sealed, "secret"); err == nil {
		t.Error("corrupted ciphertext accepted")
	}
}
