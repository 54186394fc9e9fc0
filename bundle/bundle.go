// Package bundle wraps a Policy in a versioned, integrity-checked envelope
// with progressive delivery stages (shadow, canary, default) and optional
// at-rest encryption.
package bundle

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"math"
	"os"
	"time"

	"github.com/google/renameio/v2"
	"go.uber.org/zap"

	"github.com/ptops/ptriage/policy"
	"github.com/ptops/ptriage/pterrors"
)

// CurrentVersion is the supported bundle format version.
const CurrentVersion = "1.0.0"

// Mode is the progressive delivery stage.
type Mode string

const (
	// ModeShadow logs new-policy decisions without acting on them.
	ModeShadow Mode = "shadow"
	// ModeCanary applies the new policy to a fraction of candidates.
	ModeCanary Mode = "canary"
	// ModeDefault is full rollout.
	ModeDefault Mode = "default"
)

// Bundle is a versioned, optionally signed policy envelope.
type Bundle struct {
	BundleVersion string        `json:"bundle_version"`
	Policy        policy.Policy `json:"policy"`
	PolicyMode    Mode          `json:"policy_mode"`
	// CanaryFraction in [0,1] applies when PolicyMode is canary.
	CanaryFraction *float64 `json:"canary_fraction,omitempty"`
	// PolicyHash is the SHA-256 hex of the canonical policy JSON.
	PolicyHash string `json:"policy_hash,omitempty"`
	// Signature is an optional detached signature over the policy hash.
	Signature string `json:"signature,omitempty"`
	Changelog string `json:"changelog,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// New wraps a policy, computing the integrity hash. Canary bundles default
// to a 10% fraction.
func New(p policy.Policy, mode Mode) (Bundle, error) {
	hash, err := policyHash(p)
	if err != nil {
		return Bundle{}, err
	}
	b := Bundle{
		BundleVersion: CurrentVersion,
		Policy:        p,
		PolicyMode:    mode,
		PolicyHash:    hash,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	if mode == ModeCanary {
		frac := 0.1
		b.CanaryFraction = &frac
	}
	return b, nil
}

// EmbeddedDefault wraps the embedded default policy in a default-mode
// bundle.
func EmbeddedDefault() Bundle {
	b, err := New(policy.Default(), ModeDefault)
	if err != nil {
		// The embedded policy always serializes.
		panic(err)
	}
	return b
}

// FromJSON parses and integrity-checks a bundle.
func FromJSON(data []byte) (Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return Bundle{}, pterrors.Wrap(pterrors.KindJson, err, "parse bundle")
	}
	if err := b.VerifyIntegrity(); err != nil {
		return Bundle{}, err
	}
	return b, nil
}

// ToJSON serializes the bundle.
func (b Bundle) ToJSON() ([]byte, error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, pterrors.Wrap(pterrors.KindJson, err, "marshal bundle")
	}
	return data, nil
}

// LoadFromFile reads and verifies a bundle, transparently decrypting the
// PTBENC01 envelope when a passphrase is supplied.
func LoadFromFile(path, passphrase string) (Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Bundle{}, pterrors.Wrap(pterrors.KindIo, err, "read bundle %s", path)
	}
	if IsEncrypted(data) {
		data, err = DecryptBytes(data, passphrase)
		if err != nil {
			return Bundle{}, err
		}
	}
	return FromJSON(data)
}

// LoadOrDefault reads a bundle, falling back to the embedded default on any
// error with one warning.
func LoadOrDefault(path, passphrase string, log *zap.Logger) Bundle {
	b, err := LoadFromFile(path, passphrase)
	if err != nil {
		if log != nil {
			log.Warn("bundle load failed; using embedded default",
				zap.String("path", path), zap.Error(err))
		}
		return EmbeddedDefault()
	}
	return b
}

// Save writes the bundle atomically, encrypting when a passphrase is given.
func (b Bundle) Save(path, passphrase string) error {
	data, err := b.ToJSON()
	if err != nil {
		return err
	}
	if passphrase != "" {
		if data, err = EncryptBytes(data, passphrase); err != nil {
			return err
		}
	}
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return pterrors.Wrap(pterrors.KindIo, err, "write bundle %s", path)
	}
	return nil
}

// VerifyIntegrity checks the bundle version, the policy hash when present,
// and the canary fraction bounds. Any mutation of the policy content after
// New fails the hash check.
func (b Bundle) VerifyIntegrity() error {
	if b.BundleVersion != CurrentVersion {
		return pterrors.New(pterrors.KindSchemaValidation,
			"unsupported bundle version %q", b.BundleVersion)
	}
	if b.PolicyHash != "" {
		actual, err := policyHash(b.Policy)
		if err != nil {
			return err
		}
		if actual != b.PolicyHash {
			return pterrors.New(pterrors.KindSchemaValidation,
				"policy hash mismatch: expected %s, got %s", b.PolicyHash, actual)
		}
	}
	if b.CanaryFraction != nil && (*b.CanaryFraction < 0 || *b.CanaryFraction > 1) {
		return pterrors.New(pterrors.KindSchemaValidation,
			"canary fraction %v out of [0,1]", *b.CanaryFraction)
	}
	return nil
}

// IsShadow reports whether the bundle is for logging only.
func (b Bundle) IsShadow() bool { return b.PolicyMode == ModeShadow }

// ShouldApply reports whether this bundle's policy applies to a candidate.
// Default always applies; shadow never does; canary selects
// deterministically by candidate-id hash so the same candidate gets the
// same answer across restarts and platforms.
func (b Bundle) ShouldApply(candidateID string) bool {
	switch b.PolicyMode {
	case ModeShadow:
		return false
	case ModeCanary:
		frac := 0.1
		if b.CanaryFraction != nil {
			frac = *b.CanaryFraction
		}
		return candidateHash(candidateID) < frac
	default:
		return true
	}
}

// candidateHash maps a candidate id deterministically into [0, 1]: the
// first 8 hex chars of sha256(id) as a u32 over MaxUint32.
func candidateHash(id string) float64 {
	sum := sha256.Sum256([]byte(id))
	v := binary.BigEndian.Uint32(sum[:4])
	return float64(v) / float64(math.MaxUint32)
}

// policyHash computes the SHA-256 hex of the canonical policy JSON.
// encoding/json marshals struct fields in declaration order and map keys
// sorted, so the serialization is deterministic.
func policyHash(p policy.Policy) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", pterrors.Wrap(pterrors.KindJson, err, "marshal policy for hash")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
