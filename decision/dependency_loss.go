package decision

// DependencyScaling configures how process dependencies scale the kill loss.
// Killing a process with many dependents is costlier than killing an
// isolated one. Listen ports carry the largest weight: they indicate the
// process serves others.
type DependencyScaling struct {
	ChildWeight        float64 `json:"child_weight"`
	ConnectionWeight   float64 `json:"connection_weight"`
	ListenPortWeight   float64 `json:"listen_port_weight"`
	WriteHandleWeight  float64 `json:"write_handle_weight"`
	SharedMemoryWeight float64 `json:"shared_memory_weight"`

	MaxChildren     int `json:"max_children"`
	MaxConnections  int `json:"max_connections"`
	MaxListenPorts  int `json:"max_listen_ports"`
	MaxWriteHandles int `json:"max_write_handles"`
	MaxSharedMemory int `json:"max_shared_memory"`

	// MaxImpact caps the impact score to prevent extreme scaling.
	MaxImpact float64 `json:"max_impact"`
}

// DefaultDependencyScaling returns the embedded weights.
func DefaultDependencyScaling() DependencyScaling {
	return DependencyScaling{
		ChildWeight:        0.1,
		ConnectionWeight:   0.2,
		ListenPortWeight:   0.5,
		WriteHandleWeight:  0.3,
		SharedMemoryWeight: 0.1,
		MaxChildren:        20,
		MaxConnections:     50,
		MaxListenPorts:     10,
		MaxWriteHandles:    100,
		MaxSharedMemory:    20,
		MaxImpact:          2.0,
	}
}

// DependencyFactors are the per-process dependency counts.
type DependencyFactors struct {
	ChildCount             int `json:"child_count"`
	EstablishedConnections int `json:"established_connections"`
	ListenPorts            int `json:"listen_ports"`
	OpenWriteHandles       int `json:"open_write_handles"`
	SharedMemorySegments   int `json:"shared_memory_segments"`
}

// HasDependencies reports whether any factor is non-zero.
func (f DependencyFactors) HasDependencies() bool {
	return f.ChildCount > 0 || f.EstablishedConnections > 0 ||
		f.ListenPorts > 0 || f.OpenWriteHandles > 0 || f.SharedMemorySegments > 0
}

// ImpactScore computes the weighted sum of normalized factors, capped at
// MaxImpact:
//
//	impact = sum_f w_f * min(1, count_f / max_f)
func (s DependencyScaling) ImpactScore(f DependencyFactors) float64 {
	norm := func(count, max int) float64 {
		if max <= 0 {
			return 0
		}
		v := float64(count) / float64(max)
		if v > 1 {
			v = 1
		}
		return v
	}
	raw := s.ChildWeight*norm(f.ChildCount, s.MaxChildren) +
		s.ConnectionWeight*norm(f.EstablishedConnections, s.MaxConnections) +
		s.ListenPortWeight*norm(f.ListenPorts, s.MaxListenPorts) +
		s.WriteHandleWeight*norm(f.OpenWriteHandles, s.MaxWriteHandles) +
		s.SharedMemoryWeight*norm(f.SharedMemorySegments, s.MaxSharedMemory)
	if raw > s.MaxImpact {
		raw = s.MaxImpact
	}
	return raw
}

// DependencyScalingResult is the audit record for a scaling computation.
type DependencyScalingResult struct {
	ImpactScore      float64           `json:"impact_score"`
	OriginalKillLoss float64           `json:"original_kill_loss"`
	ScaledKillLoss   float64           `json:"scaled_kill_loss"`
	ScaleFactor      float64           `json:"scale_factor"`
	Factors          DependencyFactors `json:"factors"`
}

// ScaleKillLoss applies L_kill_scaled = L_kill * (1 + impact_score).
func ScaleKillLoss(baseLoss, impactScore float64) float64 {
	return baseLoss * (1 + impactScore)
}

// ComputeDependencyScaling computes the full scaling result for audit.
func ComputeDependencyScaling(originalKillLoss float64, f DependencyFactors, s DependencyScaling) DependencyScalingResult {
	impact := s.ImpactScore(f)
	return DependencyScalingResult{
		ImpactScore:      impact,
		OriginalKillLoss: originalKillLoss,
		ScaledKillLoss:   ScaleKillLoss(originalKillLoss, impact),
		ScaleFactor:      1 + impact,
		Factors:          f,
	}
}
