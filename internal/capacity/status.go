package capacity

// ReplicationCeiling is the backend's hard per-account-per-region ceiling on
// replicating servers.
const ReplicationCeiling = 300

// Status classifies how close a count is to its ceiling.
type Status string

const (
	StatusOK            Status = "OK"
	StatusInfo          Status = "INFO"
	StatusWarning       Status = "WARNING"
	StatusCritical      Status = "CRITICAL"
	StatusHyperCritical Status = "HYPER-CRITICAL"
)

// ReplicationStatus classifies a replicating-server count against the
// per-account-per-region ceiling.
func ReplicationStatus(replicating, ceiling int) Status {
	pct := percent(replicating, ceiling)
	switch {
	case pct >= 93:
		return StatusHyperCritical
	case pct >= 83:
		return StatusCritical
	case pct >= 75:
		return StatusWarning
	case pct >= 67:
		return StatusInfo
	default:
		return StatusOK
	}
}

// RecoveryStatus classifies a launched-instance count against the same
// ceiling. The recovery scale is coarser than the replication scale.
func RecoveryStatus(instances, ceiling int) Status {
	pct := percent(instances, ceiling)
	switch {
	case pct > 90:
		return StatusCritical
	case pct >= 80:
		return StatusWarning
	default:
		return StatusOK
	}
}

func percent(count, ceiling int) float64 {
	if ceiling <= 0 {
		return 0
	}
	return float64(count) / float64(ceiling) * 100
}
