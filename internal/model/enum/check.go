package enum

// CheckType is the consistency check that produced a result.
type CheckType uint8

const (
	_check_type_beg CheckType = iota
	CheckPriceSpread
	CheckTimeSync
	CheckVolumeConsistency
	_check_type_end
)

func (c CheckType) IsAvailable() bool {
	return c > _check_type_beg && c < _check_type_end
}

func (c CheckType) String() string {
	switch c {
	case CheckPriceSpread:
		return "price_spread"
	case CheckTimeSync:
		return "time_sync"
	case CheckVolumeConsistency:
		return "volume_consistency"
	default:
		return "unknown"
	}
}

// Severity grades a consistency result.
type Severity uint8

const (
	_severity_beg Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityCritical
	_severity_end
)

func (s Severity) IsAvailable() bool {
	return s > _severity_beg && s < _severity_end
}

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

func ParseCheckType(s string) (CheckType, bool) {
	for c := _check_type_beg + 1; c < _check_type_end; c++ {
		if c.String() == s {
			return c, true
		}
	}
	return 0, false
}

func ParseSeverity(s string) (Severity, bool) {
	for v := _severity_beg + 1; v < _severity_end; v++ {
		if v.String() == s {
			return v, true
		}
	}
	return 0, false
}
