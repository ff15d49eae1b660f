package apf

// Constants grounded in the original's apf/constants.rs (spec §4.6).
const (
	ReuseBurstLength       = 20000
	ReuseHibernationPeriod = 40000
	UseAllocationClock     = true

	// DefaultMaxLivenessWindow replaces the original's MAX_N = 150, which
	// is far too small for any real size class (liveness sampling would
	// starve almost immediately). 1<<20 gives a practical window while
	// staying bounded; callers may override via
	// APFALLOC_MAX_LIVENESS_WINDOW (spec §9 open question).
	DefaultMaxLivenessWindow = 1 << 20
)
