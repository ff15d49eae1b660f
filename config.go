package apfalloc

import (
	"os"
	"strconv"
	"sync"

	"github.com/cacheline/apfalloc/internal/apf"
)

// Config holds the allocator's process-wide tunables (spec §6
// "Configuration"). Parsed once from the environment at first use.
type Config struct {
	// TargetAPF is the per-bin target allocations-per-fetch (spec §4.2,
	// §6). Env TARGET_APF; default 5000.
	TargetAPF uint32

	// MaxLivenessWindow bounds the APF tuner's liveness sampling window
	// before it goes inert (spec §4.6(a) open question resolution). Env
	// APFALLOC_MAX_LIVENESS_WINDOW; default apf.DefaultMaxLivenessWindow.
	MaxLivenessWindow int
}

const (
	defaultTargetAPF = 5000
	envTargetAPF     = "TARGET_APF"
	envMaxLiveness   = "APFALLOC_MAX_LIVENESS_WINDOW"
)

var (
	configOnce sync.Once
	config     Config
)

// parseUintEnv reads name as an unsigned integer, falling back to def on a
// missing or malformed value (spec §6: "invalid values fall back to the
// default").
func parseUintEnv(name string, def uint32) uint32 {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil || n == 0 {
		return def
	}
	return uint32(n)
}

func parseIntEnv(name string, def int) int {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// defaultConfig returns the process-wide Config, parsing the environment on
// first call only.
func defaultConfig() Config {
	configOnce.Do(func() {
		config = Config{
			TargetAPF:         parseUintEnv(envTargetAPF, defaultTargetAPF),
			MaxLivenessWindow: parseIntEnv(envMaxLiveness, apf.DefaultMaxLivenessWindow),
		}
	})
	return config
}
