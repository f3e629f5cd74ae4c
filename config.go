package bincore

import "github.com/xyproto/env/v2"

// Config carries the tunables a real deployment wants to override for
// testing, read from the environment via github.com/xyproto/env/v2 and
// falling back to fixed defaults when unset.
type Config struct {
	// TrampolineArenaIncrement is the fixed growth increment of the
	// trampoline arena. Default 0x4000.
	TrampolineArenaIncrement int

	// ConservativeLight records that "Light" flags protection saves the
	// full CF/OF/SF/ZF/PF/AF set rather than a clobber-scanned subset
	// (see DESIGN.md). Default true. The flags encoder does not read it:
	// Light protection saves the full set whatever its value.
	ConservativeLight bool
}

// LoadConfig reads overrides from the environment, falling back to the
// fixed defaults.
func LoadConfig() Config {
	return Config{
		TrampolineArenaIncrement: env.Int("BINCORE_ARENA_INCREMENT", TrampolineArenaIncrement),
		ConservativeLight:        env.Bool("BINCORE_CONSERVATIVE_LIGHT", true),
	}
}

// DefaultConfig returns the fixed constants with no environment
// overrides applied.
func DefaultConfig() Config {
	return Config{
		TrampolineArenaIncrement: TrampolineArenaIncrement,
		ConservativeLight:        true,
	}
}
