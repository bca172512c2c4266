package recurrence

import (
	"time"

	"github.com/dukop/eventcal/calendar/times"
)

// Config holds the engine's environment: the clock deciding what is
// future, the civil timezone expansion happens in, and the horizon that
// bounds rules without an end date.
type Config struct {
	Clock              times.Clock
	Location           *time.Location
	DefaultHorizonDays int
}

// DefaultHorizonDays bounds expansion for rules without an end date.
const DefaultHorizonDays = 180

// DefaultConfig expands in local time with the system clock and the
// default horizon.
var DefaultConfig = Config{
	Location:           time.Local,
	DefaultHorizonDays: DefaultHorizonDays,
}

// SyncOptions controls a single Sync invocation.
type SyncOptions struct {
	// MaxDays overrides the engine's horizon when positive.
	MaxDays int
	// IncludePast expands from the anchor rather than from now,
	// letting a freshly created rule backfill past occurrences once.
	// Routine edits leave it unset so only present and future
	// occurrences are touched.
	IncludePast bool
}

// NewEngine creates an engine from cfg, filling unset fields from
// DefaultConfig.
func NewEngine(cfg Config) *Engine {
	if cfg.Location == nil {
		cfg.Location = DefaultConfig.Location
	}
	if cfg.DefaultHorizonDays <= 0 {
		cfg.DefaultHorizonDays = DefaultConfig.DefaultHorizonDays
	}
	if cfg.Clock == nil {
		cfg.Clock = times.NewSystemClock(cfg.Location, 0)
	}
	return &Engine{clock: cfg.Clock, loc: cfg.Location, horizonDays: cfg.DefaultHorizonDays}
}
