// Package config loads engine, loader and policy settings from CUE.
//
// The built-in document (defaults.cue) declares the schema and a default for
// every field. A user file is unified with it, so CUE rejects values that
// violate the schema (negative radius, malformed duration) before any Go code
// sees them.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/eventsync/internal/access"
	"github.com/roach88/eventsync/internal/event"
)

//go:embed defaults.cue
var defaultsCUE string

// DensityCenter is a known busy area with a tuned default search radius.
type DensityCenter struct {
	Name     string           `json:"name"`
	Location event.Coordinate `json:"location"`
	RadiusKm float64          `json:"radius_km"`
}

// Loader tunes progressive loading.
type Loader struct {
	SparseRadiusKm  float64
	MatchDistanceKm float64
	InitialLimit    int
	ExpansionLimit  int
	SettleDelay     time.Duration
}

// Sync tunes the engine's mutation queue and normalization.
type Sync struct {
	MaxAttempts   int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	ChunkSize     int
	ChunkYield    time.Duration
	EnrichmentCap int
}

// Venue tunes venue cache eviction.
type Venue struct {
	StaleAfter time.Duration
	MinUsage   int
}

// Remote describes the remote event store.
type Remote struct {
	BaseURL string
	Timeout time.Duration
}

// Config is the decoded configuration.
type Config struct {
	Tiers          access.Table
	DensityCenters []DensityCenter
	Loader         Loader
	Sync           Sync
	Venue          Venue
	Region         event.Region
	Remote         Remote
}

// Error reports a configuration problem with CUE position details when
// available.
type Error struct {
	Path    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("config: %s", e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := parse(nil, "")
	if err != nil {
		panic(fmt.Sprintf("built-in config is invalid: %v", err))
	}
	return cfg
}

// Load reads path and unifies it with the built-in defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return parse(nil, "")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Message: "read file", Err: err}
	}
	return parse(b, path)
}

// Parse unifies src with the built-in defaults.
func Parse(src []byte) (*Config, error) {
	return parse(src, "config.cue")
}

func parse(src []byte, filename string) (*Config, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(defaultsCUE, cue.Filename("defaults.cue"))
	if err := v.Err(); err != nil {
		return nil, cueError("", err)
	}

	if src != nil {
		user := ctx.CompileBytes(src, cue.Filename(filename))
		if err := user.Err(); err != nil {
			return nil, cueError(filename, err)
		}
		v = v.Unify(user)
	}

	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, cueError(filename, err)
	}

	var raw rawConfig
	if err := v.Decode(&raw); err != nil {
		return nil, cueError(filename, err)
	}
	cfg, err := raw.convert()
	if err != nil {
		return nil, &Error{Path: filename, Message: err.Error(), Err: err}
	}
	if err := cfg.Tiers.Validate(); err != nil {
		return nil, &Error{Path: filename, Message: err.Error(), Err: err}
	}
	return cfg, nil
}

func cueError(path string, err error) *Error {
	return &Error{Path: path, Message: cueerrors.Details(err, nil), Err: err}
}

type rawLimits struct {
	MaxRadiusKm       float64  `json:"max_radius_km"`
	MaxEventsPerDay   int      `json:"max_events_per_day"`
	MaxDateWindowDays int      `json:"max_date_window_days"`
	CanCreateEvents   bool     `json:"can_create_events"`
	CanEditEvents     bool     `json:"can_edit_events"`
	CanDeleteEvents   bool     `json:"can_delete_events"`
	Features          []string `json:"features"`
}

func (r rawLimits) limits() access.Limits {
	return access.Limits{
		MaxRadiusKm:       r.MaxRadiusKm,
		MaxEventsPerDay:   r.MaxEventsPerDay,
		MaxDateWindowDays: r.MaxDateWindowDays,
		CanCreateEvents:   r.CanCreateEvents,
		CanEditEvents:     r.CanEditEvents,
		CanDeleteEvents:   r.CanDeleteEvents,
		Features:          r.Features,
	}
}

type rawConfig struct {
	Tiers struct {
		Unregistered rawLimits `json:"unregistered"`
		Registered   rawLimits `json:"registered"`
		Premium      rawLimits `json:"premium"`
	} `json:"tiers"`
	DensityCenters []struct {
		Name     string  `json:"name"`
		Lat      float64 `json:"lat"`
		Lng      float64 `json:"lng"`
		RadiusKm float64 `json:"radius_km"`
	} `json:"density_centers"`
	Loader struct {
		SparseRadiusKm  float64 `json:"sparse_radius_km"`
		MatchDistanceKm float64 `json:"match_distance_km"`
		InitialLimit    int     `json:"initial_limit"`
		ExpansionLimit  int     `json:"expansion_limit"`
		SettleDelay     string  `json:"settle_delay"`
	} `json:"loader"`
	Sync struct {
		MaxAttempts   int    `json:"max_attempts"`
		BaseBackoff   string `json:"base_backoff"`
		MaxBackoff    string `json:"max_backoff"`
		ChunkSize     int    `json:"chunk_size"`
		ChunkYield    string `json:"chunk_yield"`
		EnrichmentCap int    `json:"enrichment_cap"`
	} `json:"sync"`
	Venue struct {
		StaleAfter string `json:"stale_after"`
		MinUsage   int    `json:"min_usage"`
	} `json:"venue"`
	Region struct {
		MinLat float64 `json:"min_lat"`
		MinLng float64 `json:"min_lng"`
		MaxLat float64 `json:"max_lat"`
		MaxLng float64 `json:"max_lng"`
	} `json:"region"`
	Remote struct {
		BaseURL string `json:"base_url"`
		Timeout string `json:"timeout"`
	} `json:"remote"`
}

func (r rawConfig) convert() (*Config, error) {
	var errs []error
	dur := func(field, s string) time.Duration {
		d, err := time.ParseDuration(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
		return d
	}

	cfg := &Config{
		Tiers: access.Table{
			access.Unregistered: r.Tiers.Unregistered.limits(),
			access.Registered:   r.Tiers.Registered.limits(),
			access.Premium:      r.Tiers.Premium.limits(),
		},
		Loader: Loader{
			SparseRadiusKm:  r.Loader.SparseRadiusKm,
			MatchDistanceKm: r.Loader.MatchDistanceKm,
			InitialLimit:    r.Loader.InitialLimit,
			ExpansionLimit:  r.Loader.ExpansionLimit,
			SettleDelay:     dur("loader.settle_delay", r.Loader.SettleDelay),
		},
		Sync: Sync{
			MaxAttempts:   r.Sync.MaxAttempts,
			BaseBackoff:   dur("sync.base_backoff", r.Sync.BaseBackoff),
			MaxBackoff:    dur("sync.max_backoff", r.Sync.MaxBackoff),
			ChunkSize:     r.Sync.ChunkSize,
			ChunkYield:    dur("sync.chunk_yield", r.Sync.ChunkYield),
			EnrichmentCap: r.Sync.EnrichmentCap,
		},
		Venue: Venue{
			StaleAfter: dur("venue.stale_after", r.Venue.StaleAfter),
			MinUsage:   r.Venue.MinUsage,
		},
		Region: event.Region{
			MinLat: r.Region.MinLat,
			MinLng: r.Region.MinLng,
			MaxLat: r.Region.MaxLat,
			MaxLng: r.Region.MaxLng,
		},
		Remote: Remote{
			BaseURL: r.Remote.BaseURL,
			Timeout: dur("remote.timeout", r.Remote.Timeout),
		},
	}
	for _, c := range r.DensityCenters {
		cfg.DensityCenters = append(cfg.DensityCenters, DensityCenter{
			Name:     c.Name,
			Location: event.Coordinate{Lat: c.Lat, Lng: c.Lng},
			RadiusKm: c.RadiusKm,
		})
	}

	if len(errs) > 0 {
		return nil, errs[0]
	}
	if cfg.Sync.BaseBackoff > cfg.Sync.MaxBackoff {
		return nil, fmt.Errorf("sync.base_backoff %s exceeds sync.max_backoff %s", cfg.Sync.BaseBackoff, cfg.Sync.MaxBackoff)
	}
	if cfg.Loader.ExpansionLimit < cfg.Loader.InitialLimit {
		return nil, fmt.Errorf("loader.expansion_limit %d is below loader.initial_limit %d", cfg.Loader.ExpansionLimit, cfg.Loader.InitialLimit)
	}
	return cfg, nil
}
