// Package ops loads and validates the runtime configuration. The
// core never parses config itself; it receives a resolved Loaded.
package ops

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"main/internal/governor"
)

// FileConfig mirrors the YAML config layout.
type FileConfig struct {
	Venues  []VenueConfig  `yaml:"venues"`
	Markets []MarketConfig `yaml:"markets"`
	Journal JournalConfig  `yaml:"journal"`

	AckTimeout        string `yaml:"ackTimeout"`
	CancelTimeout     string `yaml:"cancelTimeout"`
	ReconcileInterval string `yaml:"reconcileInterval"`
	EventBuffer       int    `yaml:"eventBuffer"`
}

// VenueConfig describes one venue connection. Credentials are
// referenced by environment variable name, never stored inline.
type VenueConfig struct {
	Name         string `yaml:"name"`
	RESTURL      string `yaml:"restUrl"`
	WSURL        string `yaml:"wsUrl"`
	APIKeyEnv    string `yaml:"apiKeyEnv"`
	APISecretEnv string `yaml:"apiSecretEnv"`

	RateCapacity     float64 `yaml:"rateCapacity"`
	RateRefillPerSec float64 `yaml:"rateRefillPerSec"`
	RateMaxWaiters   int     `yaml:"rateMaxWaiters"`

	GapTolerance uint64 `yaml:"gapTolerance"`
}

// MarketConfig subscribes one market on a venue.
type MarketConfig struct {
	Venue  string `yaml:"venue"`
	Symbol string `yaml:"symbol"`
}

// JournalConfig controls order/trade persistence.
type JournalConfig struct {
	Enabled   bool   `yaml:"enabled"`
	DSN       string `yaml:"dsn"`
	QueueSize int    `yaml:"queueSize"`
}

// VenueSpec is a resolved venue entry with credentials loaded.
type VenueSpec struct {
	Name         string
	RESTURL      string
	WSURL        string
	APIKey       string
	APISecret    string
	Rate         governor.Config
	GapTolerance uint64
}

// MarketSpec is a resolved market subscription.
type MarketSpec struct {
	Venue  string
	Symbol string
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Venues  []VenueSpec
	Markets []MarketSpec
	Journal JournalConfig

	AckTimeout        time.Duration
	CancelTimeout     time.Duration
	ReconcileInterval time.Duration
	EventBuffer       int
}

const (
	defaultAckTimeout        = 10 * time.Second
	defaultCancelTimeout     = 10 * time.Second
	defaultReconcileInterval = time.Minute
	defaultEventBuffer       = 1024
	defaultJournalQueueSize  = 1024
)

// Load reads a YAML config file and resolves it.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	return Resolve(cfg)
}

// Resolve validates a FileConfig and applies defaults.
func Resolve(cfg FileConfig) (Loaded, error) {
	if len(cfg.Venues) == 0 {
		return Loaded{}, fmt.Errorf("no venues configured")
	}

	venues := make([]VenueSpec, 0, len(cfg.Venues))
	byName := make(map[string]struct{}, len(cfg.Venues))
	for _, v := range cfg.Venues {
		if v.Name == "" {
			return Loaded{}, fmt.Errorf("venue name is empty")
		}
		if _, dup := byName[v.Name]; dup {
			return Loaded{}, fmt.Errorf("duplicate venue: %s", v.Name)
		}
		byName[v.Name] = struct{}{}

		spec := VenueSpec{
			Name:    v.Name,
			RESTURL: v.RESTURL,
			WSURL:   v.WSURL,
			Rate: governor.Config{
				Capacity:     v.RateCapacity,
				RefillPerSec: v.RateRefillPerSec,
				MaxWaiters:   v.RateMaxWaiters,
			},
			GapTolerance: v.GapTolerance,
		}
		if v.APIKeyEnv != "" {
			spec.APIKey = os.Getenv(v.APIKeyEnv)
		}
		if v.APISecretEnv != "" {
			spec.APISecret = os.Getenv(v.APISecretEnv)
		}
		venues = append(venues, spec)
	}

	markets := make([]MarketSpec, 0, len(cfg.Markets))
	for _, m := range cfg.Markets {
		if m.Symbol == "" {
			return Loaded{}, fmt.Errorf("market symbol is empty")
		}
		if _, ok := byName[m.Venue]; !ok {
			return Loaded{}, fmt.Errorf("market venue not found: %s", m.Venue)
		}
		markets = append(markets, MarketSpec{Venue: m.Venue, Symbol: m.Symbol})
	}

	ackTimeout, err := duration(cfg.AckTimeout, defaultAckTimeout)
	if err != nil {
		return Loaded{}, fmt.Errorf("ackTimeout: %w", err)
	}
	cancelTimeout, err := duration(cfg.CancelTimeout, defaultCancelTimeout)
	if err != nil {
		return Loaded{}, fmt.Errorf("cancelTimeout: %w", err)
	}
	reconcile, err := duration(cfg.ReconcileInterval, defaultReconcileInterval)
	if err != nil {
		return Loaded{}, fmt.Errorf("reconcileInterval: %w", err)
	}

	journal := cfg.Journal
	if journal.Enabled && journal.DSN == "" {
		return Loaded{}, fmt.Errorf("journal enabled without dsn")
	}
	if journal.QueueSize <= 0 {
		journal.QueueSize = defaultJournalQueueSize
	}

	eventBuffer := cfg.EventBuffer
	if eventBuffer <= 0 {
		eventBuffer = defaultEventBuffer
	}

	return Loaded{
		Venues:            venues,
		Markets:           markets,
		Journal:           journal,
		AckTimeout:        ackTimeout,
		CancelTimeout:     cancelTimeout,
		ReconcileInterval: reconcile,
		EventBuffer:       eventBuffer,
	}, nil
}

func duration(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive: %s", raw)
	}
	return d, nil
}
