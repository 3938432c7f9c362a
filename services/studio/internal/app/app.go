package app

import (
	"errors"
	"fmt"
	"time"

	"ideaforge/internal/keylock"
	"ideaforge/internal/metrics"
	"ideaforge/pkg/ai"
	"ideaforge/pkg/docgen"
	"ideaforge/pkg/domain"
	"ideaforge/pkg/ledger"
	"ideaforge/pkg/quota"
	"ideaforge/pkg/storage"
	"ideaforge/pkg/store"
)

const (
	defaultFreeProjectsLimit = 3
	defaultFreeCredits       = 10
	defaultProProjectsLimit  = 50
	defaultExportExpiry      = 15 * time.Minute
	defaultStaleGeneration   = 2 * time.Minute
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL      string
	AllowMemoryStore bool
	Store            store.Store

	// Generator overrides Provider, mainly for tests.
	Generator ai.TextGenerator
	Provider  ai.Config
	MaxTokens int
	// Temperature nil keeps the generator default.
	Temperature *float64
	// MaxParallelGenerations bounds provider calls per RequestDocuments call.
	MaxParallelGenerations int
	// StaleGenerationAfter is how long a pending or generating row may go
	// untouched before Regenerate treats it as interrupted. Defaults to the
	// provider timeout.
	StaleGenerationAfter time.Duration

	Costs             map[string]int
	FreeProjectsLimit int
	FreeCredits       int
	ProProjectsLimit  int

	Locker       keylock.Locker
	Objects      storage.ObjectStore
	ExportExpiry time.Duration
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

// App is the document studio core: wizard steps, the credit ledger and the
// document lifecycle.
type App struct {
	store        store.Store
	ledger       *ledger.Ledger
	gate         *quota.Gate
	docs         *docgen.Generator
	locker       keylock.Locker
	objects      storage.ObjectStore
	exportExpiry time.Duration
	metrics      *metrics.Metrics
	now          func() time.Time

	maxParallel       int
	staleAfter        time.Duration
	freeProjectsLimit int
	freeCredits       int
}

// New constructs the application. Missing provider settings fail here with an
// error wrapping ai.ErrNotConfigured.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		switch {
		case cfg.DatabaseURL != "":
			gs, err := store.NewGormStore(cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("init postgres store: %w", err)
			}
			dataStore = gs
		case cfg.AllowMemoryStore:
			dataStore = store.NewMemoryStore()
		default:
			return nil, errors.New("database URL required")
		}
	}

	gen := cfg.Generator
	if gen == nil {
		var err error
		gen, err = ai.NewGenerator(cfg.Provider)
		if err != nil {
			return nil, fmt.Errorf("init generation provider: %w", err)
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	freeLimit := cfg.FreeProjectsLimit
	if freeLimit <= 0 {
		freeLimit = defaultFreeProjectsLimit
	}
	freeCredits := cfg.FreeCredits
	if freeCredits <= 0 {
		freeCredits = defaultFreeCredits
	}
	proLimit := cfg.ProProjectsLimit
	if proLimit <= 0 {
		proLimit = defaultProProjectsLimit
	}
	locker := cfg.Locker
	if locker == nil {
		locker = keylock.NewLocalLocker()
	}
	staleAfter := cfg.StaleGenerationAfter
	if staleAfter <= 0 {
		staleAfter = cfg.Provider.Timeout
	}
	if staleAfter <= 0 {
		staleAfter = defaultStaleGeneration
	}
	exportExpiry := cfg.ExportExpiry
	if exportExpiry <= 0 {
		exportExpiry = defaultExportExpiry
	}

	m := cfg.Metrics
	l := ledger.New(dataStore, ledger.DefaultCosts().Merge(cfg.Costs),
		ledger.WithClock(now),
		ledger.WithObserver(func(action domain.CreditAction, credits int) {
			m.CreditsSpent(string(action), credits)
		}),
	)

	return &App{
		store:  dataStore,
		ledger: l,
		gate: quota.NewGate(dataStore, quota.WithTierLimits(map[domain.Tier]int{
			domain.TierFree: freeLimit,
			domain.TierPro:  proLimit,
		})),
		docs:              docgen.New(gen, docgen.Options{MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature}),
		locker:            locker,
		objects:           cfg.Objects,
		exportExpiry:      exportExpiry,
		metrics:           m,
		now:               now,
		maxParallel:       cfg.MaxParallelGenerations,
		staleAfter:        staleAfter,
		freeProjectsLimit: freeLimit,
		freeCredits:       freeCredits,
	}, nil
}

// Costs returns the active credit price list.
func (a *App) Costs() ledger.Costs {
	return a.ledger.Costs()
}

func (a *App) timestamp() time.Time {
	return a.now().UTC()
}
