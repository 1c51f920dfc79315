// kami is the command-line front end of kamishibai: story scenes, situational
// guides, and an expert advisory panel for practicing everyday social
// situations with young children. The heavy lifting lives in internal/;
// this binary wires config, provider, cache, and pipeline together.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"kamishibai/internal/cache"
	"kamishibai/internal/config"
	"kamishibai/internal/coordinator"
	"kamishibai/internal/logging"
	"kamishibai/internal/panel"
	"kamishibai/internal/pipeline"
	"kamishibai/internal/provider"
	"kamishibai/internal/scenario"
	"kamishibai/internal/store"
)

var (
	// Global flags
	configPath string
	verbose    bool
	workspace  string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "kami",
	Short: "kamishibai - story scenes and expert advice for everyday parenting situations",
	Long: `kamishibai generates short pedagogical story scenes, situational guides,
and expert-panel answers for parents practicing everyday social situations
(toilet, barber, hospital, park, morning routine) with young children.

Content comes from a completion provider behind a quality gate and a
two-layer cache; static templates cover every slot when the provider
is unavailable.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("file logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// app bundles the wired core components.
type app struct {
	cfg      *config.Config
	registry *scenario.Registry
	store    *store.Store
	cache    *cache.TieredCache
	coord    *coordinator.Coordinator
	pipeline *pipeline.Pipeline
	panel    *panel.Aggregator
	watcher  *scenario.Watcher
}

// buildApp wires the core. needProvider=false skips provider resolution for
// commands that only touch the catalog or the cache.
func buildApp(needProvider bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry, err := scenario.NewRegistry(cfg.Scenario.TemplatesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	st, err := store.NewStore(cfg.Cache.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache store: %w", err)
	}

	a := &app{
		cfg:      cfg,
		registry: registry,
		store:    st,
		cache:    cache.New(st, cfg.GetCacheTTL(), cfg.Cache.MaxEntries),
	}

	if needProvider {
		completer, err := provider.NewFromConfig(cfg)
		if err != nil {
			st.Close()
			return nil, err
		}
		a.coord = coordinator.New(completer, cfg.Generation.MaxTokens)
		a.panel = panel.New(a.coord)
	}

	// The static and cache-only paths never touch the coordinator, so the
	// pipeline is wired even when no provider is configured.
	a.pipeline = pipeline.New(a.coord, a.cache, registry, pipeline.Options{
		MaxAttempts:      cfg.Generation.MaxAttempts,
		QualityThreshold: cfg.Generation.QualityThreshold,
		CacheTTL:         cfg.GetCacheTTL(),
	})

	if cfg.Scenario.Watch {
		watcher, err := scenario.NewWatcher(registry, cfg.Scenario.TemplatesDir)
		if err != nil {
			logger.Warn("template watching unavailable", zap.Error(err))
		} else if err := watcher.Start(context.Background()); err != nil {
			logger.Warn("template watching unavailable", zap.Error(err))
		} else {
			a.watcher = watcher
		}
	}

	return a, nil
}

// close releases the app's resources.
func (a *app) close() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.store != nil {
		a.store.Close()
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", ".", "workspace directory for logs and data")

	rootCmd.AddCommand(sceneCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(guideCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(cacheCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
