package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mtkaczyk/npemctl/cmd"
	"github.com/mtkaczyk/npemctl/internal/api"
	"github.com/mtkaczyk/npemctl/internal/config"
	"github.com/mtkaczyk/npemctl/internal/events"
	"github.com/mtkaczyk/npemctl/internal/logging"
	"github.com/mtkaczyk/npemctl/internal/npem"
	"github.com/mtkaczyk/npemctl/internal/registry"
	"github.com/mtkaczyk/npemctl/internal/systemd"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"npemctl.toml"`

	// Server settings
	Port           string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`
	MetricsEnabled bool   `help:"Enable Prometheus metrics endpoint" default:"true" toml:"server.metrics" env:"METRICS_ENABLED"`

	// PCI settings
	PCISysfsRoot   string `help:"PCI sysfs device directory" default:"/sys/bus/pci/devices" toml:"pci.sysfs_root" env:"PCI_SYSFS_ROOT"`
	RescanInterval string `help:"Device rescan interval (0 disables periodic rescans)" default:"30s" toml:"pci.rescan_interval" env:"PCI_RESCAN_INTERVAL"`

	// Auth settings
	AuthUsername string `help:"Basic auth username (empty disables auth)" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel    string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat   string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingNpem     string `help:"Indication controller logging level" default:"info" toml:"logging.npem" env:"LOGGING_NPEM"`
	LoggingRegistry string `help:"Device registry logging level" default:"info" toml:"logging.registry" env:"LOGGING_REGISTRY"`
	LoggingAPI      string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP     string `help:"HTTP request logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
}

func main() {
	// Create Huma CLI
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, nil); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// Initialize logging system
		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"npem":     opts.LoggingNpem,
				"registry": opts.LoggingRegistry,
				"api":      opts.LoggingAPI,
				"http":     opts.LoggingHTTP,
			},
		})

		logger := logging.GetLogger("main")

		// Create event bus for in-process event handling
		eventBus := events.New()
		eventBus.Subscribe(func(e events.CommandTimeoutEvent) {
			logger.Warn("Indication command timed out",
				"device", e.Device, "indication", e.Indication)
		})

		// Command metrics
		var npemMetrics *npem.Metrics
		var promHandler http.Handler
		if opts.MetricsEnabled {
			promRegistry := prometheus.NewRegistry()
			promRegistry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			npemMetrics = npem.NewMetrics(promRegistry)
			promHandler = promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})
		}

		// Device registry. No firmware method provider is wired: _DSM
		// evaluation needs a platform bridge that plain sysfs does not
		// offer, so production devices run on the register channel.
		manager := registry.NewManager(opts.PCISysfsRoot, eventBus, npemMetrics, nil)

		// Apply per-device settings before the first scan
		if devCfg, cfgErr := config.LoadDeviceConfig(opts.Config); cfgErr == nil {
			manager.ApplyDeviceConfig(devCfg)
		} else {
			logger.Warn("Failed to load device config", "error", cfgErr)
		}

		// Watch the config file: device settings and log levels reload live
		watcher := config.NewConfigWatcher(opts.Config, config.LoadDeviceConfig, logger)
		watcher.OnReload(func(devCfg config.DeviceConfig) {
			manager.ApplyDeviceConfig(devCfg)
			logging.Reconfigure(config.LoadLoggingConfig(opts.Config))
		})

		server := api.NewServer(&api.Options{
			AuthUsername:      opts.AuthUsername,
			AuthPassword:      opts.AuthPassword,
			Service:           manager,
			Bus:               eventBus,
			PrometheusHandler: promHandler,
		})

		rescanCtx, cancelRescan := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			interval, parseErr := time.ParseDuration(opts.RescanInterval)
			if parseErr != nil {
				logger.Warn("Invalid rescan interval, using 30s",
					"value", opts.RescanInterval, "error", parseErr)
				interval = 30 * time.Second
			}
			go manager.Run(rescanCtx, interval)

			// The watcher tolerates an absent config file, so start it
			// unconditionally; the file may be written later.
			if watchErr := watcher.Start(); watchErr != nil {
				logger.Warn("Failed to start config watcher", "error", watchErr)
			}

			if _, notifyErr := systemd.NotifyReady(); notifyErr != nil {
				logger.Debug("Readiness notification failed", "error", notifyErr)
			}

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			systemd.NotifyStopping()
			cancelRescan()

			if stopErr := watcher.Stop(); stopErr != nil {
				logger.Error("Error stopping config watcher", "error", stopErr)
			}
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			manager.Close()
		})
	})

	// Local control commands that bypass the daemon
	cli.Root().AddCommand(cmd.CreateListCmd())
	cli.Root().AddCommand(cmd.CreateGetCmd())
	cli.Root().AddCommand(cmd.CreateSetCmd())

	// Run the CLI
	cli.Run()
}
