// Gray Logic Vision - 3D camera control service
//
// This is the main entry point for the Gray Logic Vision service. It exposes
// capture, hand-eye calibration, infield correction and projector control
// for structured-light cameras over HTTP, serialising every device command
// through a single hardware lock.
//
// Usage:
//
//	graylogic-vision                       run the service
//	graylogic-vision token -sub cell-1     print a bearer token for the configured secret
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-vision/internal/api"
	"github.com/nerrad567/gray-logic-vision/internal/audit"
	"github.com/nerrad567/gray-logic-vision/internal/calibration"
	"github.com/nerrad567/gray-logic-vision/internal/camera"
	"github.com/nerrad567/gray-logic-vision/internal/camera/sim"
	"github.com/nerrad567/gray-logic-vision/internal/events"
	"github.com/nerrad567/gray-logic-vision/internal/infield"
	"github.com/nerrad567/gray-logic-vision/internal/infrastructure/archive"
	"github.com/nerrad567/gray-logic-vision/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-vision/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-vision/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-vision/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-vision/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-vision/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-vision/internal/projection"
	"github.com/nerrad567/gray-logic-vision/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds the cleanup that runs after the signal.
const shutdownTimeout = 15 * time.Second

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// driver is everything the service needs from a vendor driver.
type driver interface {
	camera.Driver
	camera.Capturer
	camera.Detector
	camera.Firmware
	infield.Corrector
	projection.Projector
	Close() error
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Vision",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Open the camera driver
	drv, err := newDriver(cfg.Hardware)
	if err != nil {
		return fmt.Errorf("opening camera driver: %w", err)
	}
	defer func() {
		log.Info("closing camera driver")
		if closeErr := drv.Close(); closeErr != nil {
			log.Error("error closing camera driver", "error", closeErr)
		}
	}()
	log.Info("camera driver opened", "driver", cfg.Hardware.Driver, "sdk_version", drv.Version())

	bus := events.NewBus()
	bus.SetLogger(log)
	m := metrics.New()

	// Audit trail
	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo)
	recorder.SetLogger(log)
	recorderCtx, stopRecorder := context.WithCancel(context.WithoutCancel(ctx))
	go recorder.Run(recorderCtx)
	defer func() {
		stopRecorder()
		<-recorder.Done()
	}()

	// Optional sinks
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log)
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	var frameArchive archive.Archiver
	var archiveStore *archive.Store
	if cfg.Archive.Enabled {
		archiveStore, err = archive.New(ctx, cfg.Archive)
		if err != nil {
			return fmt.Errorf("opening frame archive: %w", err)
		}
		frameArchive = archiveStore
		log.Info("frame archive enabled", "bucket", cfg.Archive.Bucket, "prefix", cfg.Archive.Prefix)
	} else {
		log.Info("frame archive disabled")
	}

	// Hardware access
	lock := camera.NewHardwareLock(cfg.Hardware.LockTimeout)
	lock.SetObserver(m)
	registry := camera.NewRegistry(drv)
	registry.SetLogger(log)
	registry.SetPublisher(lock.Deferred(bus))

	patterns, err := loadPatterns(cfg.Projection)
	if err != nil {
		return fmt.Errorf("loading projection patterns: %w", err)
	}

	cameras := camera.NewService(camera.ServiceDeps{
		Registry: registry,
		Lock:     lock,
		Capturer: drv,
		Detector: drv,
		Firmware: drv,
		Settings: camera.SettingsResolver{
			Dir:            cfg.Hardware.SettingsDir,
			MaxCaptureTime: cfg.Hardware.SuggestMaxCaptureTime,
		},
		Events: bus,
		Logger: log.With("component", "camera"),
	})
	calibrations := calibration.NewManager(calibration.Deps{
		Registry: registry,
		Lock:     lock,
		Detector: drv,
		Solver:   calibration.HandEyeSolver{},
		Events:   bus,
		Logger:   log.With("component", "calibration"),
	})
	corrections := infield.NewManager(infield.Deps{
		Registry:  registry,
		Lock:      lock,
		Detector:  drv,
		Corrector: drv,
		Events:    bus,
		Logger:    log.With("component", "infield"),
	})
	projections := projection.NewManager(projection.Deps{
		Registry:  registry,
		Lock:      lock,
		Projector: drv,
		Patterns:  patterns,
		Events:    bus,
		Logger:    log.With("component", "projection"),
	})
	m.RegisterSessions("calibration", calibrations.Len)
	m.RegisterSessions("infield", corrections.Len)
	m.RegisterSessions("projection", func() int { return len(projections.Serials()) })
	m.RegisterSessions("camera", registry.Len)

	server, err := api.New(api.Deps{
		Config:       cfg.API,
		WS:           cfg.WebSocket,
		Security:     cfg.Security,
		BasePath:     cfg.Service.BasePath,
		Logger:       log,
		Cameras:      cameras,
		Calibrations: calibrations,
		Infield:      corrections,
		Projections:  projections,
		Audit:        auditRepo,
		Archive:      frameArchive,
		Metrics:      m,
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	// Sinks run in attach order; the websocket hub first so clients see
	// events before the slower broker writes.
	bus.Attach("websocket", server.Hub())
	bus.Attach("audit", recorder)
	bus.Attach("metrics", m)
	if mqttClient != nil {
		bus.Attach("mqtt", mqtt.NewEventSink(mqttClient, cfg.MQTT))
	}
	if influxClient != nil {
		bus.Attach("influxdb", influxdb.NewEventSink(influxClient))
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient, archiveStore); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// Projections hold device resources and must stop before the driver
	// closes, and after the API server stops taking requests.
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		projections.StopAll(stopCtx)
	}()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server
	// 2. Projections
	// 3. Event sinks (InfluxDB, MQTT) and audit recorder
	// 4. Camera driver
	// 5. Database

	log.Info("Gray Logic Vision stopped")
	return nil
}

// loadConfig reads the configuration file. Without GLVISION_CONFIG a
// missing default file falls back to the built-in defaults.
func loadConfig() (*config.Config, string, error) {
	path, explicit := getConfigPath()
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, path, nil
	}
	if explicit || !errors.Is(err, os.ErrNotExist) {
		return nil, path, err
	}

	cfg = config.Default()
	if err := cfg.Validate(); err != nil {
		return nil, "(defaults)", fmt.Errorf("validating default config: %w", err)
	}
	return cfg, "(defaults)", nil
}

// getConfigPath returns the configuration file path.
// Uses GLVISION_CONFIG environment variable if set, otherwise default.
func getConfigPath() (path string, explicit bool) {
	if path := os.Getenv("GLVISION_CONFIG"); path != "" {
		return path, true
	}
	return defaultConfigPath, false
}

// newDriver opens the configured camera driver.
func newDriver(cfg config.HardwareConfig) (driver, error) {
	switch cfg.Driver {
	case "sim":
		simCfg, err := sim.LoadConfig(cfg.Sim.ConfigFile)
		if err != nil {
			return nil, err
		}
		return sim.NewDriver(simCfg)
	default:
		return nil, fmt.Errorf("unknown hardware driver %q", cfg.Driver)
	}
}

// loadPatterns builds the test-pattern table from the built-in patterns
// plus any configured images.
func loadPatterns(cfg config.ProjectionConfig) (*projection.Patterns, error) {
	patterns := projection.NewPatterns()
	for _, img := range cfg.Images {
		want := projection.Resolution{Height: img.Height, Width: img.Width}
		if err := patterns.LoadPNG(img.Path, want); err != nil {
			return nil, err
		}
	}
	return patterns, nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//   - store: Frame archive to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, store *archive.Store) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	if store != nil {
		if err := store.HealthCheck(ctx); err != nil {
			return fmt.Errorf("archive: %w", err)
		}
	}
	return nil
}

// runToken prints a bearer token signed with the configured JWT secret.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("sub", "", "token subject, e.g. the client or robot cell name")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return fmt.Errorf("-sub is required")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Security.JWT.Secret == "" {
		return fmt.Errorf("security.jwt.secret is not set; authentication is disabled")
	}

	token, err := api.IssueToken(cfg.Security.JWT.Secret, *subject, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
