package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/recambia/recambia/config"
	"github.com/recambia/recambia/internal/repositories/apiconfig"
	"github.com/recambia/recambia/internal/repositories/importhistory"
	"github.com/recambia/recambia/internal/repositories/part"
	"github.com/recambia/recambia/internal/repositories/synccontrol"
	"github.com/recambia/recambia/internal/repositories/vehicle"
	"github.com/recambia/recambia/internal/repositories/vehiclepart"
	"github.com/recambia/recambia/pkg/database"
	"github.com/recambia/recambia/pkg/events"
	"github.com/recambia/recambia/pkg/importer"
	"github.com/recambia/recambia/pkg/kafka"
	"github.com/recambia/recambia/pkg/matching"
	"github.com/recambia/recambia/pkg/metasync"
	"github.com/recambia/recambia/pkg/middleware"
	"github.com/recambia/recambia/pkg/routes/health"
	"github.com/recambia/recambia/pkg/routes/imports"
	"github.com/recambia/recambia/pkg/routes/parts"
	"github.com/recambia/recambia/pkg/routes/vehicles"
	"github.com/recambia/recambia/pkg/scheduler"
	"github.com/recambia/recambia/pkg/startup"
	"github.com/recambia/recambia/pkg/tracing"
	"github.com/recambia/recambia/pkg/tracing/exporters"
)

const version = "1.0.0"

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.TracingEnabled {
		shutdown, err := initTracing(ctx, cfg)
		if err != nil {
			logger.WithError(err).Error("Failed to initialize tracing, continuing without it")
		} else {
			defer shutdown(context.Background())
		}
	}

	dbDep := &databaseDependency{cfg: cfg, logger: logger}
	boot := startup.New(logger, cfg.StartupMaxAttempts)
	boot.Add(dbDep)
	if err := boot.Start(ctx); err != nil {
		logger.WithError(err).Error("Startup failed")
		os.Exit(1)
	}
	db := dbDep.db
	defer db.Close()

	var producer *kafka.Producer
	if cfg.KafkaEnabled {
		producer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaOutputTopic,
			BatchSize:    cfg.KafkaBatchSize,
			BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
			RequiredAcks: cfg.KafkaRequiredAcks,
			Compression:  cfg.KafkaCompression,
		}, logger)
		defer producer.Close()
	}
	emitter := events.NewEmitter(producer, logger)

	vehicleRepo := vehicle.NewRepository(db, logger)
	partRepo := part.NewRepository(db, logger)
	relationRepo := vehiclepart.NewRepository(db, logger)
	historyRepo := importhistory.NewRepository(db, logger)
	syncRepo := synccontrol.NewRepository(db, logger)
	apiConfigRepo := apiconfig.NewRepository(db, logger)

	matcher := matching.NewMatcher(logger, vehicleRepo, matching.DefaultConfig())
	activator := importer.NewActivator(partRepo, relationRepo, emitter, logger)
	resolver := importer.NewResolver(vehicleRepo, partRepo, relationRepo, matcher, activator, logger)
	engine := importer.NewEngine(db, vehicleRepo, partRepo, resolver, logger, importer.EngineConfig{
		UpsertBatchSize: cfg.ImportUpsertBatchSize,
		LookupChunkSize: cfg.ImportLookupChunkSize,
	})
	reconciler := importer.NewReconciler(vehicleRepo, partRepo, relationRepo, activator, emitter, logger)

	supplier := metasync.NewClient(metasync.Config{
		BaseURL:  cfg.MetasyncBaseURL,
		PageSize: cfg.MetasyncPageSize,
		Timeout:  cfg.MetasyncTimeout,
	}, logger)

	orchestrator := importer.NewOrchestrator(
		supplier, engine, reconciler, historyRepo, syncRepo, apiConfigRepo, vehicleRepo, emitter, logger,
		importer.OrchestratorConfig{
			PartialThresholdPct: cfg.ImportPartialThresholdPct,
			Defaults: metasync.Credentials{
				APIKey:    cfg.MetasyncAPIKey,
				CompanyID: cfg.MetasyncCompanyID,
				Channel:   cfg.MetasyncChannel,
			},
		},
	)

	if err := registerDependencies(vehicleRepo, partRepo, relationRepo, historyRepo, syncRepo, apiConfigRepo, orchestrator); err != nil {
		logger.WithError(err).Error("Failed to register dependencies")
		os.Exit(1)
	}

	if cfg.SchedulerEnabled {
		sched := scheduler.New(orchestrator, cfg.SchedulerPollInterval, logger)
		go sched.Start(ctx)
		defer sched.Stop()
	}

	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	if cfg.TracingEnabled {
		e.Use(otelecho.Middleware(cfg.AppName))
	}

	checker := health.NewChecker(db, version)
	checker.RegisterRoutes(e)

	api := e.Group("/api/v1")
	imports.Register(api.Group("/imports"))
	vehicles.Register(api.Group("/vehicles"))
	parts.Register(api.Group("/parts"))

	checker.SetReady(true)

	go func() {
		if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.WithError(err).Info("HTTP server stopped")
		}
	}()
	logger.WithFields(map[string]any{"port": cfg.Port}).Infof("%s listening", cfg.AppName)

	<-ctx.Done()
	checker.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown failed")
	}
	logger.Info("Shutdown complete")
}

func newLogger() ectologger.Logger {
	encoder := json.NewEncoder(os.Stdout)
	return ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		_ = encoder.Encode(msg)
	})
}

func registerDependencies(
	vehicleRepo *vehicle.Repository,
	partRepo *part.Repository,
	relationRepo *vehiclepart.Repository,
	historyRepo *importhistory.Repository,
	syncRepo *synccontrol.Repository,
	apiConfigRepo *apiconfig.Repository,
	orchestrator *importer.Orchestrator,
) error {
	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return err
	}

	if err := ectoinject.RegisterInstance[*vehicle.Repository](container, vehicleRepo); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*part.Repository](container, partRepo); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*vehiclepart.Repository](container, relationRepo); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*importhistory.Repository](container, historyRepo); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*synccontrol.Repository](container, syncRepo); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*apiconfig.Repository](container, apiConfigRepo); err != nil {
		return err
	}
	return ectoinject.RegisterInstance[*importer.Orchestrator](container, orchestrator)
}

func initTracing(ctx context.Context, cfg config.Config) (func(context.Context) error, error) {
	exporter, err := exporters.New(ctx, exporters.Config{
		Endpoint: cfg.TracingOTLPEndpoint,
		Protocol: cfg.TracingOTLPProtocol,
		Insecure: cfg.TracingInsecure,
	})
	if err != nil {
		return nil, err
	}

	res, err := sdkresource.Merge(
		sdkresource.Default(),
		sdkresource.NewSchemaless(attribute.String("service.name", cfg.AppName)),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	tracing.SetTracer(tp.Tracer(cfg.AppName))

	return tp.Shutdown, nil
}

// databaseDependency opens the database and applies migrations inside the
// startup graph so connection failures get the Fibonacci retry treatment.
type databaseDependency struct {
	cfg    config.Config
	logger ectologger.Logger
	db     database.DB
}

func (d *databaseDependency) Name() string {
	return "database"
}

func (d *databaseDependency) DependsOn() []string {
	return nil
}

func (d *databaseDependency) Start(ctx context.Context) error {
	db, err := database.Connect(ctx, database.ConnectionConfig{
		Driver:          d.cfg.DatabaseDriver,
		Host:            d.cfg.DatabaseHost,
		Port:            d.cfg.DatabasePort,
		User:            d.cfg.DatabaseUserName,
		Password:        d.cfg.DatabasePassword,
		Name:            d.cfg.DatabaseName,
		SSLMode:         d.cfg.DatabaseSSLMode,
		MaxOpenConns:    d.cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    d.cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: d.cfg.DatabaseConnMaxLifetime,
	}, d.logger)
	if err != nil {
		return err
	}

	driver, err := migratepg.WithInstance(db.Unsafe().DB, &migratepg.Config{})
	if err != nil {
		return err
	}

	migrator := database.NewMigrator(d.logger, database.MigratorOptions{
		FolderPath:    d.cfg.DatabaseMigrationFolderPath,
		TargetVersion: uint(d.cfg.DatabaseMigrationVersion),
		ForceVersion:  d.cfg.DatabaseMigrationForce,
		AutoRollback:  d.cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrator.Run(d.cfg.DatabaseName, driver); err != nil {
		return err
	}

	d.db = db
	return nil
}

func (d *databaseDependency) Stop(ctx context.Context) error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}
