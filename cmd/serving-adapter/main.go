package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Meesho/BharatMLStack/serving-adapter/internal/config"
	"github.com/Meesho/BharatMLStack/serving-adapter/internal/pipeline"
	"github.com/Meesho/BharatMLStack/serving-adapter/internal/server"
	"github.com/Meesho/BharatMLStack/serving-adapter/internal/serving"
	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/httpframework"
	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/logger"
	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/metric"
	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/tracing"
	"github.com/rs/zerolog/log"
	_ "go.uber.org/automaxprocs"
)

func main() {
	appConfigs, err := config.InitConfig(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := logger.InitLogger(appConfigs.LoggerConfig()); err != nil {
		log.Fatal().Err(err).Msg("failed to initialise logger")
	}
	err = run(appConfigs)
	logger.Close()
	if err != nil {
		os.Exit(1)
	}
}

// run serves until the process is signalled. Failures are logged here and
// returned so every deferred shutdown step still runs.
func run(appConfigs *config.Configs) error {
	metric.Init(appConfigs.MetricConfig())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if appConfigs.TracingEnabled {
		if err := tracing.Init(ctx, appConfigs.TracingConfig()); err != nil {
			log.Error().Err(err).Msg("failed to initialise tracing, continuing without it")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			tracing.ShutdownTracer(shutdownCtx)
		}()
	}

	unit, err := serving.NewUnit(appConfigs.UnitConfig())
	if err != nil {
		log.Error().Err(err).Msg("failed to create model unit")
		return err
	}
	defer func() {
		if err := unit.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close model unit")
		}
	}()
	if err := unit.Load(ctx); err != nil {
		log.Error().Err(err).Msgf("failed to load model %s", unit.Name())
		return err
	}

	router, err := httpframework.New(appConfigs.AppName, appConfigs.AppEnv)
	if err != nil {
		log.Error().Err(err).Msg("failed to create router")
		return err
	}
	server.NewHandler(pipeline.New(unit)).Register(router)

	if err := server.Run(ctx, appConfigs.AppPort, router); err != nil {
		log.Error().Err(err).Msg("http server stopped")
		return err
	}
	return nil
}
