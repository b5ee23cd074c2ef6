package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/aeolun/wired/pkg/crypto"
	"github.com/aeolun/wired/pkg/logging"
	"github.com/aeolun/wired/pkg/server"
	"github.com/aeolun/wired/pkg/spec"
)

func main() {
	configPath := flag.String("config", getEnvOrDefault("WIRED_SERVER_CONFIG", server.DefaultConfigPath), "Config file path (env: WIRED_SERVER_CONFIG)")
	address := flag.String("address", "", "Override [server] address")
	httpAddress := flag.String("http-address", "", "Override [server] http_address")
	logLevel := flag.String("log-level", getEnvOrDefault("WIRED_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	jsonLogs := flag.Bool("json", false, "Log JSON instead of console output")
	flag.Parse()

	logger := logging.New("wired-server", *logLevel, !*jsonLogs)
	gin.SetMode(gin.ReleaseMode)

	tomlConfig, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("Failed to load config")
	}
	if *address != "" {
		tomlConfig.Server.Address = *address
	}
	if *httpAddress != "" {
		tomlConfig.Server.HTTPAddress = *httpAddress
	}

	config, err := tomlConfig.ToServerConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	catalog, err := loadCatalog(config.Spec)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load protocol specification")
	}

	keys := crypto.NewKeyStore(config.KeyPath)
	key, created, err := keys.LoadOrGenerateRSAKey("server", 2048)
	if err != nil {
		log.Fatal().Err(err).Str("path", config.KeyPath).Msg("Failed to load server key")
	}
	if created {
		logger.Info().Str("path", config.KeyPath).Msg("Generated new server key")
	}

	srv, err := server.NewServer(config, catalog, key)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create server")
	}
	srv.SetLogger(logger)

	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}

	event := logger.Info().
		Str("address", srv.Addr().String()).
		Str("protocol", fmt.Sprintf("%s %s", catalog.Name(), catalog.Version()))
	if httpAddr := srv.HTTPAddr(); httpAddr != nil {
		event = event.Str("http", httpAddr.String())
	}
	event.Msg("Server started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	if err := srv.Stop(); err != nil {
		logger.Error().Err(err).Msg("Shutdown error")
		os.Exit(1)
	}
}

func loadCatalog(source string) (*spec.Catalog, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return spec.LoadSource(ctx, source)
}

func getEnvOrDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
