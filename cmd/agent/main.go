/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

// The agent binary runs the crypto agent standalone: it syncs policy with
// the Hub, collects schema from the configured database (WRAPPER shape) or
// from an entity manifest (AOP shape), and serves the admin and metrics
// endpoints. Embedded deployments skip this binary and drive the same
// packages as a library.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wso2/data-protection/crypto-agent/pkg/api/handlers"
	"github.com/wso2/data-protection/crypto-agent/pkg/api/middleware"
	"github.com/wso2/data-protection/crypto-agent/pkg/config"
	"github.com/wso2/data-protection/crypto-agent/pkg/constants"
	"github.com/wso2/data-protection/crypto-agent/pkg/controlplane"
	"github.com/wso2/data-protection/crypto-agent/pkg/hub"
	"github.com/wso2/data-protection/crypto-agent/pkg/interception"
	"github.com/wso2/data-protection/crypto-agent/pkg/logger"
	"github.com/wso2/data-protection/crypto-agent/pkg/metrics"
	"github.com/wso2/data-protection/crypto-agent/pkg/policy"
	"github.com/wso2/data-protection/crypto-agent/pkg/schema"
	"github.com/wso2/data-protection/crypto-agent/pkg/storage"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional; environment variables override)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting crypto agent",
		zap.String("alias", cfg.Agent.Alias),
		zap.String("shape", cfg.Agent.Shape),
		zap.String("hub_url", cfg.Agent.HubURL),
		zap.Bool("fail_open", cfg.Agent.FailOpen),
	)

	metrics.SetEnabled(cfg.Metrics.Enabled)
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port, log)
		if err := metricsServer.Start(); err != nil {
			log.Fatal("Failed to start metrics server", zap.Error(err))
		}
	} else {
		metrics.Init()
	}

	store := storage.NewStore(cfg.Agent.DataDir, cfg.Agent.Shape, log)
	resolver := policy.NewResolver(store, log)

	hubClient, err := hub.NewClient(cfg.Agent.HubURL, hub.Options{
		Timeout:    cfg.Agent.HTTPTimeout,
		CACertPath: cfg.Agent.CACertPath,
	}, log)
	if err != nil {
		log.Fatal("Failed to build Hub client", zap.Error(err))
	}

	provider, err := buildSchemaProvider(cfg, log)
	if err != nil {
		log.Fatal("Failed to build schema provider", zap.Error(err))
	}

	orch := controlplane.NewOrchestrator(cfg.Agent, store, resolver, hubClient, provider, log)

	ctx := context.Background()
	if err := orch.Start(ctx); err != nil {
		log.Fatal("Failed to start agent", zap.Error(err))
	}

	var adminServer *http.Server
	if cfg.Admin.Enabled {
		if os.Getenv("GIN_MODE") == "" {
			gin.SetMode(gin.ReleaseMode)
		}
		router := gin.New()
		router.Use(middleware.CorrelationIDMiddleware(log))
		router.Use(middleware.ErrorHandlingMiddleware(log))
		router.Use(middleware.LoggingMiddleware(log))
		router.Use(middleware.MetricsMiddleware())

		handlers.NewAdminServer(orch, resolver, store, log).Register(router)

		adminServer = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Admin.Host, cfg.Admin.Port),
			Handler: router,
		}
		log.Info("Starting admin API server", zap.String("addr", adminServer.Addr))
		go func() {
			if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal("Admin API server failed", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down crypto agent")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Admin.ShutdownTimeout)
	defer cancel()

	orch.Stop()

	if adminServer != nil {
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Error("Admin API server forced to shutdown", zap.Error(err))
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			log.Error("Metrics server forced to shutdown", zap.Error(err))
		}
	}
	if closer, ok := provider.(interface{ Close() error }); ok {
		closer.Close()
	}

	log.Info("Crypto agent stopped")
}

// buildSchemaProvider picks the schema collector for the deployment shape.
// WRAPPER collects from the configured database; AOP builds a catalog from
// the entity manifest, since standalone runs have no tagged structs to
// reflect over.
func buildSchemaProvider(cfg *config.Config, log *zap.Logger) (schema.Collector, error) {
	if cfg.Agent.Shape == constants.ShapeWrapper {
		switch cfg.Database.Vendor {
		case constants.VendorPostgres:
			return schema.NewPostgresCollector(cfg.Database.DSN, cfg.Agent.DatasourceID, cfg.Agent.Alias)
		case constants.VendorSQLite:
			return schema.NewSQLiteCollector(cfg.Database.DSN, cfg.Agent.DatasourceID, cfg.Agent.Alias)
		default:
			return nil, fmt.Errorf("unknown database vendor %q", cfg.Database.Vendor)
		}
	}

	catalog := schema.NewDescriptorCatalog(cfg.Agent.DatasourceID)
	if cfg.Agent.EntityManifest != "" {
		manifest, err := interception.LoadManifest(cfg.Agent.EntityManifest)
		if err != nil {
			return nil, fmt.Errorf("failed to load entity manifest: %w", err)
		}
		for _, entity := range manifest.Entities {
			if entity.Table == "" {
				continue
			}
			columns := make([]string, 0, len(entity.Fields))
			for _, field := range entity.Fields {
				column := field.Column
				if column == "" {
					column = strings.ToLower(field.Name)
				}
				columns = append(columns, column)
			}
			catalog.Register(entity.Schema, entity.Table, columns...)
		}
		log.Info("Entity manifest loaded", zap.Int("entities", len(manifest.Entities)))
	}
	catalog.MarkReady()
	return catalog, nil
}
