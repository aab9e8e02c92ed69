package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"facility_console/internal/gateway"
	"facility_console/internal/handlers"
	"facility_console/internal/logger"
	"facility_console/internal/repository"
	"facility_console/internal/repository/db"
	"facility_console/internal/scheduler"
	"facility_console/internal/server"
	"facility_console/internal/service"

	"github.com/spf13/viper"
)

const (
	defaultTickInterval = 1 * time.Second
	defaultScope        = "default"
	defaultSigningKey   = "change-me-in-config"
)

func main() {
	// init logger
	log := logger.Get(logger.InfoLevel)

	// load config.yml
	if err := loadConfig(); err != nil {
		log.Fatalw("error reading config", "err", err)
	}

	// open DB
	sqldb, err := openDB(log)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}
	defer func() {
		if cerr := sqldb.Close(); cerr != nil {
			log.Fatalw("failed to close sqlite", "err", cerr)
		}
	}()

	// wire dependencies
	repos := repository.NewRepository(sqldb)
	gw := buildGateway(repos, log)
	sched := scheduler.New(gw, repos.EventRepo, log)
	sched.OnReauthRequired(func() {
		log.Errorw("gateway credentials rejected; reauthentication required")
	})
	services := service.NewService(repos, gw, sched, signingKey())
	apiHandler := handlers.NewHandler(services, log)

	// start the device scheduler
	scope := viper.GetString("scheduler.scope")
	if scope == "" {
		scope = defaultScope
	}
	interval := viper.GetDuration("scheduler.tick_interval")
	if interval <= 0 {
		interval = defaultTickInterval
	}
	if err := sched.Start(scope, interval); err != nil {
		log.Fatalw("failed to start scheduler", "err", err)
	}

	// start HTTP server
	srv := &server.Server{}
	runHTTPServer(srv, viper.GetString("port"), apiHandler, log)

	// graceful shutdown
	waitForShutdown(sched, srv, log)
}

func loadConfig() error {
	viper.AddConfigPath("configs") // configs/config.yml
	viper.SetConfigName("config")
	return viper.ReadInConfig()
}

// openDB initializes the SQLite database using configuration.
func openDB(log *logger.Logger) (*sql.DB, error) {
	dbPath := viper.GetString("db.path")
	if dbPath == "" {
		log.Infow("db.path not set in config; using default file", "default", "app.db")
		dbPath = "app.db"
	}
	return db.InitDB(dbPath)
}

// buildGateway selects the persistence gateway flavor from configuration:
// the local SQLite store, or another console's REST API.
func buildGateway(repos *repository.Repository, log *logger.Logger) gateway.Gateway {
	if viper.GetString("gateway.mode") == "remote" {
		baseURL := viper.GetString("gateway.remote.base_url")
		token := viper.GetString("gateway.remote.token")
		if baseURL == "" {
			log.Fatalw("gateway.mode=remote requires gateway.remote.base_url")
		}
		log.Infow("using remote gateway", "base_url", baseURL)
		return gateway.NewRemoteGateway(baseURL, token, nil)
	}
	return gateway.NewStoreGateway(repos.DeviceRepo)
}

func signingKey() string {
	if k := viper.GetString("auth.signing_key"); k != "" {
		return k
	}
	return defaultSigningKey
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		if port == "" {
			port = "8080"
		}
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals and performs graceful shutdown.
func waitForShutdown(sched *scheduler.Scheduler, srv *server.Server, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	// stop the tick loop; waits for any in-flight gateway call
	sched.Stop()

	// allow in-flight requests to complete
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalw("server forced to shutdown", "err", err)
	}
}
