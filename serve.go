package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"mobilecontrol/adb"
	"mobilecontrol/api"
	"mobilecontrol/config"
	"mobilecontrol/ios"
	"mobilecontrol/logger"
	"mobilecontrol/robot"
	"mobilecontrol/service"
)

const shutdownTimeout = 10 * time.Second

// serve wires the services and runs the REST and WebSocket listeners until
// ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config) error {
	logWriter, closeLog, err := logger.Setup(cfg.Log.Dir, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer closeLog()
	gin.DefaultWriter = logWriter
	gin.DefaultErrorWriter = logWriter
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	log.Info("Starting mobilecontrol...")

	var history *service.HistoryStore
	if cfg.Database != "" {
		db, err := config.InitDatabase(cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer db.Close()
		history = service.NewHistoryStore(db, cfg.HistoryLimit)
	} else {
		log.Info("Command history disabled")
	}

	adbClient := adb.NewADBClient(cfg.Devices.ADBPath)
	factory := &robot.DefaultFactory{
		ADB:         adbClient,
		Simctl:      ios.NewSimctl(),
		WDAByDevice: make(map[string]*robot.WDAClient, len(cfg.Devices.WDADevices)),
	}
	if cfg.Devices.WDAURL != "" {
		factory.WDA = robot.NewWDAClient(cfg.Devices.WDAURL)
	}
	for udid, u := range cfg.Devices.WDADevices {
		factory.WDAByDevice[udid] = robot.NewWDAClient(u)
	}

	hub := api.NewWebSocketHub()
	directory := service.NewDirectory(hub, cfg.PollInterval(), enumerators(cfg)...)
	factory.Devices = directory.Devices
	deviceManager := service.NewDeviceManager(directory, factory)
	dispatcher := service.NewActionDispatcher(deviceManager, hub, history)
	scripts := service.NewScriptEngine(dispatcher)

	cors := api.CORSPolicy{Enabled: cfg.CORS.Enabled, Origins: cfg.CORS.Origins}
	var auth *api.TokenVerifier
	if cfg.Auth.Enabled {
		auth = api.NewTokenVerifier(cfg.Auth.Token)
	} else {
		log.Warn("Authentication is disabled")
	}

	hub.Attach(deviceManager, dispatcher, cors.CheckOrigin)
	go hub.Run(ctx)

	if _, err := deviceManager.ListDevices(ctx); err != nil {
		log.WithError(err).Warn("Initial device scan failed")
	}

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	api.SetupRoutes(router, api.NewHandlers(deviceManager, dispatcher, scripts, history), cors, auth)

	wsRouter := gin.New()
	wsRouter.Use(gin.Logger(), gin.Recovery())
	api.SetupWebSocketRoutes(wsRouter, hub, auth)

	servers := []*http.Server{
		{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: router, ReadHeaderTimeout: 10 * time.Second},
		{Addr: fmt.Sprintf(":%d", cfg.Server.WSPort), Handler: wsRouter, ReadHeaderTimeout: 10 * time.Second},
	}

	scheme, wsScheme := "http", "ws"
	if cfg.HTTPS.Enabled {
		scheme, wsScheme = "https", "wss"
	}
	log.Infof("Server starting on %s://localhost:%d", scheme, cfg.Server.Port)
	log.Infof("WebSocket server on %s://localhost:%d/", wsScheme, cfg.Server.WSPort)

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			var err error
			if cfg.HTTPS.Enabled {
				err = srv.ListenAndServeTLS(cfg.HTTPS.CertFile, cfg.HTTPS.KeyFile)
			} else {
				err = srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down...")
	case runErr = <-errCh:
		log.WithError(runErr).Error("Server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warnf("Shutdown of %s did not complete", srv.Addr)
		}
	}
	return runErr
}
