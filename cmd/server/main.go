package main

import (
	"flag"
	"fmt"
	"net/http"
	"time"

	"factory-safety-go/config"
	"factory-safety-go/internal/api/handlers"
	"factory-safety-go/internal/audit"
	"factory-safety-go/internal/cleanup"
	"factory-safety-go/internal/db"
	"factory-safety-go/internal/detect"
	"factory-safety-go/internal/identity"
	"factory-safety-go/internal/ingest"
	"factory-safety-go/internal/logger"
	"factory-safety-go/internal/snapshot"
	"factory-safety-go/internal/sse"
	"factory-safety-go/internal/tracking"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "/config/config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(cfg.Log); err != nil {
		log.Errorf("Failed to initialize logger completely: %v", err)
	}

	log.Info("Initializing database...")
	if err := db.Init(cfg.DB); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// SSE hub for dashboard push
	hub := sse.NewHub()
	go hub.Run()

	// Directory, audit store and snapshot store
	directory := identity.NewDirectory(db.DB)
	visitStore := audit.NewStore(db.DB)

	var snapshots tracking.SnapshotStore
	if cfg.Tracking.SnapshotEnabled {
		snapshots = snapshot.NewStore(cfg.Server.SnapshotDir)
	}

	// Detector client (optional)
	var detector *detect.Client
	if cfg.Detector.Enabled {
		detector = detect.NewClient(cfg.Detector)
	} else {
		log.Info("Detector integration is disabled; only pre-computed observations will be processed")
	}

	// Visit notifiers: dashboard push always available, MQTT when enabled.
	var notifiers []audit.Notifier
	if cfg.Notifications.Visits {
		notifiers = append(notifiers, hub)
	}

	var mqttClient *ingest.Client
	if cfg.MQTT.Enabled {
		mqttClient = ingest.NewClient(cfg.MQTT, db.DB, detector, hub)
		if cfg.Notifications.Visits {
			notifiers = append(notifiers, mqttClient)
		}
	} else {
		log.Info("MQTT is disabled in config.")
	}

	// Tracking engine
	engineCfg := tracking.Config{
		ProximityThreshold: cfg.Tracking.ProximityThreshold,
		SessionTimeout:     cfg.Tracking.SessionTimeout,
		SnapshotEnabled:    cfg.Tracking.SnapshotEnabled,
	}
	manager := tracking.NewManager(engineCfg, directory, audit.NewSink(visitStore, notifiers...), snapshots, nil)

	// The MQTT intake needs the manager to run cycles; the manager needs
	// the MQTT client as a visit notifier. Bind the manager late.
	if mqttClient != nil {
		mqttClient.SetManager(manager)
		if err := mqttClient.Start(); err != nil {
			log.Warnf("Failed to start MQTT client: %v. Continuing without MQTT.", err)
		} else {
			defer mqttClient.Stop()
		}
	}

	// Retention cleanup
	cleanupService := cleanup.NewService(db.DB, cfg.Cleanup.RetentionDays, cfg.Server.SnapshotDir, 24*time.Hour)
	if cleanupService != nil {
		cleanupService.Start()
		defer cleanupService.Stop()
	}

	// HTTP router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	apiHandler := handlers.NewAPIHandler(db.DB, cfg, manager, detector, directory, hub)
	apiHandler.RegisterRoutes(router.Group("/api"))

	// Serve review snapshots for the dashboard
	router.StaticFS(cfg.Server.SnapshotURL, http.Dir(cfg.Server.SnapshotDir))

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Infof("Starting server on %s", serverAddr)
	if err := router.Run(serverAddr); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
