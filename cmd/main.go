package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	server "github.com/AbyelT/omnipaxos/omni-server"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Path to the YAML configuration file")
		logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	)

	flag.Parse()

	logger := logrus.New()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatalf("Invalid log level: %v", err)
	}
	logger.SetLevel(level)

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	node, err := server.NewNode(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to create node: %v", err)
	}

	node.Start()
	defer node.Shutdown()

	handler := server.NewHTTPHandler(node, logger)
	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpServer := &http.Server{Addr: cfg.Node.Address, Handler: router}

	go func() {
		logger.Infof("Node %d listening on %s", cfg.Node.ID, cfg.Node.Address)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
}
