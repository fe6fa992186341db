package main

import (
	"OFSniff/internal/api"
	"OFSniff/internal/config"
	"OFSniff/internal/engine/manager"
	"OFSniff/internal/engine/statistic"
	"OFSniff/internal/pkg/logging"
	"OFSniff/internal/probe"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var log = logging.For("main")

func main() {
	// --- Command-Line Flag Parsing ---
	configPath := flag.String("config", "configs/config.yaml", "Path to the YAML configuration file.")
	mode := flag.String("mode", "run", "Operating mode: 'run' to capture and serve, 'sub' to print published samples.")
	iface := flag.String("iface", "", "Interface to capture on (default: sniffer.interface).")
	port := flag.Int("port", 0, "Controller port to follow (default: sniffer.control_ports).")
	idle := flag.Bool("idle", false, "Serve the API without starting a capture.")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := logging.Configure(cfg.Log); err != nil {
		log.Fatalf("Invalid log configuration: %v", err)
	}

	// --- Mode Dispatch ---
	switch *mode {
	case "run":
		run(cfg, *iface, *port, *idle)
	case "sub":
		runSubscriber(cfg)
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

func run(cfg *config.Config, iface string, port int, idle bool) {
	m, err := manager.NewManager(cfg)
	if err != nil {
		log.Fatalf("Failed to create manager: %v", err)
	}

	server := api.NewServer(cfg.API, m)
	if err := server.Start(); err != nil {
		log.Fatalf("Failed to start API server: %v", err)
	}

	if !idle {
		if iface == "" {
			iface = cfg.Sniffer.Interface
		}
		if !m.StartSniffLoop(iface, port) {
			log.Fatalf("Failed to start capture on %s: %v", iface, m.LastError())
		}
		server.SyncHealth()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info("Shutdown signal received, stopping capture...")

	m.StopSniffLoop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("API server forced to shutdown: %v", err)
	}
	m.Close()
	log.Info("Shutdown complete.")
}

// runSubscriber prints every sample published on the configured subject.
func runSubscriber(cfg *config.Config) {
	sub, err := probe.NewSubscriber(cfg.Probe)
	if err != nil {
		log.Fatalf("Failed to create subscriber: %v", err)
	}
	defer sub.Close()

	handler := func(msg probe.SampleMessage) {
		name := msg.Metric
		if m, _, err := statistic.ParseLogName(msg.Metric); err == nil {
			name = m.LogName(msg.LinkPort)
		}
		fmt.Printf("%s %s:%d %s %.6g %.6g %.6g\n",
			msg.Timestamp.Format(time.RFC3339Nano), msg.IP, msg.Port, name, msg.Value, msg.Average, msg.Variance)
	}
	if err := sub.Start(handler); err != nil {
		log.Fatalf("Subscriber failed to start: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info("Shutdown signal received, cleaning up...")
}
