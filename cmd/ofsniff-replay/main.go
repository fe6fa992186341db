package main

import (
	"OFSniff/internal/config"
	"OFSniff/internal/engine/impl/latency"
	"OFSniff/internal/engine/manager"
	"OFSniff/internal/pkg/logging"
	"OFSniff/pkg/pcap"
	"flag"
	"fmt"
	"os"
	"time"
)

var log = logging.For("replay")

func main() {
	configPath := flag.String("config", "", "Optional YAML configuration file.")
	port := flag.Int("port", 0, "Controller port to follow (default: sniffer.control_ports).")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Println("Usage: ofsniff-replay [-config file] [-port N] <capture.pcap|capture.pcapng>")
		os.Exit(1)
	}
	capturePath := flag.Arg(0)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if err := logging.Configure(cfg.Log); err != nil {
		log.Fatalf("Invalid log configuration: %v", err)
	}
	// Replays are one-shot; the API and alerter belong to live runs.
	cfg.Alerter.Enabled = false

	m, err := manager.NewManager(cfg)
	if err != nil {
		log.Fatalf("Failed to create manager: %v", err)
	}
	m.SetSourceOpener(func(string, []uint16) (manager.PacketSource, error) {
		src, err := pcap.OpenFile(capturePath)
		if err != nil {
			return nil, err
		}
		return src, nil
	})

	log.Infof("Reading packets from '%s'...", capturePath)
	if !m.StartSniffLoop(capturePath, *port) {
		log.Fatalf("Failed to replay %s", capturePath)
	}
	for m.IsRunning() {
		time.Sleep(50 * time.Millisecond)
	}
	if err := m.LastError(); err != nil {
		log.Errorf("Replay ended early: %v", err)
	}

	st := m.TrackerStats()
	log.Infof("Replay finished: %d segments, %d messages, %d desyncs, %d resyncs",
		st.Segments, st.Messages, st.Desyncs, st.Resyncs)
	if _, err := latency.WriteText(os.Stdout, m.Snapshot()); err != nil {
		log.Errorf("Failed to print statistics: %v", err)
	}
	m.Close()
}
