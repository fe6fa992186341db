package main

import (
	"OFSniff/internal/engine/impl/latency"
	"OFSniff/internal/model"
	"fmt"
	"log"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./scripts/gobana/main.go <endpoints.dat>")
		os.Exit(1)
	}

	endpoints, err := latency.ReadGob(os.Args[1])
	if err != nil {
		log.Fatalf("Failed to read snapshot: %v", err)
	}

	fmt.Printf("Decoded %d endpoint(s):\n", len(endpoints))
	if _, err := latency.WriteText(os.Stdout, model.Snapshot{Endpoints: endpoints}); err != nil {
		log.Fatalf("Failed to print snapshot: %v", err)
	}
}
