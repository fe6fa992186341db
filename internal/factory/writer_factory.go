package factory

import (
	"OFSniff/internal/config"
	"OFSniff/internal/model"
	"OFSniff/internal/pkg/logging"
	"fmt"
	"sort"
	"sync"
	"time"
)

var log = logging.For("factory")

// WriterFactory builds one snapshot writer from its definition.
type WriterFactory func(def config.WriterDef, interval time.Duration) (model.Writer, error)

var (
	mu       sync.RWMutex
	registry = make(map[string]WriterFactory)
)

// RegisterWriter registers a writer type. It panics on duplicates, so it is
// meant to be called from init functions.
func RegisterWriter(name string, factory WriterFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("writer type '%s' already registered", name))
	}
	registry[name] = factory
}

// Types lists the registered writer types.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateWriters builds every enabled writer in defs.
func CreateWriters(defs []config.WriterDef) ([]model.Writer, error) {
	var writers []model.Writer
	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		mu.RLock()
		factory, ok := registry[def.Type]
		mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("unknown writer type: '%s'", def.Type)
		}

		interval, err := config.ParseDuration("writers.snapshot_interval", def.SnapshotInterval)
		if err != nil {
			return nil, fmt.Errorf("writer '%s': %w", def.Type, err)
		}
		w, err := factory(def, interval)
		if err != nil {
			return nil, fmt.Errorf("error creating writer type '%s': %w", def.Type, err)
		}
		log.Infof("Created %s writer with interval %s", def.Type, interval)
		writers = append(writers, w)
	}
	return writers, nil
}
