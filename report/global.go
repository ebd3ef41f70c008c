package report

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/nikiz24/slotstat"
)

var errNotInitialized = errors.New("report: global manager is not initialized")

// Global manager instance
var (
	globalMu      sync.Mutex
	globalManager Manager
	globalLogger  *zap.Logger
)

// Init initializes the global reporting manager and starts it. Calling Init
// again before Shutdown is a no-op.
func Init(config Config) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalManager != nil {
		return nil
	}

	mgr, err := NewManager(config)
	if err != nil {
		return err
	}
	if err := mgr.Start(); err != nil {
		return err
	}
	globalManager = mgr
	globalLogger = config.Logger
	if globalLogger == nil {
		globalLogger = zap.NewNop()
	}

	globalLogger.Info("report system initialized",
		zap.String("namespace", config.Namespace),
		zap.String("subsystem", config.Subsystem),
		zap.String("service", config.ServiceName))
	return nil
}

// RegisterTree registers a collector over an assembled tree with the global
// manager.
func RegisterTree(name string, tree *slotstat.Tree) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalManager == nil {
		return errNotInitialized
	}
	globalManager.RegisterCollector(NewTreeCollector(name, tree, globalLogger))
	return nil
}

// RegisterCollector registers a custom collector with the global manager
func RegisterCollector(collector Collector) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalManager == nil {
		return errNotInitialized
	}
	globalManager.RegisterCollector(collector)
	return nil
}

// RegisterRuntimeCollector registers the process runtime collector
func RegisterRuntimeCollector() error {
	globalMu.Lock()
	logger := globalLogger
	globalMu.Unlock()
	return RegisterCollector(NewRuntimeCollector(logger))
}

// Flush immediately writes all current metrics to the remote endpoint
func Flush(ctx context.Context) error {
	globalMu.Lock()
	mgr := globalManager
	globalMu.Unlock()

	if mgr == nil {
		return errNotInitialized
	}
	return mgr.Flush(ctx)
}

// Shutdown stops the global manager
func Shutdown() {
	globalMu.Lock()
	mgr := globalManager
	globalManager = nil
	globalMu.Unlock()

	if mgr != nil {
		mgr.Stop()
	}
}
