// Package report polls assembled slotstat trees and ships what it finds:
// to a Prometheus remote-write endpoint, to the log, or both.
//
// The statistics core never calls into this package; a Manager only reads
// the query surface of the trees it was given.
package report

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eryajf/promwrite"
	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/nikiz24/slotstat"
)

// ErrNoRemoteWrite is returned by Flush when no remote write URL is configured.
var ErrNoRemoteWrite = errors.New("report: no remote write client configured")

// Manager is the main interface for metrics collection and reporting
type Manager interface {
	Start() error
	Stop()
	RegisterCollector(collector Collector)
	GetMetrics() []Metric
	// Flush writes the current metrics once, outside the periodic loop.
	Flush(ctx context.Context) error
}

// managerImpl is the implementation of Manager
type managerImpl struct {
	config     Config
	logger     *zap.Logger
	collectors []Collector
	wg         sync.WaitGroup
	mutex      sync.RWMutex
	running    *atomic.Bool

	lifeMu sync.Mutex
	cancel context.CancelFunc // of the running loops

	clientMu sync.Mutex
	client   *promwrite.Client

	dns *resolver
}

// NewManager creates a new reporting manager
func NewManager(config Config) (Manager, error) {
	if err := config.Check(); err != nil {
		return nil, err
	}

	if config.InstanceIP == "" {
		ip, err := OutboundIPv4()
		if err != nil {
			return nil, fmt.Errorf("failed to get outbound IPv4: %w", err)
		}
		config.InstanceIP = ip
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		client *promwrite.Client
		host   string
	)
	if config.RemoteWriteURL != "" {
		client = promwrite.NewClient(config.RemoteWriteURL)
		if u, err := url.Parse(config.RemoteWriteURL); err == nil {
			host = u.Hostname()
		}
	}

	return &managerImpl{
		config:  config,
		logger:  logger,
		running: atomic.NewBool(false),
		client:  client,
		dns:     newResolver(host, config, logger),
	}, nil
}

// RegisterCollector implements Manager interface
func (m *managerImpl) RegisterCollector(collector Collector) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.collectors = append(m.collectors, collector)

	m.logger.Debug("Registered metrics collector",
		zap.String("collector", collector.Name()))
}

// Start implements Manager interface. A stopped manager can be started
// again.
func (m *managerImpl) Start() error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("report: manager already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.lifeMu.Lock()
	m.cancel = cancel
	m.lifeMu.Unlock()

	if m.currentClient() == nil && !m.config.LogDump {
		m.logger.Warn("Starting report manager without remote write URL or log dump")
		return nil
	}

	// Periodic report loop
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(pickDuration(m.config.RemoteWriteInterval, 15*time.Second))
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.tick(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	// DNS refresh loop
	if m.dns.enabled && m.dns.host != "" && net.ParseIP(m.dns.host) == nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ticker := time.NewTicker(m.dns.refreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					m.refreshDNS(ctx, false)
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	return nil
}

// Stop implements Manager interface
func (m *managerImpl) Stop() {
	m.lifeMu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.lifeMu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.running.Store(false)
}

// GetMetrics implements Manager interface
func (m *managerImpl) GetMetrics() []Metric {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var metrics []Metric
	for _, collector := range m.collectors {
		metrics = append(metrics, collector.Collect()...)
	}
	return metrics
}

// Flush implements Manager interface
func (m *managerImpl) Flush(ctx context.Context) error {
	return m.writeMetrics(ctx)
}

func (m *managerImpl) tick(ctx context.Context) {
	if m.config.LogDump {
		m.logDump()
	}
	if m.currentClient() == nil {
		return
	}
	if err := m.writeMetrics(ctx); err != nil {
		m.logger.Error("Failed to write metrics", zap.Error(err))
	}
}

// logDump logs one entry per registered tree with its rendered slots.
func (m *managerImpl) logDump() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, c := range m.collectors {
		tc, ok := c.(*TreeCollector)
		if !ok {
			continue
		}
		var lines []string
		tc.Tree().Walk(func(i int, n slotstat.Node, slot int) {
			lines = append(lines, n.Dump(slot, false))
		})
		m.logger.Info("Statistics dump",
			zap.String("tree", tc.Name()),
			zap.String("root", tc.Tree().Root().Path()),
			zap.Strings("slots", lines))
	}
}

func (m *managerImpl) currentClient() *promwrite.Client {
	m.clientMu.Lock()
	defer m.clientMu.Unlock()
	return m.client
}

// writeMetrics sends collected metrics to the remote write endpoint
func (m *managerImpl) writeMetrics(ctx context.Context) error {
	client := m.currentClient()
	if client == nil {
		return ErrNoRemoteWrite
	}

	metrics := m.GetMetrics()
	if len(metrics) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	req := &promwrite.WriteRequest{
		TimeSeries: m.convertToTimeSeries(metrics),
	}

	_, err := client.Write(ctx, req)
	if err == nil {
		return nil
	}
	// On DNS-related failures, try a forced DNS refresh once
	if m.refreshDNS(ctx, true) {
		if _, retryErr := m.currentClient().Write(ctx, req); retryErr != nil {
			return fmt.Errorf("writing time series failed after dns refresh: %w", retryErr)
		}
		return nil
	}
	return fmt.Errorf("writing time series failed: %w", err)
}

// refreshDNS re-resolves the remote write host and recreates the client,
// dropping its connections, when the address set changed or force is set.
func (m *managerImpl) refreshDNS(ctx context.Context, force bool) bool {
	ips, changed := m.dns.refresh(ctx, force)
	if !changed {
		return false
	}
	m.clientMu.Lock()
	m.client = promwrite.NewClient(m.config.RemoteWriteURL)
	m.clientMu.Unlock()

	m.logger.Info("Refreshed remote write client after DNS update",
		zap.String("host", m.dns.host), zap.Strings("ips", ips))
	return true
}

// convertToTimeSeries converts metrics to promwrite time series format
func (m *managerImpl) convertToTimeSeries(metrics []Metric) []promwrite.TimeSeries {
	result := make([]promwrite.TimeSeries, 0, len(metrics))

	prefix := joinName(m.config.Namespace, m.config.Subsystem)

	for _, metric := range metrics {
		labels := make([]promwrite.Label, 0, 5+len(m.config.CustomLabels)+len(metric.Labels))
		labels = append(labels,
			promwrite.Label{Name: "__name__", Value: joinName(prefix, metric.Name)},
			promwrite.Label{Name: "instance", Value: m.config.InstanceIP},
			promwrite.Label{Name: "instance_id", Value: m.config.InstanceID},
			promwrite.Label{Name: "_target_", Value: m.config.ServiceName},
		)
		if m.config.Version != "" {
			labels = append(labels, promwrite.Label{Name: "version", Value: m.config.Version})
		}
		for k, v := range m.config.CustomLabels {
			labels = append(labels, promwrite.Label{Name: k, Value: v})
		}
		for k, v := range metric.Labels {
			labels = append(labels, promwrite.Label{Name: k, Value: v})
		}

		result = append(result, promwrite.TimeSeries{
			Labels: labels,
			Sample: promwrite.Sample{
				Time:  metric.Timestamp,
				Value: metric.Value,
			},
		})
	}
	return result
}

func joinName(parts ...string) string {
	nonEmpty := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "_")
}
