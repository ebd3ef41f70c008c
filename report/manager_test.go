package report

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nikiz24/slotstat"
)

func testTree(t *testing.T) (*slotstat.Tree, slotstat.DBCounters) {
	t.Helper()
	db := slotstat.NewDBCounters("db")
	tree, err := slotstat.Assemble(db)
	require.NoError(t, err)
	db.OnGet()
	return tree, db
}

func remoteWriteServer(t *testing.T, status int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	hits := atomic.NewInt64(0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			hits.Inc()
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, hits
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.InstanceIP = "127.0.0.1"
	return cfg
}

func TestFlushWritesToRemote(t *testing.T) {
	srv, hits := remoteWriteServer(t, http.StatusOK)
	tree, _ := testTree(t)

	cfg := testConfig()
	cfg.RemoteWriteURL = srv.URL
	mgr, err := NewManager(cfg)
	require.NoError(t, err)
	mgr.RegisterCollector(NewTreeCollector("db", tree, nil))

	require.NoError(t, mgr.Flush(context.Background()))
	assert.Equal(t, int64(1), hits.Load())
}

func TestFlushWithoutRemoteWrite(t *testing.T) {
	mgr, err := NewManager(testConfig())
	require.NoError(t, err)
	assert.ErrorIs(t, mgr.Flush(context.Background()), ErrNoRemoteWrite)
}

func TestFlushReportsServerError(t *testing.T) {
	srv, hits := remoteWriteServer(t, http.StatusInternalServerError)
	tree, _ := testTree(t)

	cfg := testConfig()
	cfg.RemoteWriteURL = srv.URL
	mgr, err := NewManager(cfg)
	require.NoError(t, err)
	mgr.RegisterCollector(NewTreeCollector("db", tree, nil))

	assert.Error(t, mgr.Flush(context.Background()))
	assert.GreaterOrEqual(t, hits.Load(), int64(1))
}

func TestNewManagerRequiresServiceName(t *testing.T) {
	cfg := testConfig()
	cfg.ServiceName = ""
	_, err := NewManager(cfg)
	assert.Error(t, err)
}

func TestStartWritesPeriodically(t *testing.T) {
	srv, hits := remoteWriteServer(t, http.StatusOK)
	tree, _ := testTree(t)

	cfg := testConfig()
	cfg.RemoteWriteURL = srv.URL
	cfg.RemoteWriteInterval = 10 * time.Millisecond
	mgr, err := NewManager(cfg)
	require.NoError(t, err)
	mgr.RegisterCollector(NewTreeCollector("db", tree, nil))

	require.NoError(t, mgr.Start())
	assert.Error(t, mgr.Start())
	require.Eventually(t, func() bool { return hits.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)
	mgr.Stop()

	// Stop waits for the loop, so no write can land afterwards.
	n := hits.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, hits.Load())
}

func TestRestartAfterStop(t *testing.T) {
	srv, hits := remoteWriteServer(t, http.StatusOK)
	tree, _ := testTree(t)

	cfg := testConfig()
	cfg.RemoteWriteURL = srv.URL
	cfg.RemoteWriteInterval = 10 * time.Millisecond
	mgr, err := NewManager(cfg)
	require.NoError(t, err)
	mgr.RegisterCollector(NewTreeCollector("db", tree, nil))

	mgr.Stop() // stopping a manager that never started is harmless

	require.NoError(t, mgr.Start())
	require.Eventually(t, func() bool { return hits.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)
	mgr.Stop()

	before := hits.Load()
	require.NoError(t, mgr.Start())
	defer mgr.Stop()
	require.Eventually(t, func() bool { return hits.Load() >= before+2 }, 5*time.Second, 10*time.Millisecond)
}

func TestConvertToTimeSeries(t *testing.T) {
	cfg := testConfig()
	cfg.InstanceID = "id-1"
	cfg.Version = "v1.2.3"
	cfg.CustomLabels = map[string]string{"region": "eu"}
	mgr, err := NewManager(cfg)
	require.NoError(t, err)

	now := time.Now()
	series := mgr.(*managerImpl).convertToTimeSeries([]Metric{
		{Name: "db_get", Value: 3, Labels: map[string]string{"tree": "db"}, Timestamp: now},
	})
	require.Len(t, series, 1)

	labels := make(map[string]string)
	for _, l := range series[0].Labels {
		labels[l.Name] = l.Value
	}
	assert.Equal(t, "app_slotstat_db_get", labels["__name__"])
	assert.Equal(t, "127.0.0.1", labels["instance"])
	assert.Equal(t, "id-1", labels["instance_id"])
	assert.Equal(t, "v1.2.3", labels["version"])
	assert.Equal(t, "eu", labels["region"])
	assert.Equal(t, "db", labels["tree"])
	assert.Equal(t, float64(3), series[0].Sample.Value)
	assert.Equal(t, now, series[0].Sample.Time)
}

func TestLogDump(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	tree, _ := testTree(t)

	cfg := testConfig()
	cfg.LogDump = true
	cfg.Logger = zap.New(core)
	mgr, err := NewManager(cfg)
	require.NoError(t, err)
	mgr.RegisterCollector(NewTreeCollector("db", tree, nil))
	mgr.RegisterCollector(NewRuntimeCollector(nil))

	mgr.(*managerImpl).tick(context.Background())

	entries := logs.FilterMessage("Statistics dump").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "db", fields["tree"])
	assert.Equal(t, "db", fields["root"])
	assert.Contains(t, fields["slots"], "db.get=1")
}

func TestResolverUsesConfiguredServer(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &dns.Server{
		PacketConn: pc,
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
			m := new(dns.Msg)
			m.SetReply(req)
			m.Answer = append(m.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
				A:   net.ParseIP("10.0.0.7").To4(),
			})
			_ = w.WriteMsg(m)
		}),
	}
	started := make(chan struct{})
	srv.NotifyStartedFunc = func() { close(started) }
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	cfg := testConfig()
	cfg.DNSEnable = true
	cfg.DNSTimeout = 2 * time.Second
	cfg.DNSUDPServers = []string{pc.LocalAddr().String()}
	r := newResolver("metrics.invalid", cfg, zap.NewNop())

	ips, changed := r.refresh(context.Background(), true)
	require.True(t, changed)
	assert.Equal(t, []string{"10.0.0.7"}, ips)

	// Unforced lookups are throttled.
	_, changed = r.refresh(context.Background(), false)
	assert.False(t, changed)
}

func TestResolverWithoutHost(t *testing.T) {
	r := newResolver("", testConfig(), zap.NewNop())
	_, changed := r.refresh(context.Background(), true)
	assert.False(t, changed)
}
