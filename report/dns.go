package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// resolver tracks the address set of the remote write host.
type resolver struct {
	host   string
	logger *zap.Logger

	enabled         bool
	cacheTTL        time.Duration
	refreshInterval time.Duration
	timeout         time.Duration
	udpServers      []string
	tlsServers      []string
	dohEndpoints    []string

	mu          sync.Mutex
	resolvedIPs []string
	lastResolve time.Time
	cached      []string
	cachedUntil time.Time
}

func newResolver(host string, config Config, logger *zap.Logger) *resolver {
	return &resolver{
		host:            host,
		logger:          logger,
		enabled:         config.DNSEnable,
		cacheTTL:        pickDuration(config.DNSCacheTTL, 10*time.Minute),
		refreshInterval: pickDuration(config.DNSRefreshInterval, 5*time.Minute),
		timeout:         pickDuration(config.DNSTimeout, 800*time.Millisecond),
		udpServers:      slices.Clone(config.DNSUDPServers),
		tlsServers:      slices.Clone(config.DNSTLSServers),
		dohEndpoints:    slices.Clone(config.DNSDoHEndpoints),
	}
}

// refresh resolves the host and reports whether callers should reconnect:
// the address set changed, or force was set and the lookup succeeded.
// Unforced lookups are throttled to one a minute.
func (r *resolver) refresh(ctx context.Context, force bool) ([]string, bool) {
	if r.host == "" {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !force && time.Since(r.lastResolve) < time.Minute {
		return nil, false
	}

	if !force && r.cached != nil && time.Now().Before(r.cachedUntil) {
		r.lastResolve = time.Now()
		if slices.Equal(r.cached, r.resolvedIPs) {
			return nil, false
		}
		r.resolvedIPs = r.cached
		return r.cached, true
	}

	var (
		ips []string
		err error
	)
	if r.enabled {
		ips, err = r.resolveFastest(ctx)
	} else {
		ips, err = systemLookup(ctx, r.host)
	}
	r.lastResolve = time.Now()

	if err != nil || len(ips) == 0 {
		r.logger.Warn("DNS lookup failed", zap.String("host", r.host), zap.Error(err))
		return nil, false
	}

	changed := !slices.Equal(ips, r.resolvedIPs)
	r.resolvedIPs = ips
	if r.enabled {
		r.cached = ips
		r.cachedUntil = time.Now().Add(r.cacheTTL)
	}
	return ips, changed || force
}

// resolveFastest queries every configured resolver and the system resolver
// concurrently and returns the first non-empty answer.
func (r *resolver) resolveFastest(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		ips []string
		err error
	}

	var lookups []func() ([]string, error)
	for _, srv := range r.udpServers {
		lookups = append(lookups, func() ([]string, error) { return exchange(ctx, "udp", r.host, srv, r.timeout) })
	}
	for _, srv := range r.tlsServers {
		lookups = append(lookups, func() ([]string, error) { return exchange(ctx, "tcp-tls", r.host, srv, r.timeout) })
	}
	for _, ep := range r.dohEndpoints {
		lookups = append(lookups, func() ([]string, error) { return resolveDoH(ctx, r.host, ep) })
	}
	lookups = append(lookups, func() ([]string, error) { return systemLookup(ctx, r.host) })

	// Buffered so that losing lookups never block.
	ch := make(chan result, len(lookups))
	for _, lookup := range lookups {
		go func() {
			ips, err := lookup()
			ch <- result{ips, err}
		}()
	}

	var firstErr error
	for range lookups {
		select {
		case res := <-ch:
			if res.err == nil && len(res.ips) > 0 {
				return res.ips, nil
			}
			if firstErr == nil {
				firstErr = res.err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if firstErr == nil {
		firstErr = errors.New("no dns result")
	}
	return nil, firstErr
}

// exchange sends an A query over "udp" or "tcp-tls".
func exchange(ctx context.Context, network, host, server string, timeout time.Duration) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	c := &dns.Client{Net: network, Timeout: timeout}
	r, _, err := c.ExchangeContext(ctx, m, server)
	if err != nil {
		return nil, fmt.Errorf("%s dns failed: %w", network, err)
	}
	if r == nil || r.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("%s dns failed: bad response", network)
	}
	return answerIPs(r), nil
}

func resolveDoH(ctx context.Context, host, endpoint string) ([]string, error) {
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(host), dns.TypeA)
	payload, err := q.Pack()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/dns-message")
	req.Header.Set("Accept", "application/dns-message")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("doh status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var r dns.Msg
	if err := r.Unpack(body); err != nil {
		return nil, err
	}
	if r.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("doh rcode: %d", r.Rcode)
	}
	return answerIPs(&r), nil
}

func answerIPs(r *dns.Msg) []string {
	ips := make([]string, 0, len(r.Answer))
	for _, ans := range r.Answer {
		if a, ok := ans.(*dns.A); ok {
			ips = append(ips, a.A.String())
		}
	}
	return ips
}

func systemLookup(ctx context.Context, host string) ([]string, error) {
	netIPs, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	ips := make([]string, 0, len(netIPs))
	for _, ip := range netIPs {
		ips = append(ips, ip.String())
	}
	return ips, nil
}
