package redispool_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikiz24/slotstat"
	"github.com/nikiz24/slotstat/pool"
	"github.com/nikiz24/slotstat/pool/redispool"
)

func newServer(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	return mr
}

func TestPoolRoundTrip(t *testing.T) {
	mr := newServer(t)

	in := pool.NewInstruments("redis")
	_, err := slotstat.Assemble(in.Group)
	require.NoError(t, err)

	cfg := redispool.DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.Cap = 2
	p, err := redispool.New(cfg, in)
	require.NoError(t, err)

	ctx := context.Background()
	r := p.Acquire(ctx, time.Second)
	require.True(t, r.Ok(), "outcome %s: %v", r.Outcome, r.Err)
	require.NoError(t, r.Resource.Set(ctx, "k", "v", 0).Err())
	p.Release(r.Resource)

	r = p.Acquire(ctx, time.Second)
	require.True(t, r.Ok())
	got, err := r.Resource.Get(ctx, "k").Result()
	require.NoError(t, err)
	assert.Equal(t, "v", got)
	p.Release(r.Resource)

	assert.Equal(t, int64(1), in.Events.Count(slotstat.DBCreate))
	assert.Equal(t, int64(2), in.Events.Count(slotstat.DBGot))

	p.Close()
	assert.Equal(t, int64(1), in.Events.Count(slotstat.DBClose))
	assert.Equal(t, 0, p.TotalCount())
}

func TestPoolReportsAuthFailure(t *testing.T) {
	mr := newServer(t)
	mr.RequireAuth("correct")

	cfg := redispool.DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.Password = "wrong"
	cfg.DialAttempts = 2
	p, err := redispool.New(cfg, nil)
	require.NoError(t, err)
	defer p.Close()

	r := p.Acquire(context.Background(), time.Second)
	assert.Equal(t, pool.CreateFailed, r.Outcome)
	var cerr *pool.CreationError
	assert.ErrorAs(t, r.Err, &cerr)
	assert.Equal(t, uint64(1), p.Stats().FailedTotal)
}

func TestPoolAuthenticates(t *testing.T) {
	mr := newServer(t)
	mr.RequireUserAuth("svc", "secret")

	cfg := redispool.DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.Username = "svc"
	cfg.Password = "secret"
	p, err := redispool.New(cfg, nil)
	require.NoError(t, err)
	defer p.Close()

	c, ok := p.Get(time.Second)
	require.True(t, ok)
	assert.NoError(t, c.Ping(context.Background()).Err())
	p.Release(c)
}

func TestNewRequiresAddr(t *testing.T) {
	cfg := redispool.DefaultConfig()
	cfg.Addr = ""
	_, err := redispool.New(cfg, nil)
	assert.Error(t, err)
}
