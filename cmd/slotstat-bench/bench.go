package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants"
	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/nikiz24/slotstat"
	"github.com/nikiz24/slotstat/pool"
	"github.com/nikiz24/slotstat/pool/redispool"
)

type benchConfig struct {
	Addr       string
	Username   string
	Password   string
	Cap        int
	Workers    int
	Operations int
	Timeout    time.Duration
	CheckEvery int
	Logger     *zap.Logger
}

type benchResult struct {
	OK      int
	Failed  int
	OverCap int
	Elapsed time.Duration
}

// bench drives INCR/GET round trips through a redis pool from an ants
// worker pool. Every step lands in one statistics tree:
//
//	bench
//	├── runner  (RunnerCounters, aggregates the per-op events)
//	├── redis   (pool instruments)
//	└── op      (Timing of one full round trip)
type bench struct {
	cfg     benchConfig
	logger  *zap.Logger
	tree    *slotstat.Tree
	runner  slotstat.RunnerCounters
	op      *slotstat.Timing
	pool    *pool.Pool[*redis.Client]
	workers *ants.Pool
}

func newBench(cfg benchConfig) (*bench, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	b := &bench{
		cfg:    cfg,
		logger: cfg.Logger,
		runner: slotstat.NewRunnerCounters("runner"),
		op:     slotstat.NewTimingUnit("op", time.Millisecond),
	}
	in := pool.NewInstruments("redis")
	root, err := slotstat.NewGroup("bench", b.runner, in.Group, b.op)
	if err != nil {
		return nil, err
	}
	if b.tree, err = slotstat.Assemble(root); err != nil {
		return nil, err
	}

	rcfg := redispool.DefaultConfig()
	rcfg.Addr = cfg.Addr
	rcfg.Username = cfg.Username
	rcfg.Password = cfg.Password
	rcfg.Cap = cfg.Cap
	rcfg.Logger = cfg.Logger
	if b.pool, err = redispool.New(rcfg, in); err != nil {
		return nil, err
	}

	if b.workers, err = ants.NewPool(cfg.Workers); err != nil {
		b.pool.Close()
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return b, nil
}

func (b *bench) Tree() *slotstat.Tree { return b.tree }

// Run submits cfg.Operations round trips and waits for all of them.
func (b *bench) Run(ctx context.Context) (benchResult, error) {
	start := time.Now()
	ok, failed, overCap := atomic.NewInt64(0), atomic.NewInt64(0), atomic.NewInt64(0)

	var wg sync.WaitGroup
	for i := 0; i < b.cfg.Operations; i++ {
		wg.Add(1)
		seq := i
		err := b.workers.Submit(func() {
			defer wg.Done()
			b.runner.OnAccept()
			switch outcome, err := b.roundTrip(ctx, seq); {
			case err != nil:
				failed.Inc()
				b.logger.Debug("round trip failed", zap.Int("seq", seq), zap.Error(err))
			case outcome == pool.AcquiredOverCap:
				overCap.Inc()
				ok.Inc()
			default:
				ok.Inc()
			}
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return benchResult{}, fmt.Errorf("submit operation %d: %w", i, err)
		}
	}
	wg.Wait()

	return benchResult{
		OK:      int(ok.Load()),
		Failed:  int(failed.Load()),
		OverCap: int(overCap.Load()),
		Elapsed: time.Since(start),
	}, nil
}

func (b *bench) roundTrip(ctx context.Context, seq int) (pool.Outcome, error) {
	defer b.op.Since(time.Now())

	b.runner.OnConnect()
	r := b.pool.Acquire(ctx, b.cfg.Timeout)
	if !r.Ok() {
		b.runner.OnClose()
		return r.Outcome, fmt.Errorf("acquire: %s: %w", r.Outcome, r.Err)
	}
	b.runner.OnConnected()
	client := r.Resource

	if b.cfg.CheckEvery > 0 && seq%b.cfg.CheckEvery == 0 {
		b.runner.OnCheck()
		if err := client.Ping(ctx).Err(); err != nil {
			b.discard(client)
			return r.Outcome, fmt.Errorf("check: %w", err)
		}
	}

	b.runner.OnConnectable()
	key := fmt.Sprintf("slotstat:bench:%d", seq%16)
	if err := client.Incr(ctx, key).Err(); err != nil {
		b.discard(client)
		return r.Outcome, fmt.Errorf("incr: %w", err)
	}
	b.runner.OnWrite()
	if err := client.Get(ctx, key).Err(); err != nil {
		b.discard(client)
		return r.Outcome, fmt.Errorf("get: %w", err)
	}
	b.runner.OnRead()

	b.pool.Release(client)
	return r.Outcome, nil
}

// discard records a failed operation and pools the client anyway; go-redis
// redials a broken connection on next use.
func (b *bench) discard(c *redis.Client) {
	b.runner.OnClose()
	b.pool.Release(c)
}

func (b *bench) Close() {
	if err := b.workers.Release(); err != nil {
		b.logger.Warn("failed to release worker pool", zap.Error(err))
	}
	b.pool.Close()
}
