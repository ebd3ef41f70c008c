package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mkideal/cli"
	clix "github.com/mkideal/cli/ext"
	"go.uber.org/zap"

	"github.com/nikiz24/slotstat/report"
)

type opts struct {
	cli.Helper
	*zap.Logger

	Debug       bool          `cli:"d, debug" usage:"Debug Output"`
	Addr        string        `cli:"a, addr" name:"host:port" usage:"Redis address" dft:"127.0.0.1:6379"`
	Username    string        `cli:"u, user" name:"principal" usage:"Redis ACL user"`
	Password    string        `cli:"p, password" name:"credential" usage:"Redis password"`
	Cap         int           `cli:"c, cap" name:"count" usage:"Soft pool capacity" dft:"16"`
	Workers     int           `cli:"w, workers" name:"count" usage:"Concurrent workers" dft:"64"`
	Operations  int           `cli:"o, ops" name:"operations" usage:"Operation Count" dft:"10000"`
	Timeout     clix.Duration `cli:"timeout" name:"duration" usage:"Admission wait before exceeding the cap" dft:"50ms"`
	CheckEvery  int           `cli:"check-every" name:"operations" usage:"PING a connection every N operations" dft:"100"`
	RemoteWrite string        `cli:"remote-write" name:"url" usage:"Prometheus remote write URL for the final statistics"`
	Compact     bool          `cli:"compact" usage:"Short names in the final dump"`
}

func (opts *opts) configureLogging() (err error) {
	if opts.Debug {
		opts.Logger, err = zap.NewDevelopment()
	} else {
		opts.Logger, err = zap.NewProduction()
	}
	return
}

func main() {
	os.Exit(cli.Run(new(opts), func(cmdline *cli.Context) (err error) {
		opts := cmdline.Argv().(*opts)

		if err = opts.configureLogging(); err != nil {
			return
		}
		logger := opts.Logger
		defer logger.Sync()

		logger.Debug("parsed opts", zap.Reflect("opts", opts))

		b, err := newBench(benchConfig{
			Addr:       opts.Addr,
			Username:   opts.Username,
			Password:   opts.Password,
			Cap:        opts.Cap,
			Workers:    opts.Workers,
			Operations: opts.Operations,
			Timeout:    opts.Timeout.Duration,
			CheckEvery: opts.CheckEvery,
			Logger:     logger,
		})
		if err != nil {
			return
		}
		defer b.Close()

		res, err := b.Run(context.Background())
		if err != nil {
			return
		}
		logger.Info("bench finished",
			zap.Int("ok", res.OK),
			zap.Int("failed", res.Failed),
			zap.Int("over_cap", res.OverCap),
			zap.Duration("elapsed", res.Elapsed))

		if _, err = b.Tree().DumpAll(os.Stdout, opts.Compact); err != nil {
			return
		}

		if opts.RemoteWrite != "" {
			cfg := report.DefaultConfig()
			cfg.ServiceName = "slotstat-bench"
			cfg.RemoteWriteURL = opts.RemoteWrite
			cfg.Logger = logger
			if err = report.Init(cfg); err != nil {
				return fmt.Errorf("init report: %w", err)
			}
			defer report.Shutdown()
			if err = report.RegisterTree("bench", b.Tree()); err != nil {
				return
			}
			err = report.Flush(context.Background())
		}
		return
	}))
}
