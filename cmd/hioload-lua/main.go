// File: cmd/hioload-lua/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// hioload-lua runs a Lua script behind the epoll socket server.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/momentics/hioload-lua/control"
	"github.com/momentics/hioload-lua/facade"
)

type options struct {
	config  string
	script  string
	console bool
	watch   bool
}

func main() {
	var opts options
	flag.StringVar(&opts.config, "config", "", "configuration file (JSON)")
	flag.StringVar(&opts.script, "script", "", "script file, overrides script.path")
	flag.BoolVar(&opts.console, "console", false, "start the operator console")
	flag.BoolVar(&opts.watch, "watch", true, "apply configuration file changes at runtime")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, "hioload-lua:", err)
		os.Exit(1)
	}
}

func loadConfig(opts options) (*control.FileConfig, error) {
	fc := control.DefaultFileConfig()
	if opts.config != "" {
		var err error
		if fc, err = control.LoadFile(opts.config); err != nil {
			return nil, err
		}
	}
	if opts.script != "" {
		fc.Script.Path = opts.script
	}
	return fc, nil
}

func newLogger(cfg control.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zc.Build()
}

func run(opts options) error {
	fc, err := loadConfig(opts)
	if err != nil {
		return err
	}
	log, err := newLogger(fc.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	engine, err := facade.New(fc, log, facade.Options{
		ConfigPath: opts.config,
		Watch:      opts.watch,
		Console:    opts.console,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return engine.Run(ctx)
}
