package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/tproxydebug/internal/config"
	"github.com/die-net/tproxydebug/internal/interceptor"
	"github.com/die-net/tproxydebug/internal/logger"
	"github.com/die-net/tproxydebug/internal/tproxy"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := pflag.String("config", "", "Optional config file (yaml, toml or json) using the flag names as keys")
	config.RegisterFlags(pflag.CommandLine)

	if !tproxy.RedirectSupported {
		_ = pflag.CommandLine.MarkHidden("mode")
	}

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	cfg, err := config.Load(pflag.CommandLine, *configPath)
	if err != nil {
		return err
	}

	ka, err := cfg.KeepAlive()
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	mode, err := tproxy.ParseMode(cfg.Mode)
	if err != nil {
		return fmt.Errorf("invalid --mode: %w", err)
	}
	resolver, err := tproxy.NewResolver(mode)
	if err != nil {
		return fmt.Errorf("invalid --mode: %w", err)
	}

	log, err := logger.New(logger.Config{
		File:       cfg.LogFile,
		Timestamps: cfg.LogTimestamps,
		Verbose:    cfg.Verbose,
	})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := tproxy.Listen(tproxy.ListenConfig{
		Addr:        cfg.Listen,
		Backlog:     cfg.Backlog,
		Transparent: cfg.Transparent,
		KeepAlive:   ka,
	})
	if err != nil {
		return fmt.Errorf("tproxy listen: %w", err)
	}
	context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})

	srv := interceptor.NewServer(interceptor.Config{
		DrainBytes: cfg.DrainBytes,
		IOTimeout:  cfg.IOTimeout,
		Concurrent: cfg.Concurrent,
		MaxConns:   cfg.MaxConns,
	}, log, resolver)
	expvar.Publish("interceptor", expvar.Func(func() any { return srv.Stats() }))

	if cfg.DebugListen != "" {
		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		lc := net.ListenConfig{}
		debugLn, err := lc.Listen(ctx, "tcp", cfg.DebugListen)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		log.Infof("debug listening on %s", cfg.DebugListen)
	}

	g.Go(func() error {
		if err := srv.Serve(ctx, ln); err != nil {
			return fmt.Errorf("tproxy serve: %w", err)
		}
		return nil
	})

	port := cfg.Listen
	if ta, ok := ln.Addr().(*net.TCPAddr); ok {
		port = fmt.Sprint(ta.Port)
	}
	log.Infof("TPROXY Debug Server listening on port %s...", port)

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	log.Infof("shutting down")
	return err
}
