// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// flowvalet is the observability data router daemon: it loads a pipeline
// configuration, runs the component graph, exposes /metrics and /healthz,
// and shuts down in two phases on SIGINT/SIGTERM (a second signal forces
// immediate exit, dropping in-flight events).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/google/gops/agent"

	"github.com/flowvalet/flowvalet/pkg/config"
	"github.com/flowvalet/flowvalet/pkg/log"
	"github.com/flowvalet/flowvalet/pkg/metrics"
	"github.com/flowvalet/flowvalet/pkg/pipeline"
	"github.com/flowvalet/flowvalet/pkg/sinks/nats"
	"github.com/flowvalet/flowvalet/pkg/sinks/s3"
	natssource "github.com/flowvalet/flowvalet/pkg/sources/nats"
	"github.com/flowvalet/flowvalet/pkg/transforms/cardinality"
	"github.com/flowvalet/flowvalet/pkg/transforms/dedupe"
	"github.com/flowvalet/flowvalet/pkg/transforms/remap"
)

const drainTimeout = 30 * time.Second

func main() {
	var flagGops, flagDev bool
	var flagConfigFile, flagLogLevel string
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.BoolVar(&flagDev, "dev", false, "Enable debug logging regardless of the configured level")
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Load the router configuration from `config.json`")
	flag.StringVar(&flagLogLevel, "loglevel", "", "Sets the logging level: `[debug, info, warn, err, crit]` (overrides the config)")
	flag.Parse()

	// See https://github.com/google/gops (Runtime overhead is almost zero)
	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := config.LoadDotEnv("./.env"); err != nil {
		log.Fatalf("parsing './.env' file failed: %s", err.Error())
	}

	cfg, err := config.Load(flagConfigFile)
	if err != nil {
		log.Fatal(err)
	}

	switch {
	case flagDev:
		log.SetLogLevel("debug")
	case flagLogLevel != "":
		log.SetLogLevel(flagLogLevel)
	default:
		log.SetLogLevel(cfg.LogLevel)
	}
	log.SetLogDateTime(cfg.LogDateTime)

	if cfg.GCPercent > 0 {
		debug.SetGCPercent(cfg.GCPercent)
	}
	if cfg.Pipeline.DataDir == "" {
		cfg.Pipeline.DataDir = cfg.DataDir
	}

	reg := metrics.NewRegistry()
	graph := pipeline.New(builderRegistry(), reg)

	if err := graph.Start(&cfg.Pipeline); err != nil {
		log.Fatal(err)
	}

	srv := metrics.NewServer(cfg.Addr, reg, graph.BufferHealth)
	srv.Start()
	log.Infof("flowvalet: serving /metrics and /healthz on %s", cfg.Addr)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	hups := make(chan os.Signal, 1)
	signal.Notify(hups, syscall.SIGHUP)

	for {
		select {
		case <-hups:
			log.Info("flowvalet: SIGHUP, reloading configuration")
			newCfg, err := config.Load(flagConfigFile)
			if err != nil {
				log.Errorf("flowvalet: reload rejected: %v", err)
				continue
			}
			if newCfg.Pipeline.DataDir == "" {
				newCfg.Pipeline.DataDir = newCfg.DataDir
			}
			reloadCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			if err := graph.Reload(reloadCtx, &newCfg.Pipeline); err != nil {
				log.Errorf("flowvalet: %v", err)
			}
			cancel()
			continue
		case sig := <-sigs:
			log.Infof("flowvalet: %s, draining (signal again to force quit)", sig)
		}
		break
	}

	// Second signal anywhere during the drain forces an immediate stop.
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	go func() {
		<-sigs
		log.Warn("flowvalet: second signal, dropping in-flight events")
		cancel()
	}()
	if err := graph.Stop(drainCtx); err != nil {
		log.Warnf("flowvalet: drain incomplete: %v", err)
	}
	cancel()

	shutdownCtx, cancelSrv := context.WithTimeout(context.Background(), 5*time.Second)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("flowvalet: http shutdown: %v", err)
	}
	cancelSrv()
	log.Info("flowvalet: bye")
}

// builderRegistry wires every built-in component kind. Policy transforms and
// the broker/object-store integrations are registered here; anything else a
// deployment needs arrives as a new builder, not a change to the graph
// engine.
func builderRegistry() *pipeline.Registry {
	r := pipeline.NewRegistry()
	r.Sources["nats"] = natssource.Builder
	r.Transforms["dedupe"] = dedupe.Builder
	r.Transforms["cardinality"] = cardinality.Builder
	r.Transforms["filter"] = remap.Builder
	r.Sinks["nats"] = nats.Builder
	r.Sinks["s3"] = s3.Builder
	return r
}
