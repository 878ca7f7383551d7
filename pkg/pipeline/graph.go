// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/flowvalet/flowvalet/pkg/channel"
	v2 "github.com/flowvalet/flowvalet/pkg/diskbuffer/v2"
	"github.com/flowvalet/flowvalet/pkg/event"
	"github.com/flowvalet/flowvalet/pkg/log"
	"github.com/flowvalet/flowvalet/pkg/metrics"
)

// Graph owns a running pipeline: the instantiated nodes, the channels
// between them, and the goroutines executing them.
type Graph struct {
	registry *Registry
	metrics  *metrics.Registry

	mu      sync.Mutex
	cfg     *Config
	current *running
}

// running is the live state of one started configuration. Reload swaps the
// whole value.
type running struct {
	nodes   map[string]*node
	buffers map[string]*v2.Buffer

	sourceCancel context.CancelFunc
	forceCancel  context.CancelFunc
	wg           sync.WaitGroup
}

// New builds an idle graph bound to a builder registry and metrics handle.
func New(registry *Registry, m *metrics.Registry) *Graph {
	return &Graph{registry: registry, metrics: m}
}

// Start builds cfg and runs it. It fails without side effects if the config
// does not validate.
func (g *Graph) Start(cfg *Config) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current != nil {
		return fmt.Errorf("pipeline: graph already running")
	}
	run, err := g.startLocked(cfg)
	if err != nil {
		return err
	}
	g.cfg = cfg
	g.current = run
	return nil
}

func (g *Graph) startLocked(cfg *Config) (*running, error) {
	nodes, err := buildNodes(cfg, g.registry, g.metrics)
	if err != nil {
		return nil, err
	}

	baseCtx, forceCancel := context.WithCancel(context.Background())
	srcCtx, sourceCancel := context.WithCancel(baseCtx)

	run := &running{
		nodes:        nodes,
		buffers:      make(map[string]*v2.Buffer),
		sourceCancel: sourceCancel,
		forceCancel:  forceCancel,
	}

	// One channel per consumer; producers fan out into the consumers of
	// each of their outputs. The consumer channel closes once every inbound
	// edge has closed. A consumer that declares a disk buffer gets the
	// durable channel variant instead of the in-memory one.
	consumerIn := make(map[string]channel.Receiver)
	consumerSender := make(map[string]*countingSender)
	for name, n := range nodes {
		if n.role == roleSource {
			continue
		}
		var (
			s channel.Sender
			r channel.Receiver
		)
		if n.cfg.Buffer != nil && n.cfg.Buffer.Type == "disk" {
			buf, err := v2.Open(filepath.Join(cfg.DataDir, "buffer", "v2", name), v2.Options{
				Decode: func(payload []byte) (uint64, error) {
					a, err := channel.ArrayDecode(payload)
					if err != nil {
						return 0, err
					}
					return uint64(a.Len()), nil
				},
				MaxTotalBytes: n.cfg.Buffer.MaxBytes,
			})
			if err != nil {
				forceCancel()
				run.closeBuffers()
				return nil, fmt.Errorf("pipeline: opening disk buffer for %s: %w", name, err)
			}
			run.buffers[name] = buf
			s, r = channel.NewDisk(buf)
		} else {
			s, r = channel.NewMemory(cfg.channelCapacity())
		}
		consumerIn[name] = r
		consumerSender[name] = &countingSender{Sender: s}
	}
	// Count inbound edges, then hand each producer output its fanout.
	outEdges := make(map[string]map[string][]*countingSender) // producer -> output -> targets
	for _, n := range nodes {
		for _, ref := range n.inputs {
			target := consumerSender[n.name]
			target.producers++
			byOutput, ok := outEdges[ref.component]
			if !ok {
				byOutput = make(map[string][]*countingSender)
				outEdges[ref.component] = byOutput
			}
			byOutput[ref.output] = append(byOutput[ref.output], target)
		}
	}

	outsFor := func(n *node) (map[string]channel.Sender, error) {
		outputs, err := n.outputTypes()
		if err != nil {
			return nil, err
		}
		outs := make(map[string]channel.Sender, len(outputs))
		for name := range outputs {
			targets := outEdges[n.name][name]
			if len(targets) == 0 {
				// An unconsumed output still needs a destination; events
				// pushed there resolve Dropped so acknowledgement state
				// never starves.
				outs[name] = discardSender{}
				continue
			}
			senders := make([]channel.Sender, len(targets))
			for i, t := range targets {
				senders[i] = t
			}
			outs[name] = &fanoutSender{targets: senders}
		}
		return outs, nil
	}

	// Sinks and transforms start first so sources never send into a
	// consumer that is not yet draining.
	for name, n := range nodes {
		switch n.role {
		case roleSink:
			run.wg.Add(1)
			go func(name string, n *node, in channel.Receiver) {
				defer run.wg.Done()
				if err := n.sink.Run(baseCtx, in); err != nil && baseCtx.Err() == nil {
					log.Errorf("pipeline: sink %s: %v", name, err)
				}
			}(name, n, consumerIn[name])
		case roleTransform:
			outs, err := outsFor(n)
			if err != nil {
				forceCancel()
				return nil, err
			}
			run.wg.Add(1)
			go func(name string, n *node, in channel.Receiver, outs map[string]channel.Sender) {
				defer run.wg.Done()
				runTransform(baseCtx, name, n.tr, in, outs, g.metrics)
			}(name, n, consumerIn[name], outs)
		}
	}
	for name, n := range nodes {
		if n.role != roleSource {
			continue
		}
		outs, err := outsFor(n)
		if err != nil {
			forceCancel()
			return nil, err
		}
		out := outs[DefaultOutput]
		run.wg.Add(1)
		go func(name string, n *node, out channel.Sender) {
			defer run.wg.Done()
			if err := n.source.Run(srcCtx, out); err != nil && srcCtx.Err() == nil {
				log.Errorf("pipeline: source %s: %v", name, err)
			}
			// Source done (shutdown or input end): close the output so the
			// drain phase propagates downstream.
			out.Close()
		}(name, n, out)
	}

	log.Infof("pipeline: started %d sources, %d transforms, %d sinks",
		len(cfg.Sources), len(cfg.Transforms), len(cfg.Sinks))
	return run, nil
}

// Stop performs the two-phase shutdown: signal sources, then drain until
// every component's input closes. If ctx expires before the drain finishes,
// the graph is force-stopped and in-flight events resolve Dropped.
func (g *Graph) Stop(ctx context.Context) error {
	g.mu.Lock()
	run := g.current
	g.current = nil
	g.cfg = nil
	g.mu.Unlock()
	if run == nil {
		return nil
	}
	return run.stop(ctx)
}

func (r *running) stop(ctx context.Context) error {
	r.sourceCancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.closeBuffers()
		return nil
	case <-ctx.Done():
		log.Warn("pipeline: drain interrupted, dropping in-flight events")
		r.forceCancel()
		<-done
		r.closeBuffers()
		return ctx.Err()
	}
}

func (r *running) closeBuffers() {
	for name, buf := range r.buffers {
		if err := buf.Close(); err != nil {
			log.Warnf("pipeline: closing disk buffer %s: %v", name, err)
		}
	}
	r.buffers = nil
}

// ForceStop abandons the drain immediately. In-flight events resolve
// Dropped.
func (g *Graph) ForceStop() {
	g.mu.Lock()
	run := g.current
	g.current = nil
	g.cfg = nil
	g.mu.Unlock()
	if run == nil {
		return
	}
	run.forceCancel()
	run.wg.Wait()
	run.closeBuffers()
}

// BufferHealth reports per-buffer degraded state for /healthz: buffer name
// to error, nil meaning healthy.
func (g *Graph) BufferHealth() map[string]error {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]error)
	if g.current == nil {
		return out
	}
	for name, buf := range g.current.buffers {
		if degraded, err := buf.IsDegraded(); degraded {
			out[name] = err
		} else {
			out[name] = nil
		}
	}
	return out
}

// Reload swaps the running graph for newCfg. It fails closed: newCfg is
// fully validated (references, types, cycles, builder instantiation) before
// any running component is touched, and a validation failure leaves the old
// graph running untouched.
func (g *Graph) Reload(ctx context.Context, newCfg *Config) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.current == nil {
		run, err := g.startLocked(newCfg)
		if err != nil {
			return err
		}
		g.cfg = newCfg
		g.current = run
		return nil
	}

	// Validation-only pass first: instantiate and type-check without
	// starting anything.
	if _, err := buildNodes(newCfg, g.registry, g.metrics); err != nil {
		return fmt.Errorf("pipeline: reload rejected, keeping old graph: %w", err)
	}

	changed := diffConfigs(g.cfg, newCfg)
	if len(changed) == 0 {
		log.Info("pipeline: reload is a no-op, no component changed")
		return nil
	}
	log.Infof("pipeline: reloading, %d components changed: %v", len(changed), changed)

	// The validated config replaces the whole running graph: stopping only
	// the changed components and splicing edges piecemeal would expose a
	// window where an unchanged consumer observes a dangling input, which
	// is exactly the inconsistent state reload must never produce.
	old := g.current
	g.current = nil
	if err := old.stop(ctx); err != nil {
		log.Warnf("pipeline: reload drain: %v", err)
	}
	run, err := g.startLocked(newCfg)
	if err != nil {
		// The old graph is already stopped; this is unreachable for any
		// config that passed validation, but fail loudly rather than run
		// nothing silently.
		return fmt.Errorf("pipeline: reload start failed after validation: %w", err)
	}
	g.cfg = newCfg
	g.current = run
	return nil
}

// diffConfigs names every component added, removed, or changed between two
// configs.
func diffConfigs(old, next *Config) []string {
	var changed []string
	sections := []struct {
		oldC, newC map[string]ComponentConfig
	}{
		{old.Sources, next.Sources},
		{old.Transforms, next.Transforms},
		{old.Sinks, next.Sinks},
	}
	for _, sec := range sections {
		for name, oc := range sec.oldC {
			nc, ok := sec.newC[name]
			if !ok || !equalComponent(oc, nc) {
				changed = append(changed, name)
			}
		}
		for name := range sec.newC {
			if _, ok := sec.oldC[name]; !ok {
				changed = append(changed, name)
			}
		}
	}
	return changed
}

// countingSender closes its underlying sender only after Close has been
// called once per inbound edge, so a consumer fed by several producers keeps
// draining until the last one finishes.
type countingSender struct {
	channel.Sender
	mu        sync.Mutex
	producers int
}

func (c *countingSender) Close() error {
	c.mu.Lock()
	c.producers--
	closeNow := c.producers == 0
	c.mu.Unlock()
	if closeNow {
		return c.Sender.Close()
	}
	return nil
}

// fanoutSender duplicates each batch to every consumer of one producer
// output. The first consumer receives the original events (and their
// finalizers); later consumers receive deep clones without finalizers, so
// delivery status is owned by exactly one path and never double-resolved.
type fanoutSender struct {
	targets []channel.Sender
}

func (f *fanoutSender) Send(ctx context.Context, a *event.Array) error {
	// All clones are taken before the original is handed to any consumer:
	// once sent, the batch belongs to the receiver and may be mutated
	// concurrently.
	batches := make([]*event.Array, len(f.targets))
	batches[0] = a
	for i := 1; i < len(f.targets); i++ {
		clones := make([]*event.Event, len(a.Events))
		for j, e := range a.Events {
			clones[j] = e.Clone()
		}
		batches[i] = &event.Array{Kind: a.Kind, Events: clones}
	}
	for i, t := range f.targets {
		if err := t.Send(ctx, batches[i]); err != nil {
			return err
		}
	}
	return nil
}

func (f *fanoutSender) Close() error {
	var firstErr error
	for _, t := range f.targets {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// discardSender is the destination for output names no consumer references:
// events resolve Dropped immediately.
type discardSender struct{}

func (discardSender) Send(_ context.Context, a *event.Array) error {
	a.ResolveAll(event.Dropped)
	return nil
}

func (discardSender) Close() error { return nil }
