// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package nats implements the message-broker source: a NATS subscription
// whose messages are decoded by a configured codec into event batches. The
// connection wrapper handles reconnects and credential options; a worker
// pool decodes concurrently since one subscription can easily saturate a
// single decoder goroutine.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/flowvalet/flowvalet/pkg/channel"
	"github.com/flowvalet/flowvalet/pkg/codec"
	"github.com/flowvalet/flowvalet/pkg/event"
	"github.com/flowvalet/flowvalet/pkg/log"
	"github.com/flowvalet/flowvalet/pkg/metrics"
	"github.com/flowvalet/flowvalet/pkg/pipeline"
)

// Config configures one NATS source.
type Config struct {
	Address       string `json:"address"`
	Username      string `json:"username,omitempty"`
	Password      string `json:"password,omitempty"`
	CredsFilePath string `json:"creds-file-path,omitempty"`

	Subject string `json:"subject"`
	// Queue makes the subscription a queue-group member for load-balanced
	// consumption across processes; empty means a plain subscription.
	Queue   string `json:"queue,omitempty"`
	Workers int    `json:"workers,omitempty"`

	Codec codec.Config `json:"codec"`
}

// Source subscribes to a subject and turns each message into events.
type Source struct {
	cfg Config
	dec codec.Decoder
	reg *metrics.Registry

	// errLimit rate-limits decode-failure logging: a poisoned subject can
	// deliver thousands of unparseable messages per second and the operator
	// needs a warning, not a flooded journal.
	errLimit *rate.Limiter
}

// New builds a NATS source.
func New(cfg Config, reg *metrics.Registry) (*Source, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("nats source: address is required")
	}
	if cfg.Subject == "" {
		return nil, fmt.Errorf("nats source: subject is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Codec.Kind == "" {
		cfg.Codec.Kind = codec.KindLineProtocol
	}
	dec, err := codec.NewDecoder(cfg.Codec)
	if err != nil {
		return nil, fmt.Errorf("nats source: %w", err)
	}
	return &Source{cfg: cfg, dec: dec, reg: reg, errLimit: rate.NewLimiter(rate.Every(time.Second), 5)}, nil
}

// Builder adapts New to the pipeline registry signature.
func Builder(options json.RawMessage, reg *metrics.Registry) (pipeline.Source, error) {
	var cfg Config
	if err := json.Unmarshal(options, &cfg); err != nil {
		return nil, err
	}
	return New(cfg, reg)
}

func (s *Source) OutputType() pipeline.DataType {
	switch s.cfg.Codec.Kind {
	case codec.KindLineProtocol:
		return pipeline.Metrics
	case codec.KindOTLP, codec.KindNative, codec.KindNativeJSON:
		return pipeline.AllTypes
	default:
		return pipeline.Logs
	}
}

// connect dials NATS with the configured auth options and the standard
// reconnect/error handlers.
func (s *Source) connect() (*nats.Conn, error) {
	var opts []nats.Option
	if s.cfg.Username != "" && s.cfg.Password != "" {
		opts = append(opts, nats.UserInfo(s.cfg.Username, s.cfg.Password))
	}
	if s.cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(s.cfg.CredsFilePath))
	}
	opts = append(opts,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("nats source: disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("nats source: reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Errorf("nats source: %v", err)
		}),
	)
	nc, err := nats.Connect(s.cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats source: connect failed: %w", err)
	}
	log.Infof("nats source: connected to %s", s.cfg.Address)
	return nc, nil
}

// Run subscribes and pumps messages through the decoder worker pool until
// ctx is cancelled.
func (s *Source) Run(ctx context.Context, out channel.Sender) error {
	nc, err := s.connect()
	if err != nil {
		return err
	}
	defer nc.Close()

	msgs := make(chan *nats.Msg, s.cfg.Workers*2)
	var sub *nats.Subscription
	if s.cfg.Queue != "" {
		sub, err = nc.ChanQueueSubscribe(s.cfg.Subject, s.cfg.Queue, msgs)
	} else {
		sub, err = nc.ChanSubscribe(s.cfg.Subject, msgs)
	}
	if err != nil {
		return fmt.Errorf("nats source: subscribe to %q failed: %w", s.cfg.Subject, err)
	}
	log.Infof("nats source: subscription to '%s' established", s.cfg.Subject)

	var wg sync.WaitGroup
	wg.Add(s.cfg.Workers)
	for range s.cfg.Workers {
		go func() {
			defer wg.Done()
			for m := range msgs {
				if err := s.handle(ctx, m.Data, out); err != nil && ctx.Err() == nil {
					if s.errLimit.Allow() {
						log.Errorf("nats source: %v", err)
					}
				}
			}
		}()
	}

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil {
		log.Warnf("nats source: unsubscribe failed: %v", err)
	}
	close(msgs)
	wg.Wait()
	return nil
}

// handle decodes one message and forwards the resulting batches. Decode
// failures are per-record protocol errors: returned to the worker, which
// logs them (rate-limited) and skips the message without stopping the
// subscription.
func (s *Source) handle(ctx context.Context, data []byte, out channel.Sender) error {
	events, err := s.dec.Decode(data)
	if err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}
	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		f := event.NewFinalizer()
		f.OnResolve(func(status event.Status) {
			s.reg.FinalizerResolutions.WithLabelValues(status.String()).Inc()
		})
		e.AttachFinalizer(f)
	}
	s.reg.EventsOut.WithLabelValues("nats_source").Add(float64(len(events)))

	i := 0
	for i < len(events) {
		j := i + 1
		for j < len(events) && events[j].Kind == events[i].Kind {
			j++
		}
		a, err := event.NewArray(events[i].Kind, events[i:j]...)
		if err != nil {
			return err
		}
		if err := out.Send(ctx, a); err != nil {
			return err
		}
		i = j
	}
	return nil
}
