// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package nats implements the message-broker sink: each event is encoded by
// the configured codec and published to a subject. The broker's flush
// confirmation is the delivery acknowledgement that resolves finalizers.
package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/flowvalet/flowvalet/pkg/channel"
	"github.com/flowvalet/flowvalet/pkg/codec"
	"github.com/flowvalet/flowvalet/pkg/event"
	"github.com/flowvalet/flowvalet/pkg/log"
	"github.com/flowvalet/flowvalet/pkg/metrics"
	"github.com/flowvalet/flowvalet/pkg/pipeline"
)

// Config configures one NATS sink.
type Config struct {
	Address       string `json:"address"`
	Username      string `json:"username,omitempty"`
	Password      string `json:"password,omitempty"`
	CredsFilePath string `json:"creds-file-path,omitempty"`

	Subject string `json:"subject"`

	Codec codec.Config `json:"codec"`
}

// Sink publishes events to a NATS subject.
type Sink struct {
	cfg Config
	enc codec.Encoder
	reg *metrics.Registry
}

// New builds a NATS sink.
func New(cfg Config, reg *metrics.Registry) (*Sink, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("nats sink: address is required")
	}
	if cfg.Subject == "" {
		return nil, fmt.Errorf("nats sink: subject is required")
	}
	if cfg.Codec.Kind == "" {
		cfg.Codec.Kind = codec.KindLineProtocol
	}
	enc, err := codec.NewEncoder(cfg.Codec)
	if err != nil {
		return nil, fmt.Errorf("nats sink: %w", err)
	}
	return &Sink{cfg: cfg, enc: enc, reg: reg}, nil
}

// Builder adapts New to the pipeline registry signature.
func Builder(options json.RawMessage, reg *metrics.Registry) (pipeline.Sink, error) {
	var cfg Config
	if err := json.Unmarshal(options, &cfg); err != nil {
		return nil, err
	}
	return New(cfg, reg)
}

func (s *Sink) InputType() pipeline.DataType {
	switch s.cfg.Codec.Kind {
	case codec.KindLineProtocol:
		return pipeline.Metrics
	case codec.KindOTLP, codec.KindNative, codec.KindNativeJSON:
		return pipeline.AllTypes
	default:
		return pipeline.Logs | pipeline.Traces
	}
}

func (s *Sink) connect() (*nats.Conn, error) {
	var opts []nats.Option
	if s.cfg.Username != "" && s.cfg.Password != "" {
		opts = append(opts, nats.UserInfo(s.cfg.Username, s.cfg.Password))
	}
	if s.cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(s.cfg.CredsFilePath))
	}
	opts = append(opts, nats.RetryOnFailedConnect(true))
	nc, err := nats.Connect(s.cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats sink: connect failed: %w", err)
	}
	log.Infof("nats sink: connected to %s", s.cfg.Address)
	return nc, nil
}

// Run consumes batches until the input closes, publishing each event and
// resolving its finalizers with the broker's verdict: a flushed publish is
// Delivered, an encode failure Rejected (the event can never be published),
// and a transport failure Errored.
func (s *Sink) Run(ctx context.Context, in channel.Receiver) error {
	nc, err := s.connect()
	if err != nil {
		return err
	}
	defer nc.Close()

	for {
		a, err := in.Recv(ctx)
		if err == channel.ErrClosed {
			return nil
		}
		if err != nil {
			return err
		}
		s.reg.EventsIn.WithLabelValues("nats_sink").Add(float64(a.Len()))

		published := make([]*event.Event, 0, a.Len())
		for _, e := range a.Events {
			payload, err := s.enc.Encode(e)
			if err != nil {
				log.Warnf("nats sink: encoding event: %v", err)
				e.Finalizers.Resolve(event.Rejected)
				continue
			}
			if err := nc.Publish(s.cfg.Subject, payload); err != nil {
				log.Errorf("nats sink: publish to %q failed: %v", s.cfg.Subject, err)
				e.Finalizers.Resolve(event.Errored)
				continue
			}
			published = append(published, e)
		}

		status := event.Delivered
		if err := nc.Flush(); err != nil {
			log.Errorf("nats sink: flush failed: %v", err)
			status = event.Errored
		}
		for _, e := range published {
			e.Finalizers.Resolve(status)
			s.reg.FinalizerResolutions.WithLabelValues(status.String()).Inc()
		}
	}
}
