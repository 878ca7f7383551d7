// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package s3 implements the object-storage batch sink: events accumulate
// into newline-delimited-JSON objects that are uploaded once a size, count,
// or age threshold trips. The upload verdict maps onto finalizer status the
// way every sink must: success is Delivered, a permanent client-side
// rejection is Rejected, and anything retryable is Errored.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/google/uuid"

	"github.com/flowvalet/flowvalet/pkg/channel"
	"github.com/flowvalet/flowvalet/pkg/codec"
	"github.com/flowvalet/flowvalet/pkg/event"
	"github.com/flowvalet/flowvalet/pkg/log"
	"github.com/flowvalet/flowvalet/pkg/metrics"
	"github.com/flowvalet/flowvalet/pkg/pipeline"
)

// Config configures one S3 sink.
type Config struct {
	Bucket string `json:"bucket"`
	Prefix string `json:"prefix,omitempty"`
	Region string `json:"region,omitempty"`
	// Endpoint overrides the S3 endpoint for S3-compatible stores.
	Endpoint string `json:"endpoint,omitempty"`

	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`

	// Batch thresholds; a batch uploads when any one trips. The intervals
	// are duration strings ("10s", "1m30s").
	BatchMaxBytes  int    `json:"batch_max_bytes,omitempty"`
	BatchMaxEvents int    `json:"batch_max_events,omitempty"`
	FlushInterval  string `json:"flush_interval,omitempty"`

	// RequestTimeout bounds one PutObject call.
	RequestTimeout string `json:"request_timeout,omitempty"`
}

const (
	defaultBatchMaxBytes  = 8 << 20
	defaultBatchMaxEvents = 10000
	defaultFlushInterval  = 10 * time.Second
	defaultRequestTimeout = 30 * time.Second
)

// Sink batches events into NDJSON objects.
type Sink struct {
	cfg            Config
	flushInterval  time.Duration
	requestTimeout time.Duration
	enc            codec.Encoder
	client         *awss3.Client
	reg            *metrics.Registry
}

// New builds an S3 sink. The client is constructed eagerly so credential
// and region problems surface at graph build time, not first upload.
func New(cfg Config, reg *metrics.Registry) (*Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 sink: bucket is required")
	}
	if cfg.BatchMaxBytes <= 0 {
		cfg.BatchMaxBytes = defaultBatchMaxBytes
	}
	if cfg.BatchMaxEvents <= 0 {
		cfg.BatchMaxEvents = defaultBatchMaxEvents
	}
	flushInterval, err := parseDuration(cfg.FlushInterval, defaultFlushInterval)
	if err != nil {
		return nil, fmt.Errorf("s3 sink: flush_interval: %w", err)
	}
	requestTimeout, err := parseDuration(cfg.RequestTimeout, defaultRequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("s3 sink: request_timeout: %w", err)
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3 sink: loading aws config: %w", err)
	}
	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
			o.UsePathStyle = true
		}
	})

	return &Sink{
		cfg:            cfg,
		flushInterval:  flushInterval,
		requestTimeout: requestTimeout,
		enc:            codec.NewNativeJSONCodec(),
		client:         client,
		reg:            reg,
	}, nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}

// Builder adapts New to the pipeline registry signature.
func Builder(options json.RawMessage, reg *metrics.Registry) (pipeline.Sink, error) {
	var cfg Config
	if err := json.Unmarshal(options, &cfg); err != nil {
		return nil, err
	}
	return New(cfg, reg)
}

func (s *Sink) InputType() pipeline.DataType { return pipeline.AllTypes }

// batch is the accumulating upload unit.
type batch struct {
	buf    bytes.Buffer
	events []*event.Event
}

// Run consumes batches until the input closes, uploading on thresholds and
// on the flush ticker. The final partial batch uploads during drain, so a
// graceful shutdown never strands buffered events.
func (s *Sink) Run(ctx context.Context, in channel.Receiver) error {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	cur := &batch{}
	flush := func() {
		if len(cur.events) == 0 {
			return
		}
		s.upload(ctx, cur)
		cur = &batch{}
	}
	defer flush()

	for {
		select {
		case <-ticker.C:
			flush()
			continue
		default:
		}

		// The receive is bounded by the flush interval so a partial batch
		// still uploads by age while the input is idle.
		recvCtx, cancelRecv := context.WithTimeout(ctx, s.flushInterval)
		a, err := in.Recv(recvCtx)
		cancelRecv()
		if err == channel.ErrClosed {
			return nil
		}
		if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			flush()
			continue
		}
		if err != nil {
			return err
		}
		s.reg.EventsIn.WithLabelValues("s3_sink").Add(float64(a.Len()))

		for _, e := range a.Events {
			line, err := s.enc.Encode(e)
			if err != nil {
				log.Warnf("s3 sink: encoding event: %v", err)
				e.Finalizers.Resolve(event.Rejected)
				continue
			}
			cur.buf.Write(line)
			cur.buf.WriteByte('\n')
			cur.events = append(cur.events, e)
		}
		if cur.buf.Len() >= s.cfg.BatchMaxBytes || len(cur.events) >= s.cfg.BatchMaxEvents {
			flush()
		}
	}
}

// upload puts one NDJSON object and resolves the batch's finalizers with the
// mapped verdict.
func (s *Sink) upload(ctx context.Context, b *batch) {
	key := fmt.Sprintf("%s%s-%s.ndjson", s.cfg.Prefix, time.Now().UTC().Format("2006/01/02/150405"), uuid.NewString())

	reqCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	body := bytes.NewReader(b.buf.Bytes())
	_, err := s.client.PutObject(reqCtx, &awss3.PutObjectInput{
		Bucket: &s.cfg.Bucket,
		Key:    &key,
		Body:   body,
	})

	status := event.Delivered
	if err != nil {
		status = classifyError(err)
		log.Errorf("s3 sink: upload of %s failed (%s): %v", key, status, err)
	}
	for _, e := range b.events {
		e.Finalizers.Resolve(status)
		s.reg.FinalizerResolutions.WithLabelValues(status.String()).Inc()
	}
	if status == event.Delivered {
		log.Debugf("s3 sink: uploaded %s (%d events, %d bytes)", key, len(b.events), b.buf.Len())
	}
}

// classifyError maps an upload failure onto finalizer status: HTTP 4xx is a
// permanent rejection, everything else (5xx, transport, timeout) is
// retryable.
func classifyError(err error) event.Status {
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		code := re.HTTPStatusCode()
		if code >= 400 && code < 500 {
			return event.Rejected
		}
	}
	return event.Errored
}
