// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package codec

// Config selects one serializer/deserializer variant plus the variant's
// options. It is a closed union: Kind picks the variant, and only the option
// fields that variant reads are meaningful (the configuration loader
// validates this against its JSON schema before a Config reaches here).
type Config struct {
	Kind Kind `json:"kind"`

	// AvroSchema is the Avro schema JSON, required when Kind is KindAvro.
	AvroSchema string `json:"avro_schema,omitempty"`

	// OTLPSignals orders the signal types an OTLP decoder tries; empty
	// means logs, metrics, traces.
	OTLPSignals []OTLPSignal `json:"otlp_signals,omitempty"`
}

// NewDecoder instantiates the decoder cfg names.
func NewDecoder(cfg Config) (Decoder, error) {
	switch cfg.Kind {
	case KindJSON:
		return NewJSONCodec(), nil
	case KindText:
		return NewTextCodec(), nil
	case KindLogfmt:
		return NewLogfmtCodec(), nil
	case KindRaw:
		return NewRawBytesCodec(), nil
	case KindAvro:
		return NewAvroCodec(cfg.AvroSchema)
	case KindNative:
		return NewNativeCodec(), nil
	case KindNativeJSON:
		return NewNativeJSONCodec(), nil
	case KindGELF:
		return NewGELFCodec(), nil
	case KindOTLP:
		return NewOTLPCodec(cfg.OTLPSignals...), nil
	case KindLineProtocol:
		return NewLineProtocolCodec(), nil
	default:
		return nil, &ErrUnsupportedKind{Kind: cfg.Kind}
	}
}

// NewEncoder instantiates the encoder cfg names.
func NewEncoder(cfg Config) (Encoder, error) {
	switch cfg.Kind {
	case KindJSON:
		return NewJSONCodec(), nil
	case KindText:
		return NewTextCodec(), nil
	case KindLogfmt:
		return NewLogfmtCodec(), nil
	case KindRaw:
		return NewRawBytesCodec(), nil
	case KindAvro:
		return NewAvroCodec(cfg.AvroSchema)
	case KindNative:
		return NewNativeCodec(), nil
	case KindNativeJSON:
		return NewNativeJSONCodec(), nil
	case KindGELF:
		return NewGELFCodec(), nil
	case KindOTLP:
		return NewOTLPCodec(cfg.OTLPSignals...), nil
	case KindLineProtocol:
		return NewLineProtocolCodec(), nil
	default:
		return nil, &ErrUnsupportedKind{Kind: cfg.Kind}
	}
}
