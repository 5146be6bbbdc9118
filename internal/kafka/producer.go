// Package kafka adapts Risotto's sink.Sink contract onto a franz-go
// producer client, inverting the teacher's consumer-side construction
// (internal/kafka/state_consumer.go) into a producer (spec.md §6,
// "broker client library ... treated as a sink with a produce()
// contract").
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/route-beacon/risotto/internal/config"
	"github.com/route-beacon/risotto/internal/sink"
)

// Producer is a sink.Sink backed by a franz-go producer client.
type Producer struct {
	client *kgo.Client
	topic  string
	logger *zap.Logger
}

// NewProducer builds a Producer from Risotto's Kafka configuration,
// reusing the TLS/SASL construction the teacher's consumer uses.
func NewProducer(cfg config.KafkaConfig, logger *zap.Logger) (*Producer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.ProducerBatchCompression(compressionFor(cfg.CompressionCodec)),
	}

	tlsCfg, err := cfg.BuildTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	if tlsCfg != nil {
		opts = append(opts, kgo.DialTLSConfig(tlsCfg))
	}
	if mech := cfg.BuildSASLMechanism(); mech != nil {
		opts = append(opts, kgo.SASL(mech))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: creating client: %w", err)
	}

	return &Producer{client: client, topic: cfg.Topic, logger: logger}, nil
}

// compressionFor maps the configured codec name onto franz-go's
// compression option. zstd, via klauspost/compress, is the default:
// it gives the best ratio for the repetitive binary update records
// this producer carries.
func compressionFor(codec string) kgo.CompressionCodec {
	switch strings.ToLower(codec) {
	case "zstd":
		return kgo.ZstdCompression()
	case "snappy":
		return kgo.SnappyCompression()
	case "lz4":
		return kgo.Lz4Compression()
	case "gzip":
		return kgo.GzipCompression()
	case "none":
		return kgo.NoCompression()
	default:
		return kgo.ZstdCompression()
	}
}

// Produce hands one record to the broker client and blocks until the
// broker acknowledges it or ctx is canceled, satisfying the session
// handler's synchronous back-pressure contract (spec.md §4.2, §5).
func (p *Producer) Produce(ctx context.Context, key, value []byte) error {
	record := &kgo.Record{Topic: p.topic, Key: key, Value: value}

	results := p.client.ProduceSync(ctx, record)
	if err := results.FirstErr(); err != nil {
		if ctx.Err() != nil {
			return &sink.TransientError{Err: err}
		}
		if isRetriableProduceError(err) {
			return &sink.TransientError{Err: err}
		}
		return &sink.FatalError{Err: err}
	}
	return nil
}

// isRetriableProduceError classifies franz-go's produce errors: a
// broker-returned error code carries its own Retriable verdict
// (kerr.Error), which covers transient conditions like a leader
// election in progress; anything else (a record too large, an unknown
// topic with auto-creation disabled) is treated as fatal since
// retrying cannot help.
func isRetriableProduceError(err error) bool {
	var kerrErr *kerr.Error
	if errors.As(err, &kerrErr) {
		return kerrErr.Retriable
	}
	return false
}

// Close flushes in-flight records and tears down the client.
func (p *Producer) Close() error {
	p.client.Close()
	return nil
}

