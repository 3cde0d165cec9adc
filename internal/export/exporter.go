// Package export mirrors the API event stream to a Kafka topic, so route
// activity can feed the same pipelines that consume other BGP telemetry.
package export

import (
	"bytes"
	"context"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/exa-networks/exabgp/internal/config"
	"github.com/exa-networks/exabgp/internal/metrics"
)

type record struct {
	key   []byte
	value []byte
}

// Exporter publishes event envelopes keyed by neighbor address. Publish
// never blocks the reactor: a full buffer drops the event and counts it.
type Exporter struct {
	client        *kgo.Client
	topic         string
	compressAbove int
	in            chan record
	done          chan struct{}
	logger        *zap.Logger
}

func New(cfg *config.ExportConfig, logger *zap.Logger) (*Exporter, error) {
	tlsCfg, err := cfg.BuildTLSConfig()
	if err != nil {
		return nil, err
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.DefaultProduceTopic(cfg.Topic),
	}
	if tlsCfg != nil {
		opts = append(opts, kgo.DialTLSConfig(tlsCfg))
	}
	if mech := cfg.BuildSASLMechanism(); mech != nil {
		opts = append(opts, kgo.SASL(mech))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}

	e := &Exporter{
		client:        client,
		topic:         cfg.Topic,
		compressAbove: cfg.CompressAbove,
		in:            make(chan record, 1024),
		done:          make(chan struct{}),
		logger:        logger.Named("export"),
	}
	go e.run()
	return e, nil
}

// Publish enqueues one envelope; false means the buffer was full and the
// event was dropped.
func (e *Exporter) Publish(key string, value []byte) bool {
	select {
	case e.in <- record{key: []byte(key), value: value}:
		return true
	default:
		metrics.EventsExportedTotal.WithLabelValues("dropped").Inc()
		return false
	}
}

func (e *Exporter) run() {
	for {
		select {
		case rec := <-e.in:
			e.produce(rec)
		case <-e.done:
			return
		}
	}
}

func (e *Exporter) produce(rec record) {
	value := rec.value
	var headers []kgo.RecordHeader
	if e.compressAbove > 0 && len(value) > e.compressAbove {
		if compressed, ok := gzipBytes(value); ok {
			value = compressed
			headers = append(headers, kgo.RecordHeader{
				Key: "content-encoding", Value: []byte("gzip"),
			})
		}
	}
	e.client.Produce(context.Background(), &kgo.Record{
		Key:     rec.key,
		Value:   value,
		Headers: headers,
	}, func(_ *kgo.Record, err error) {
		if err != nil {
			metrics.EventsExportedTotal.WithLabelValues("error").Inc()
			e.logger.Warn("produce failed", zap.Error(err))
			return
		}
		metrics.EventsExportedTotal.WithLabelValues("ok").Inc()
	})
}

func gzipBytes(data []byte) ([]byte, bool) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, false
	}
	if err := w.Close(); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

// Close flushes what was produced and releases the client.
func (e *Exporter) Close() {
	close(e.done)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e.client.Flush(ctx)
	e.client.Close()
}
