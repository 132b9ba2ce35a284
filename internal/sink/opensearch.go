package sink

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	opensearch "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchutil"

	"github.com/veildata-systems/veilpipe/common/logging"
	"github.com/veildata-systems/veilpipe/internal/config"
	"github.com/veildata-systems/veilpipe/internal/metrics"
	"github.com/veildata-systems/veilpipe/internal/model"
)

// document is the indexed shape of a processed envelope.
type document struct {
	RecordID  string                 `json:"record_id"`
	Source    string                 `json:"source"`
	EventType string                 `json:"event_type"`
	SchemaTag string                 `json:"schema_tag"`
	Table     string                 `json:"table,omitempty"`
	Position  int64                  `json:"position"`
	Checksum  string                 `json:"checksum"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
	IndexedAt time.Time              `json:"indexed_at"`
}

// OpenSearchSink bulk-indexes processed envelopes into daily indices
// named <prefix>-YYYY.MM.DD. Documents are indexed by record id, so a
// redelivered record overwrites its earlier copy.
type OpenSearchSink struct {
	client      *opensearch.Client
	indexPrefix string
	log         *logging.Logger
}

// NewOpenSearchSink creates the client and verifies the cluster responds.
func NewOpenSearchSink(ctx context.Context, cfg config.SinkConfig, log *logging.Logger) (*OpenSearchSink, error) {
	if log == nil {
		log = logging.Default()
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.TLSSkipVerify},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create opensearch client: %w", err)
	}

	res, err := client.Info(client.Info.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("opensearch cluster unreachable: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("opensearch cluster error: %s", res.String())
	}

	return &OpenSearchSink{
		client:      client,
		indexPrefix: cfg.IndexPrefix,
		log:         log,
	}, nil
}

// Persist bulk-indexes the envelopes and waits for the flush. Any failed
// item fails the whole call so the caller does not confirm the batch.
func (s *OpenSearchSink) Persist(ctx context.Context, envelopes []*model.Envelope) error {
	if len(envelopes) == 0 {
		return nil
	}

	indexer, err := opensearchutil.NewBulkIndexer(opensearchutil.BulkIndexerConfig{
		Client:        s.client,
		NumWorkers:    2,
		FlushBytes:    5 << 20,
		FlushInterval: time.Second,
	})
	if err != nil {
		return fmt.Errorf("create bulk indexer: %w", err)
	}

	var failed atomic.Int64
	for _, env := range envelopes {
		doc := document{
			RecordID:  env.ID,
			Source:    env.Source,
			EventType: string(env.EventType),
			SchemaTag: env.SchemaTag,
			Table:     env.Table,
			Position:  env.Position,
			Checksum:  env.Checksum,
			Payload:   env.Payload,
			Timestamp: env.Timestamp,
			IndexedAt: time.Now().UTC(),
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal document %s: %w", env.ID, err)
		}

		item := opensearchutil.BulkIndexerItem{
			Index:      s.indexName(env.Timestamp),
			Action:     "index",
			DocumentID: env.ID,
			Body:       bytes.NewReader(data),
			OnFailure: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem, err error) {
				failed.Add(1)
				if err != nil {
					s.log.Warn("bulk index item failed",
						logging.RecordID(item.DocumentID), logging.Error(err))
				} else {
					s.log.Warn("bulk index item rejected",
						logging.RecordID(item.DocumentID),
						logging.Reason(res.Error.Type),
					)
				}
			},
		}
		if err := indexer.Add(ctx, item); err != nil {
			indexer.Close(ctx)
			return fmt.Errorf("enqueue document %s: %w", env.ID, err)
		}
	}

	if err := indexer.Close(ctx); err != nil {
		return fmt.Errorf("flush bulk indexer: %w", err)
	}

	stats := indexer.Stats()
	metrics.SinkPersisted.WithLabelValues("ok").Add(float64(stats.NumFlushed))
	if n := failed.Load(); n > 0 || stats.NumFailed > 0 {
		metrics.SinkPersisted.WithLabelValues("failed").Add(float64(stats.NumFailed))
		return fmt.Errorf("bulk index: %d of %d documents failed", stats.NumFailed, len(envelopes))
	}

	return nil
}

func (s *OpenSearchSink) indexName(ts time.Time) string {
	return fmt.Sprintf("%s-%s", s.indexPrefix, ts.UTC().Format("2006.01.02"))
}

// Close is a no-op: bulk indexers are per-call.
func (s *OpenSearchSink) Close(ctx context.Context) error { return nil }
