package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/veildata-systems/veilpipe/common/logging"
	"github.com/veildata-systems/veilpipe/common/messaging"
	natsclient "github.com/veildata-systems/veilpipe/common/messaging/nats"
	"github.com/veildata-systems/veilpipe/internal/model"
)

const (
	deadLetterStreamName = "VEILPIPE_DLQ"
	deadLetterMaxAge     = 30 * 24 * time.Hour
	scanBatchSize        = 256
)

// JetStreamStore keeps dead-letter entries in a NATS JetStream stream,
// one message per entry, subject pipeline.dlq.<reason>. Suitable when
// several operators need to inspect the same dead-letter backlog.
type JetStreamStore struct {
	client *natsclient.JetStreamClient
	stream jetstream.Stream
	log    *logging.Logger

	mu   sync.Mutex
	seqs map[string]uint64 // entry id -> stream sequence, filled by scans
}

// NewJetStreamStore connects to NATS and ensures the dead-letter stream
// exists.
func NewJetStreamStore(ctx context.Context, natsURL string, log *logging.Logger) (*JetStreamStore, error) {
	if log == nil {
		log = logging.Default()
	}

	client, err := natsclient.NewJetStreamClient(natsclient.DefaultConfig(natsURL))
	if err != nil {
		return nil, err
	}

	stream, err := client.CreateOrUpdateStream(ctx, natsclient.StreamConfig{
		Name:     deadLetterStreamName,
		Subjects: []string{messaging.SubjectDeadLetterPrefix + ".>"},
		MaxAge:   deadLetterMaxAge,
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		client.Close()
		return nil, err
	}

	return &JetStreamStore{
		client: client,
		stream: stream,
		log:    log,
		seqs:   make(map[string]uint64),
	}, nil
}

// Write publishes the entry and records its stream sequence.
func (s *JetStreamStore) Write(ctx context.Context, entry *model.DeadLetterEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead-letter entry: %w", err)
	}

	ack, err := s.client.PublishSync(ctx, messaging.DeadLetterSubject(entry.Reason), data)
	if err != nil {
		return fmt.Errorf("publish dead-letter entry: %w", err)
	}

	s.mu.Lock()
	s.seqs[entry.ID] = ack.Sequence
	s.mu.Unlock()

	s.log.Debug("dead-letter entry published",
		logging.RecordID(entry.Envelope.ID),
		logging.Reason(entry.Reason),
	)
	return nil
}

// List scans the stream and returns up to limit entries, oldest first.
func (s *JetStreamStore) List(ctx context.Context, limit int) ([]*model.DeadLetterEntry, error) {
	var entries []*model.DeadLetterEntry
	err := s.scan(ctx, func(entry *model.DeadLetterEntry, seq uint64) bool {
		entries = append(entries, entry)
		return limit <= 0 || len(entries) < limit
	})
	return entries, err
}

// Get scans for the entry with the given id.
func (s *JetStreamStore) Get(ctx context.Context, id string) (*model.DeadLetterEntry, error) {
	var found *model.DeadLetterEntry
	err := s.scan(ctx, func(entry *model.DeadLetterEntry, seq uint64) bool {
		if entry.ID == id {
			found = entry
			return false
		}
		return true
	})
	return found, err
}

// Remove deletes the stream message holding the entry.
func (s *JetStreamStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	seq, ok := s.seqs[id]
	s.mu.Unlock()

	if !ok {
		err := s.scan(ctx, func(entry *model.DeadLetterEntry, msgSeq uint64) bool {
			if entry.ID == id {
				seq, ok = msgSeq, true
				return false
			}
			return true
		})
		if err != nil {
			return err
		}
	}
	if !ok {
		return nil
	}

	if err := s.stream.DeleteMsg(ctx, seq); err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return nil
		}
		return fmt.Errorf("delete dead-letter entry: %w", err)
	}

	s.mu.Lock()
	delete(s.seqs, id)
	s.mu.Unlock()
	return nil
}

// Purge removes all entries from the stream.
func (s *JetStreamStore) Purge(ctx context.Context) (int, error) {
	info, err := s.stream.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("read dead-letter stream info: %w", err)
	}
	count := int(info.State.Msgs)

	if err := s.stream.Purge(ctx); err != nil {
		return 0, fmt.Errorf("purge dead-letter stream: %w", err)
	}

	s.mu.Lock()
	s.seqs = make(map[string]uint64)
	s.mu.Unlock()
	return count, nil
}

// Close drains the NATS connection.
func (s *JetStreamStore) Close() error {
	return s.client.Drain()
}

// scan walks the stream oldest first with an ephemeral ordered consumer,
// invoking fn per entry until fn returns false or the stream is exhausted.
// Sequences observed along the way refresh the id index.
func (s *JetStreamStore) scan(ctx context.Context, fn func(entry *model.DeadLetterEntry, seq uint64) bool) error {
	cons, err := s.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create dead-letter scan consumer: %w", err)
	}

	for {
		batch, err := cons.FetchNoWait(scanBatchSize)
		if err != nil {
			return fmt.Errorf("fetch dead-letter entries: %w", err)
		}

		got := 0
		for msg := range batch.Messages() {
			got++
			meta, err := msg.Metadata()
			if err != nil {
				continue
			}

			var entry model.DeadLetterEntry
			if err := json.Unmarshal(msg.Data(), &entry); err != nil {
				s.log.Warn("skipping malformed dead-letter message", logging.Error(err))
				continue
			}

			s.mu.Lock()
			s.seqs[entry.ID] = meta.Sequence.Stream
			s.mu.Unlock()

			if !fn(&entry, meta.Sequence.Stream) {
				return nil
			}
		}
		if err := batch.Error(); err != nil {
			return fmt.Errorf("fetch dead-letter entries: %w", err)
		}
		if got == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}
