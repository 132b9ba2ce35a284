package source

import (
	"context"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/veildata-systems/veilpipe/internal/config"
)

// Synthetic generates realistic fake customer records for development,
// seeding and load tests. It honors the same poll/process/confirm contract
// as the real adapters so the engine cannot tell the difference.
type Synthetic struct {
	cfg   config.SourceConfig
	faker *gofakeit.Faker

	mu        sync.Mutex
	next      int64
	confirmed int64
	pending   map[int64]*RawRecord
}

// NewSynthetic creates a generator. seed fixes the random stream; pass 0 for
// a random seed.
func NewSynthetic(cfg config.SourceConfig, seed int64) *Synthetic {
	return &Synthetic{
		cfg:     cfg,
		faker:   gofakeit.New(seed),
		pending: make(map[int64]*RawRecord),
	}
}

// Initialize positions the generator at cursor.
func (s *Synthetic) Initialize(ctx context.Context, cursor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmed = cursor
	if s.next <= cursor {
		s.next = cursor
	}
	return nil
}

// Poll redelivers unconfirmed records first, then generates fresh ones up
// to max.
func (s *Synthetic) Poll(ctx context.Context, max int) ([]*RawRecord, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]*RawRecord, 0, max)
	for pos := s.confirmed + 1; pos <= s.next && len(records) < max; pos++ {
		if rec, ok := s.pending[pos]; ok {
			records = append(records, rec)
		}
	}

	for len(records) < max {
		s.next++
		rec := s.generate(s.next)
		s.pending[s.next] = rec
		records = append(records, rec)
	}

	last := s.confirmed
	if len(records) > 0 {
		last = records[len(records)-1].Position
	}
	return records, last, nil
}

// Confirm forgets generated records at or below position.
func (s *Synthetic) Confirm(ctx context.Context, position int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if position <= s.confirmed {
		return nil
	}
	for pos := s.confirmed + 1; pos <= position; pos++ {
		delete(s.pending, pos)
	}
	s.confirmed = position
	return nil
}

// Position returns the confirmed cursor.
func (s *Synthetic) Position() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmed
}

// Close is a no-op for the generator.
func (s *Synthetic) Close() error { return nil }

func (s *Synthetic) generate(position int64) *RawRecord {
	ops := []string{"insert", "update", "update", "delete"}
	return &RawRecord{
		Position:  position,
		Table:     "customers",
		Operation: ops[int(position)%len(ops)],
		Data: map[string]interface{}{
			"customer_id": s.faker.UUID(),
			"name":        s.faker.Name(),
			"email":       s.faker.Email(),
			"phone":       s.faker.Phone(),
			"address":     s.faker.Address().Address,
			"ssn":         s.faker.SSN(),
			"plan":        s.faker.RandomString([]string{"free", "pro", "enterprise"}),
			"balance":     s.faker.Price(0, 5000),
			"consent":     s.faker.Bool(),
			"account_id":  s.faker.UUID(),
		},
		OccurredAt: time.Now().UTC(),
	}
}
