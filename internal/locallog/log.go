package locallog

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
)

const DefaultKey = "blank_pos_sales"

// Record is the stored snapshot shape. Field names and number encoding match
// the entries older clients wrote under the same key.
type Record struct {
	ID            string       `json:"id"`
	Items         []RecordItem `json:"items"`
	CustomAmount  json.Number  `json:"customAmount"`
	TotalAmount   json.Number  `json:"totalAmount"`
	PaymentMethod string       `json:"paymentMethod"`
	Date          string       `json:"date"`
	UserID        string       `json:"userId"`
}

type RecordItem struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Price    json.Number `json:"price"`
	Quantity int         `json:"quantity"`
}

// Log is a single JSON array of sale snapshots under one key, shared by all
// users of the device. Every write rewrites the whole array.
type Log struct {
	mu     sync.Mutex
	kv     KV
	key    string
	logger *zap.Logger
}

func New(kv KV, key string, logger *zap.Logger) *Log {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{kv: kv, key: key, logger: logger.Named("locallog")}
}

func (l *Log) Key() string {
	return l.key
}

// Append adds a snapshot. A snapshot with an id already in the log replaces
// the old entry so an id never appears twice.
func (l *Log) Append(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("append sale snapshot: empty id")
	}
	return l.update(ctx, func(records []Record) ([]Record, error) {
		idx := slices.IndexFunc(records, func(r Record) bool { return r.ID == rec.ID })
		if idx >= 0 {
			records[idx] = rec
			return records, nil
		}
		return append(records, rec), nil
	})
}

func (l *Log) All(ctx context.Context) ([]Record, error) {
	raw, ok, err := l.kv.Get(ctx, l.key)
	if err != nil {
		return nil, fmt.Errorf("read sales log: %w", err)
	}
	if !ok {
		return []Record{}, nil
	}
	return decode(raw)
}

func (l *Log) ForUser(ctx context.Context, userID string) ([]Record, error) {
	records, err := l.All(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(records, func(r Record) bool {
		return r.UserID != userID
	}), nil
}

func (l *Log) Find(ctx context.Context, id string) (Record, bool, error) {
	records, err := l.All(ctx)
	if err != nil {
		return Record{}, false, err
	}
	for _, rec := range records {
		if rec.ID == id {
			return rec, true, nil
		}
	}
	return Record{}, false, nil
}

// RemoveUser drops one user's snapshots and keeps everyone else's.
func (l *Log) RemoveUser(ctx context.Context, userID string) (int, error) {
	removed := 0
	err := l.update(ctx, func(records []Record) ([]Record, error) {
		before := len(records)
		records = slices.DeleteFunc(records, func(r Record) bool {
			return r.UserID == userID
		})
		removed = before - len(records)
		return records, nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (l *Log) update(ctx context.Context, fn func([]Record) ([]Record, error)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	apply := func(current []byte) ([]byte, error) {
		records, err := decode(current)
		if err != nil {
			return nil, err
		}
		next, err := fn(records)
		if err != nil {
			return nil, err
		}
		return json.Marshal(next)
	}

	if updater, ok := l.kv.(Updater); ok {
		if err := updater.Update(ctx, l.key, apply); err != nil {
			return fmt.Errorf("write sales log: %w", err)
		}
		return nil
	}

	current, _, err := l.kv.Get(ctx, l.key)
	if err != nil {
		return fmt.Errorf("read sales log: %w", err)
	}
	next, err := apply(current)
	if err != nil {
		return fmt.Errorf("write sales log: %w", err)
	}
	if err := l.kv.Set(ctx, l.key, next); err != nil {
		return fmt.Errorf("write sales log: %w", err)
	}
	l.logger.Debug("sales log written", zap.String("key", l.key), zap.Int("bytes", len(next)))
	return nil
}

func decode(raw []byte) ([]Record, error) {
	if len(raw) == 0 {
		return []Record{}, nil
	}
	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode sales log: %w", err)
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}
