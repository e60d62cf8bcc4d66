// Package redis persists live session snapshots and publishes risk decisions to
// Redis. Writes go through a circuit breaker; while it is open, decisions are
// buffered and the newest session snapshot per key is held until Redis
// recovers. A held snapshot is discarded as soon as a newer one is written
// directly, and buffered decisions always reach the stream before later ones.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"scalper/internal/model"
)

const (
	decisionStreamMaxLen = 10000
	defaultMaxBuffer     = 10000
	flushTimeout         = 5 * time.Second
)

// Config configures the Redis connection.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
	Prefix   string // key namespace, default "scalper:"

	// OnStateChange observes circuit breaker transitions.
	OnStateChange func(from, to State)
}

// Client is the subset of the go-redis API the store uses.
type Client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
	XAdd(ctx context.Context, a *goredis.XAddArgs) *goredis.StringCmd
	Ping(ctx context.Context) *goredis.StatusCmd
	Close() error
}

// DecisionRecord is one risk decision as published on the decision stream.
type DecisionRecord struct {
	RunID    string         `json:"run_id"`
	Symbol   string         `json:"symbol"`
	BarTime  time.Time      `json:"bar_time"`
	Side     model.Side     `json:"side"`
	Decision model.Decision `json:"decision"`
	Reason   string         `json:"reason,omitempty"`
	Entry    float64        `json:"entry"`
	Stop     float64        `json:"stop"`
	Target   float64        `json:"target"`
	Quantity float64        `json:"quantity"`
}

// NewDecisionRecord flattens an order for publishing.
func NewDecisionRecord(runID, symbol string, o model.Order) DecisionRecord {
	return DecisionRecord{
		RunID:    runID,
		Symbol:   symbol,
		BarTime:  o.Signal.BarTime,
		Side:     o.Signal.Side,
		Decision: o.Decision,
		Reason:   o.Reason,
		Entry:    o.Signal.Entry,
		Stop:     o.Signal.Stop,
		Target:   o.Signal.Target,
		Quantity: o.Signal.Quantity,
	}
}

// Store reads and writes session snapshots.
type Store struct {
	client Client
	cb     *CircuitBreaker
	prefix string

	stateMu sync.Mutex // serialises session writes
	pubMu   sync.Mutex // serialises decision writes

	mu      sync.Mutex
	pending []goredis.XAddArgs
	held    map[string][]byte
	maxBuf  int

	// OnBuffer is called whenever a write is held back by the open breaker.
	OnBuffer func()
}

// New connects to Redis and pings it.
func New(cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("redis connected", "addr", cfg.Addr)
	cb := NewCircuitBreaker(5, 10*time.Second)
	cb.OnStateChange = cfg.OnStateChange
	return NewWithClient(client, cb, cfg.Prefix), nil
}

// NewWithClient builds a Store over an existing client and breaker.
func NewWithClient(c Client, cb *CircuitBreaker, prefix string) *Store {
	if prefix == "" {
		prefix = "scalper:"
	}
	s := &Store{client: c, cb: cb, prefix: prefix, held: map[string][]byte{}, maxBuf: defaultMaxBuffer}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		slog.Warn("redis circuit breaker", "from", from, "to", to)
		if to == StateClosed {
			go s.flush()
		}
	}
	return s
}

func (s *Store) sessionKey(key string) string { return s.prefix + "session:" + key }
func (s *Store) streamKey(key string) string  { return s.prefix + "decisions:" + key }

// SaveSession writes the session snapshot under key. When the breaker is open
// the snapshot replaces any earlier held one and nil is returned. A
// successful write drops the snapshot held for key.
func (s *Store) SaveSession(ctx context.Context, key string, sess model.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("redis: marshal session: %w", err)
	}
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	err = s.cb.Execute(func() error {
		return s.client.Set(ctx, s.sessionKey(key), data, 0).Err()
	})
	switch {
	case err == nil:
		s.mu.Lock()
		delete(s.held, key)
		s.mu.Unlock()
	case errors.Is(err, ErrCircuitOpen):
		s.mu.Lock()
		s.held[key] = data
		s.mu.Unlock()
		s.buffered()
		return nil
	}
	return err
}

// LoadSession reads the session snapshot under key. ok is false when none is
// stored.
func (s *Store) LoadSession(ctx context.Context, key string) (sess model.Session, ok bool, err error) {
	err = s.cb.Execute(func() error {
		raw, err := s.client.Get(ctx, s.sessionKey(key)).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		ok = true
		return json.Unmarshal(raw, &sess)
	})
	if err != nil {
		return model.Session{}, false, fmt.Errorf("redis: load session: %w", err)
	}
	return sess, ok, nil
}

// PublishDecision appends a decision to the stream for key, after any
// buffered ones. When the breaker is open the record is buffered, dropping the
// oldest beyond the limit.
func (s *Store) PublishDecision(ctx context.Context, key string, rec DecisionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: marshal decision: %w", err)
	}
	args := goredis.XAddArgs{
		Stream: s.streamKey(key),
		MaxLen: decisionStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	err = s.cb.Execute(func() error {
		if err := s.drainDecisions(ctx); err != nil {
			return err
		}
		return s.client.XAdd(ctx, &args).Err()
	})
	if errors.Is(err, ErrCircuitOpen) {
		s.mu.Lock()
		s.pending = s.trim(append(s.pending, args))
		s.mu.Unlock()
		s.buffered()
		return nil
	}
	return err
}

// drainDecisions sends buffered decisions oldest first. On failure the unsent
// ones go back to the front of the buffer. The caller holds pubMu.
func (s *Store) drainDecisions(ctx context.Context) error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for i := range pending {
		if err := s.client.XAdd(ctx, &pending[i]).Err(); err != nil {
			s.mu.Lock()
			s.pending = s.trim(append(pending[i:], s.pending...))
			s.mu.Unlock()
			return err
		}
	}
	return nil
}

// trim drops the oldest decisions beyond the buffer limit.
func (s *Store) trim(p []goredis.XAddArgs) []goredis.XAddArgs {
	if n := len(p) - s.maxBuf; n > 0 {
		return p[n:]
	}
	return p
}

func (s *Store) buffered() {
	if s.OnBuffer != nil {
		s.OnBuffer()
	}
}

// flush replays held writes after the breaker closes. Snapshots superseded by
// a direct write in the meantime were already dropped by SaveSession.
func (s *Store) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	s.stateMu.Lock()
	s.mu.Lock()
	held := s.held
	s.held = map[string][]byte{}
	s.mu.Unlock()
	for key, data := range held {
		if err := s.client.Set(ctx, s.sessionKey(key), data, 0).Err(); err != nil {
			slog.Error("redis session flush failed", "key", key, "error", err)
			s.mu.Lock()
			if _, newer := s.held[key]; !newer {
				s.held[key] = data
			}
			s.mu.Unlock()
		}
	}
	s.stateMu.Unlock()

	s.pubMu.Lock()
	n := s.PendingCount()
	err := s.drainDecisions(ctx)
	s.pubMu.Unlock()
	if err != nil {
		slog.Error("redis decision flush failed", "error", err)
	}
	if n > 0 || len(held) > 0 {
		slog.Info("redis flushed buffered writes", "decisions", n, "sessions", len(held))
	}
}

// Ping checks the connection. It bypasses the circuit breaker.
func (s *Store) Ping(ctx context.Context) *goredis.StatusCmd {
	return s.client.Ping(ctx)
}

// PendingCount returns the number of buffered decisions.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}
