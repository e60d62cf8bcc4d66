package notification

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultSendTimeout = 15 * time.Second

// Async delivers alerts on a background goroutine so a slow channel never
// stalls the trading loop. When the queue is full the alert is dropped.
type Async struct {
	next  Notifier
	queue chan Alert
	wg    sync.WaitGroup
	once  sync.Once

	mu     sync.Mutex
	closed bool

	// OnDrop is called when an alert is dropped because the queue is full.
	OnDrop func(Alert)
	// OnError is called when the wrapped notifier fails.
	OnError func(Alert, error)
}

// NewAsync starts a dispatcher in front of next with a queue of size entries.
func NewAsync(next Notifier, size int) *Async {
	if size <= 0 {
		size = 64
	}
	a := &Async{next: next, queue: make(chan Alert, size)}
	a.wg.Add(1)
	go a.run()
	return a
}

// Send enqueues the alert and returns immediately. It never fails.
func (a *Async) Send(_ context.Context, alert Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	select {
	case a.queue <- alert:
	default:
		if a.OnDrop != nil {
			a.OnDrop(alert)
		} else {
			slog.Warn("notification queue full, dropping alert", "title", alert.Title)
		}
	}
	return nil
}

// Close stops accepting alerts and waits for queued ones to be delivered.
func (a *Async) Close() {
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
	})
	a.wg.Wait()
}

func (a *Async) run() {
	defer a.wg.Done()
	for alert := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), defaultSendTimeout)
		err := a.next.Send(ctx, alert)
		cancel()
		if err == nil {
			continue
		}
		if a.OnError != nil {
			a.OnError(alert, err)
		} else {
			slog.Error("notification failed", "title", alert.Title, "error", err)
		}
	}
}
