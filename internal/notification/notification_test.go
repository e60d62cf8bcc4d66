package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalper/internal/model"
)

type recorder struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
	block  chan struct{}
}

func (r *recorder) Send(_ context.Context, a Alert) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

func (r *recorder) titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.alerts))
	for i, a := range r.alerts {
		out[i] = a.Title
	}
	return out
}

func TestTelegram_SendsMarkdown(t *testing.T) {
	t.Parallel()
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.apiBase = srv.URL
	require.NoError(t, n.Send(context.Background(), Alert{Level: AlertCritical, Title: "Exit long ZECUSDT", Message: "pnl=-1.5"}))

	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "MarkdownV2", got["parse_mode"])
	assert.Contains(t, got["text"], `pnl=\-1\.5`)
	assert.Contains(t, got["text"], "🚨")
}

func TestTelegram_DisabledIsNoop(t *testing.T) {
	t.Parallel()
	n := NewTelegramNotifier("", "")
	n.apiBase = "http://127.0.0.1:1"
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Send(context.Background(), Alert{Title: "x"}))
}

func TestTelegram_Non200(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	n := NewTelegramNotifier("T", "1")
	n.apiBase = srv.URL
	assert.ErrorContains(t, n.Send(context.Background(), Alert{}), "429")
}

func TestWebhook(t *testing.T) {
	t.Parallel()
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, NewWebhookNotifier(srv.URL).Send(context.Background(),
		Alert{Level: AlertWarning, Title: "t", Message: "m", Time: at}))
	assert.Equal(t, Alert{Level: AlertWarning, Title: "t", Message: "m", Time: at}, got)
}

func TestEscapeMarkdown(t *testing.T) {
	t.Parallel()
	assert.Equal(t, `a\_b\*c\.d\!`, escapeMarkdown("a_b*c.d!"))
	assert.Equal(t, "plain", escapeMarkdown("plain"))
}

func TestMulti_JoinsErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	ok, bad := &recorder{}, &recorder{err: boom}
	err := Multi{ok, bad, NewLogNotifier(nil)}.Send(context.Background(), Alert{Title: "x"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"x"}, ok.titles())
	assert.Equal(t, []string{"x"}, bad.titles())
}

func TestAsync_DeliversInOrderAndDrains(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	a := NewAsync(rec, 8)
	for _, title := range []string{"a", "b", "c"} {
		require.NoError(t, a.Send(context.Background(), Alert{Title: title}))
	}
	a.Close()
	assert.Equal(t, []string{"a", "b", "c"}, rec.titles())

	// Sends after close are ignored.
	require.NoError(t, a.Send(context.Background(), Alert{Title: "late"}))
	a.Close()
	assert.Len(t, rec.titles(), 3)
}

func TestAsync_DropsWhenFull(t *testing.T) {
	t.Parallel()
	rec := &recorder{block: make(chan struct{})}
	a := NewAsync(rec, 1)
	var dropped []string
	a.OnDrop = func(al Alert) { dropped = append(dropped, al.Title) }

	// The worker takes the first alert and blocks; the second fills the
	// queue; the rest are dropped.
	a.Send(context.Background(), Alert{Title: "1"})
	assert.Eventually(t, func() bool { return len(a.queue) == 0 }, time.Second, time.Millisecond)
	a.Send(context.Background(), Alert{Title: "2"})
	a.Send(context.Background(), Alert{Title: "3"})
	a.Send(context.Background(), Alert{Title: "4"})

	close(rec.block)
	a.Close()
	assert.Equal(t, []string{"1", "2"}, rec.titles())
	assert.Equal(t, []string{"3", "4"}, dropped)
}

func TestAsync_ReportsErrors(t *testing.T) {
	t.Parallel()
	rec := &recorder{err: errors.New("down")}
	a := NewAsync(rec, 4)
	var mu sync.Mutex
	var failed int
	a.OnError = func(Alert, error) { mu.Lock(); failed++; mu.Unlock() }
	a.Send(context.Background(), Alert{Title: "x"})
	a.Close()
	assert.Equal(t, 1, failed)
}

func TestAlertBuilders(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	entry := EntryAlert("ZECUSDT", model.Position{Side: model.Long, EntryPrice: 30.5, Quantity: 2, Stop: 30, Target: 31.5, EntryTime: at})
	assert.Equal(t, "Entry long ZECUSDT", entry.Title)
	assert.Equal(t, at, entry.Time)

	loss := ExitAlert("ZECUSDT", model.Trade{Side: model.Short, ExitReason: model.ExitStop, PnL: -3})
	assert.Equal(t, AlertWarning, loss.Level)
	assert.Equal(t, "Exit short ZECUSDT (stop)", loss.Title)

	sum := SummaryAlert("ZECUSDT", model.RiskState{Equity: 900, PeakEquity: 1000}, false, at)
	assert.Contains(t, sum.Message, "drawdown=10.00%")
}
