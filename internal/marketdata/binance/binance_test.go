package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalper/internal/model"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func klineRow(ts time.Time, o, h, l, c, v float64) []any {
	f := func(x float64) string { return strconv.FormatFloat(x, 'f', -1, 64) }
	return []any{ts.UnixMilli(), f(o), f(h), f(l), f(c), f(v), ts.Add(5*time.Minute).UnixMilli() - 1, "0", 10, "0", "0", "0"}
}

// klineServer serves n five-minute klines starting at t0, honouring
// startTime, endTime and limit.
func klineServer(t *testing.T, n int, hits *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		require.Equal(t, "/fapi/v1/klines", r.URL.Path)
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		var rows [][]any
		for i := 0; i < n; i++ {
			ts := t0.Add(time.Duration(i) * 5 * time.Minute)
			if s := q.Get("startTime"); s != "" {
				if ms, _ := strconv.ParseInt(s, 10, 64); ts.UnixMilli() < ms {
					continue
				}
			}
			if e := q.Get("endTime"); e != "" {
				if ms, _ := strconv.ParseInt(e, 10, 64); ts.UnixMilli() > ms {
					continue
				}
			}
			p := 100 + float64(i)
			rows = append(rows, klineRow(ts, p, p+1, p-1, p+0.5, 10))
		}
		if limit > 0 && len(rows) > limit {
			if q.Get("startTime") != "" {
				rows = rows[:limit]
			} else {
				rows = rows[len(rows)-limit:]
			}
		}
		json.NewEncoder(w).Encode(rows)
	}))
}

func TestKlines(t *testing.T) {
	t.Parallel()
	srv := klineServer(t, 5, nil)
	defer srv.Close()

	bars, err := NewClient(srv.URL, 0).Klines(context.Background(), "ZECUSDT", "5m", 3, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, model.Bar{Time: t0.Add(10 * time.Minute), Open: 102, High: 103, Low: 101, Close: 102.5, Volume: 10}, bars[0])
}

func TestKlines_APIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 0).Klines(context.Background(), "NOPE", "5m", 10, time.Time{}, time.Time{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, -1121, apiErr.Code)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestHistory_PagesAndDropsFormingBar(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := klineServer(t, 4000, &hits)
	defer srv.Close()

	end := t0.Add(3200*5*time.Minute + 2*time.Minute) // bar 3200 is still forming at end
	bars, err := NewClient(srv.URL, 0).History(context.Background(), "ZECUSDT", "5m", 5*time.Minute, t0, end)
	require.NoError(t, err)
	require.Len(t, bars, 3200)
	assert.Equal(t, t0, bars[0].Time)
	assert.Equal(t, t0.Add(3199*5*time.Minute), bars[3199].Time)
	assert.Equal(t, int32(3), hits.Load())
	assert.NoError(t, model.ValidateSeries(bars, 5*time.Minute))
}

func TestExchangeFilters(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"symbols":[
			{"symbol":"BTCUSDT","filters":[]},
			{"symbol":"ZECUSDT","filters":[
				{"filterType":"PRICE_FILTER","tickSize":"0.01","minPrice":"1"},
				{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001","maxQty":"10000"},
				{"filterType":"MAX_NUM_ORDERS","limit":200},
				{"filterType":"MIN_NOTIONAL","notional":"5"}
			]}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0)
	f, err := c.ExchangeFilters(context.Background(), "ZECUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.001, f.Lot.StepSize)
	assert.Equal(t, 0.001, f.Lot.MinQty)
	assert.Equal(t, 0.01, f.Lot.TickSize)
	assert.Equal(t, 5.0, f.MinNotional)

	_, err = c.ExchangeFilters(context.Background(), "DOGEUSDT")
	assert.ErrorContains(t, err, "not listed")
}

func TestClient_RateLimited(t *testing.T) {
	t.Parallel()
	srv := klineServer(t, 2, nil)
	defer srv.Close()

	c := NewClient(srv.URL, 1) // burst 2
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	var err error
	for i := 0; i < 3 && err == nil; i++ {
		_, err = c.Klines(ctx, "ZECUSDT", "5m", 2, time.Time{}, time.Time{})
	}
	assert.Error(t, err, "third request must wait past the deadline")
}

func klineEventJSON(ts time.Time, c float64, closed bool) []byte {
	return []byte(fmt.Sprintf(`{"e":"kline","E":1,"s":"ZECUSDT","k":{"t":%d,"T":%d,"i":"5m","o":"100","h":"%g","l":"99","c":"%g","v":"12.5","x":%t}}`,
		ts.UnixMilli(), ts.Add(5*time.Minute).UnixMilli()-1, c+1, c, closed))
}

func TestParseKlineEvent(t *testing.T) {
	t.Parallel()
	b, err := parseKlineEvent(klineEventJSON(t0, 100.5, true))
	require.NoError(t, err)
	assert.Equal(t, model.Bar{Time: t0, Open: 100, High: 101.5, Low: 99, Close: 100.5, Volume: 12.5}, b)

	_, err = parseKlineEvent([]byte(`{"e":"aggTrade"}`))
	assert.Error(t, err)
	_, err = parseKlineEvent([]byte(`not json`))
	assert.Error(t, err)
}

func TestStream_PushesUpdates(t *testing.T) {
	t.Parallel()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ws/zecusdt@kline_5m", r.URL.Path)
		conn, err := up.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, klineEventJSON(t0, 100, false))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"result":null,"id":1}`))
		conn.WriteMessage(websocket.TextMessage, klineEventJSON(t0, 101, true))
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	s := NewStream("ws"+strings.TrimPrefix(srv.URL, "http"), "ZECUSDT", "5m", 16)
	var connected atomic.Bool
	s.OnStatus = func(v bool) { connected.Store(v) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Updates().Len() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, connected.Load())
	var closes []float64
	s.Updates().Drain(func(b model.Bar) { closes = append(closes, b.Close) })
	assert.Equal(t, []float64{100, 101}, closes)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}
}

func TestStreamFeed_MergesUpdates(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := klineServer(t, 3, &hits) // bars at t0, +5m, +10m (forming)
	defer srv.Close()

	s := NewStream("", "ZECUSDT", "5m", 16)
	f := NewStreamFeed(NewClient(srv.URL, 0), s, "ZECUSDT", "5m", 5*time.Minute, 3)
	ctx := context.Background()

	w, err := f.Window(ctx, 0)
	require.NoError(t, err)
	require.Len(t, w, 3)

	forming := t0.Add(10 * time.Minute)
	s.Updates().Push(model.Bar{Time: forming, Open: 102, High: 110, Low: 101, Close: 109, Volume: 50})
	s.Updates().Push(model.Bar{Time: forming.Add(5 * time.Minute), Open: 109, High: 109, Low: 109, Close: 109, Volume: 1})
	s.Updates().Push(model.Bar{Time: t0, Close: -1}) // stale, ignored

	w, err = f.Window(ctx, 2)
	require.NoError(t, err)
	require.Len(t, w, 2)
	assert.Equal(t, 110.0, w[0].High, "forming bar replaced by the later update")
	assert.Equal(t, forming.Add(5*time.Minute), w[1].Time)
	assert.Equal(t, int32(1), hits.Load())

	full, err := f.Window(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, full, 3, "capacity bounds the window")

	// A gap forces a REST resync.
	s.Updates().Push(model.Bar{Time: forming.Add(time.Hour), Close: 1})
	_, err = f.Window(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestRESTFeed(t *testing.T) {
	t.Parallel()
	srv := klineServer(t, 10, nil)
	defer srv.Close()
	w, err := NewRESTFeed(NewClient(srv.URL, 0), "ZECUSDT", "5m").Window(context.Background(), 4)
	require.NoError(t, err)
	assert.Len(t, w, 4)
}
