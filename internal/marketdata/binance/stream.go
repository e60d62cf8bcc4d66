package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"scalper/internal/model"
	"scalper/internal/ringbuf"
)

const (
	DefaultWSBase = "wss://fstream.binance.com"

	retryDelay      = time.Second
	retryMultiplier = 2
	retryMaxDelay   = 30 * time.Second
	readTimeout     = 90 * time.Second
)

// Stream reads one kline stream and pushes every bar update into a ring.
// It reconnects with exponential backoff until its context ends.
type Stream struct {
	url    string
	dialer *websocket.Dialer
	ring   *ringbuf.Ring[model.Bar]

	// OnReconnect is called before every reconnection attempt.
	OnReconnect func()
	// OnStatus reports connection state changes.
	OnStatus func(connected bool)
}

// NewStream creates a stream for symbol at interval. bufSize bounds the
// updates held between polls.
func NewStream(wsBase, symbol, interval string, bufSize int) *Stream {
	if wsBase == "" {
		wsBase = DefaultWSBase
	}
	return &Stream{
		url:    fmt.Sprintf("%s/ws/%s@kline_%s", strings.TrimRight(wsBase, "/"), strings.ToLower(symbol), interval),
		dialer: websocket.DefaultDialer,
		ring:   ringbuf.New[model.Bar](bufSize),
	}
}

// URL returns the stream endpoint.
func (s *Stream) URL() string { return s.url }

// Updates is the ring the stream produces into. Exactly one goroutine may
// consume it.
func (s *Stream) Updates() *ringbuf.Ring[model.Bar] { return s.ring }

// Run connects and reads until ctx is done.
func (s *Stream) Run(ctx context.Context) error {
	delay := retryDelay
	for {
		start := time.Now()
		err := s.session(ctx)
		s.status(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(start) > retryMaxDelay {
			delay = retryDelay
		}
		slog.Warn("kline stream disconnected", "url", s.url, "error", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= retryMultiplier
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
		if s.OnReconnect != nil {
			s.OnReconnect()
		}
	}
}

func (s *Stream) session(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})
	slog.Info("kline stream connected", "url", s.url)
	s.status(true)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		bar, err := parseKlineEvent(msg)
		if err != nil {
			slog.Debug("kline stream parse error", "error", err)
			continue
		}
		if !s.ring.Push(bar) {
			slog.Warn("kline update buffer full, dropping update", "time", bar.Time)
		}
	}
}

func (s *Stream) status(connected bool) {
	if s.OnStatus != nil {
		s.OnStatus(connected)
	}
}

type klineEvent struct {
	Event string `json:"e"`
	K     struct {
		Start  int64       `json:"t"`
		Open   json.Number `json:"o"`
		High   json.Number `json:"h"`
		Low    json.Number `json:"l"`
		Close  json.Number `json:"c"`
		Volume json.Number `json:"v"`
		Closed bool        `json:"x"`
	} `json:"k"`
}

func parseKlineEvent(msg []byte) (model.Bar, error) {
	var ev klineEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return model.Bar{}, err
	}
	if ev.Event != "kline" {
		return model.Bar{}, fmt.Errorf("unexpected event %q", ev.Event)
	}
	b := model.Bar{Time: time.UnixMilli(ev.K.Start).UTC()}
	for _, f := range []struct {
		dst *float64
		src json.Number
	}{
		{&b.Open, ev.K.Open}, {&b.High, ev.K.High}, {&b.Low, ev.K.Low},
		{&b.Close, ev.K.Close}, {&b.Volume, ev.K.Volume},
	} {
		v, err := f.src.Float64()
		if err != nil {
			return model.Bar{}, err
		}
		*f.dst = v
	}
	return b, nil
}
