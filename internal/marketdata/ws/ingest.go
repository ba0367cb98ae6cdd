// Package ws streams Binance kline events over WebSocket and turns them into
// candle updates and price ticks.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/elPachango/bitbot/internal/model"
)

const defaultStreamURL = "wss://stream.binance.com:9443/ws"

// IngestConfig holds configuration for the WS ingest.
type IngestConfig struct {
	URL      string // stream base, default wss://stream.binance.com:9443/ws
	Symbol   string // e.g. BTCUSDT
	Interval string // e.g. 5m

	ReadTimeout time.Duration // default 90s
	MinBackoff  time.Duration // default 1s
	MaxBackoff  time.Duration // default 30s
}

// Ingest connects to the kline stream and pushes candle updates and ticks.
// It reconnects with exponential backoff until ctx is cancelled.
type Ingest struct {
	cfg    IngestConfig
	dialer *websocket.Dialer

	// Optional metrics hooks
	OnReconnect func()
	OnConnected func(connected bool)
}

// New creates a new Ingest instance.
func New(cfg IngestConfig) (*Ingest, error) {
	if cfg.Symbol == "" || cfg.Interval == "" {
		return nil, fmt.Errorf("ws ingest: symbol and interval are required")
	}
	if cfg.URL == "" {
		cfg.URL = defaultStreamURL
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 90 * time.Second
	}
	if cfg.MinBackoff == 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Ingest{cfg: cfg, dialer: websocket.DefaultDialer}, nil
}

// StreamURL is the full URL of the kline stream.
func (ing *Ingest) StreamURL() string {
	return fmt.Sprintf("%s/%s@kline_%s",
		strings.TrimRight(ing.cfg.URL, "/"), strings.ToLower(ing.cfg.Symbol), ing.cfg.Interval)
}

// Start streams until ctx is cancelled. Final (closed) candles are always
// delivered on candleCh; forming-candle updates and ticks are dropped when
// their channel is full. tickCh may be nil.
func (ing *Ingest) Start(ctx context.Context, candleCh chan<- model.Candle, tickCh chan<- model.Tick) error {
	backoff := ing.cfg.MinBackoff
	for {
		connectedAt := time.Now()
		err := ing.session(ctx, candleCh, tickCh)
		if ctx.Err() != nil {
			return nil
		}
		log.Printf("[ws] stream ended: %v", err)
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}

		// A session that lived a while resets the backoff.
		if time.Since(connectedAt) > ing.cfg.MaxBackoff {
			backoff = ing.cfg.MinBackoff
		}
		log.Printf("[ws] reconnecting in %s", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > ing.cfg.MaxBackoff {
			backoff = ing.cfg.MaxBackoff
		}
	}
}

func (ing *Ingest) session(ctx context.Context, candleCh chan<- model.Candle, tickCh chan<- model.Tick) error {
	conn, _, err := ing.dialer.DialContext(ctx, ing.StreamURL(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	log.Printf("[ws] connected to %s", ing.StreamURL())
	ing.setConnected(true)
	defer ing.setConnected(false)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(ing.cfg.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	for {
		conn.SetReadDeadline(time.Now().Add(ing.cfg.ReadTimeout))
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if mt != websocket.TextMessage {
			continue
		}
		candle, tick, err := ParseKlineEvent(data)
		if err != nil {
			log.Printf("[ws] parse error: %v", err)
			continue
		}

		if tickCh != nil {
			select {
			case tickCh <- tick:
			default:
			}
		}
		if candle.Closed {
			select {
			case candleCh <- candle:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		select {
		case candleCh <- candle:
		default:
		}
	}
}

func (ing *Ingest) setConnected(v bool) {
	if ing.OnConnected != nil {
		ing.OnConnected(v)
	}
}

// klineEvent is the <symbol>@kline_<interval> payload.
type klineEvent struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime  int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		Final     bool   `json:"x"`
	} `json:"k"`
}

// ParseKlineEvent decodes one kline stream message into the candle update
// it carries and a tick at its latest close.
func ParseKlineEvent(data []byte) (model.Candle, model.Tick, error) {
	var ev klineEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return model.Candle{}, model.Tick{}, fmt.Errorf("decode: %w", err)
	}
	if ev.Event != "kline" {
		return model.Candle{}, model.Tick{}, fmt.Errorf("unexpected event %q", ev.Event)
	}

	k := ev.Kline
	var vals [5]float64
	for i, s := range [5]string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.Candle{}, model.Tick{}, &model.MalformedInputError{
				Field: "kline", Reason: fmt.Sprintf("not a number: %q", s)}
		}
		vals[i] = v
	}

	candle := model.Candle{
		Symbol:  ev.Symbol,
		TS:      time.UnixMilli(k.OpenTime).UTC(),
		Open:    vals[0],
		High:    vals[1],
		Low:     vals[2],
		Close:   vals[3],
		Volume:  vals[4],
		CloseTS: time.UnixMilli(k.CloseTime).UTC(),
		Closed:  k.Final,
	}
	if err := candle.Validate(); err != nil {
		return model.Candle{}, model.Tick{}, err
	}
	tick := model.Tick{Symbol: ev.Symbol, Price: candle.Close, TS: time.UnixMilli(ev.EventTime).UTC()}
	return candle, tick, nil
}
