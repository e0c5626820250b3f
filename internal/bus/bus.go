// Package bus is the internal event bus the market-maker loop, risk
// guardian, and metrics/alerts components publish onto instead of calling
// each other directly — spec §9's "no singletons in the core" design note:
// every cross-component notification (book updates, fills, kill-switch
// trips, toxicity state changes) goes over the bus so paper/live/backtest
// modes can choose whether anything is even listening.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Config configures the underlying NATS connection.
type Config struct {
	URL      string
	ClientID string
}

// Bus wraps a core NATS connection with the subjects this engine uses.
// It intentionally does not use JetStream: every message here is a
// best-effort fan-out notification, not a durable work queue.
type Bus struct {
	conn   *nats.Conn
	logger *logrus.Entry
}

// Connect dials NATS and returns a ready Bus.
func Connect(cfg Config) (*Bus, error) {
	logger := logrus.WithField("component", "event-bus")

	opts := []nats.Option{
		nats.Name(cfg.ClientID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Errorf("bus disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("bus reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("bus: connect: %w", err)
	}
	return &Bus{conn: conn, logger: logger}, nil
}

// Close drains and closes the underlying connection.
func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

// Subjects. One symbol-scoped subject per event family; "*" subscribes
// across every symbol.
func bookSubject(symbol string) string       { return "mm.book." + symbol }
func fillSubject(symbol string) string       { return "mm.fill." + symbol }
func killSwitchSubject(symbol string) string { return "mm.killswitch." + symbol }
func toxicitySubject(symbol string) string   { return "mm.toxicity." + symbol }

// BookUpdateEvent is published whenever the order-book manager applies a
// full snapshot or diff that moves the mid.
type BookUpdateEvent struct {
	Symbol    string          `json:"symbol"`
	Mid       decimal.Decimal `json:"mid"`
	SpreadBps decimal.Decimal `json:"spread_bps"`
	Timestamp time.Time       `json:"timestamp"`
}

// FillEvent is published whenever the exchange client reports a trade.
type FillEvent struct {
	Symbol    string          `json:"symbol"`
	OrderID   string          `json:"order_id"`
	Side      string          `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Timestamp time.Time       `json:"timestamp"`
}

// KillSwitchEvent is published the moment the guardian latches the
// kill-switch.
type KillSwitchEvent struct {
	Symbol    string    `json:"symbol"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// ToxicityEvent is published whenever evaluate_toxicity's action changes
// for a symbol.
type ToxicityEvent struct {
	Symbol    string    `json:"symbol"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// PublishBookUpdate publishes a BookUpdateEvent for symbol.
func (b *Bus) PublishBookUpdate(evt BookUpdateEvent) error {
	return b.publish(bookSubject(evt.Symbol), evt)
}

// PublishFill publishes a FillEvent for symbol.
func (b *Bus) PublishFill(evt FillEvent) error {
	return b.publish(fillSubject(evt.Symbol), evt)
}

// PublishKillSwitch publishes a KillSwitchEvent for symbol.
func (b *Bus) PublishKillSwitch(evt KillSwitchEvent) error {
	return b.publish(killSwitchSubject(evt.Symbol), evt)
}

// PublishToxicity publishes a ToxicityEvent for symbol.
func (b *Bus) PublishToxicity(evt ToxicityEvent) error {
	return b.publish(toxicitySubject(evt.Symbol), evt)
}

func (b *Bus) publish(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bus: marshal %s: %w", subject, err)
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("bus: publish %s: %w", subject, err)
	}
	return nil
}

// SubscribeFills subscribes handler to every symbol's fill subject.
func (b *Bus) SubscribeFills(handler func(FillEvent)) (*nats.Subscription, error) {
	return b.conn.Subscribe(fillSubject("*"), func(msg *nats.Msg) {
		var evt FillEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			b.logger.Errorf("bus: unmarshal fill: %v", err)
			return
		}
		handler(evt)
	})
}

// SubscribeKillSwitch subscribes handler to every symbol's kill-switch
// subject.
func (b *Bus) SubscribeKillSwitch(handler func(KillSwitchEvent)) (*nats.Subscription, error) {
	return b.conn.Subscribe(killSwitchSubject("*"), func(msg *nats.Msg) {
		var evt KillSwitchEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			b.logger.Errorf("bus: unmarshal kill-switch: %v", err)
			return
		}
		handler(evt)
	})
}

// SubscribeToxicity subscribes handler to every symbol's toxicity subject.
func (b *Bus) SubscribeToxicity(handler func(ToxicityEvent)) (*nats.Subscription, error) {
	return b.conn.Subscribe(toxicitySubject("*"), func(msg *nats.Msg) {
		var evt ToxicityEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			b.logger.Errorf("bus: unmarshal toxicity: %v", err)
			return
		}
		handler(evt)
	})
}
