package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/streadway/amqp"

	logx "surveybot/pkg/logx"
)

type AMQPConfig struct {
	URL    string
	Queue  string
	Buffer int
}

// Forwarder republishes bus events to a durable AMQP queue as JSON.
// Run returns on broker errors so a restart loop can reconnect.
type Forwarder struct {
	bus Bus
	cfg AMQPConfig
	log logx.Logger
}

func NewForwarder(bus Bus, cfg AMQPConfig, log logx.Logger) *Forwarder {
	if cfg.Queue == "" {
		cfg.Queue = "surveybot_events"
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Forwarder{bus: bus, cfg: cfg, log: log.With(logx.String("comp", "events.amqp"))}
}

type envelope struct {
	Type string          `json:"type"`
	Time time.Time       `json:"time"`
	Data json.RawMessage `json:"data,omitempty"`
}

func encodeEvent(e Event) ([]byte, error) {
	env := envelope{Type: e.Type, Time: e.Time.UTC()}
	if e.Data != nil {
		raw, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

func (f *Forwarder) Run(ctx context.Context) error {
	if strings.TrimSpace(f.cfg.URL) == "" {
		return errors.New("amqp url is empty")
	}
	conn, err := amqp.Dial(f.cfg.URL)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(f.cfg.Queue, true, false, false, false, nil)
	if err != nil {
		return err
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	events, unsub := f.bus.Subscribe(f.cfg.Buffer)
	defer unsub()
	f.log.Info("event export connected", logx.String("queue", q.Name))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case aerr := <-closed:
			if aerr == nil {
				return errors.New("amqp connection closed")
			}
			return aerr
		case e, ok := <-events:
			if !ok {
				return nil
			}
			body, err := encodeEvent(e)
			if err != nil {
				f.log.Warn("event encode failed", logx.String("type", e.Type), logx.Err(err))
				continue
			}
			err = ch.Publish("", q.Name, false, false, amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Timestamp:    e.Time,
				Type:         e.Type,
				Body:         body,
			})
			if err != nil {
				return err
			}
		}
	}
}
