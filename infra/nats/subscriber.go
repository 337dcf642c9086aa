package nats

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/kilianp07/arrivalcast/core/model"
	coremon "github.com/kilianp07/arrivalcast/core/monitoring"
	"github.com/kilianp07/arrivalcast/infra/logger"
)

// Config selects the NATS server and subject carrying arrival/departure
// events. An empty URL disables the subscriber.
type Config struct {
	URL     string `json:"url"`
	Subject string `json:"subject"`
	// Queue joins a queue group so several instances share the stream.
	Queue string `json:"queue"`
	Name  string `json:"name"`
}

// Subscriber decodes events from a NATS subject.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	handler model.EventHandler
	log     logger.Logger
	monitor coremon.Monitor

	received atomic.Int64
	rejected atomic.Int64
}

// Option customises a Subscriber.
type Option func(*Subscriber)

// WithMonitor reports decode failures.
func WithMonitor(m coremon.Monitor) Option { return func(s *Subscriber) { s.monitor = m } }

// WithLogger replaces the component logger.
func WithLogger(l logger.Logger) Option { return func(s *Subscriber) { s.log = l } }

// NewSubscriber connects to cfg.URL and subscribes to cfg.Subject.
func NewSubscriber(cfg Config, handler model.EventHandler, opts ...Option) (*Subscriber, error) {
	if cfg.Subject == "" {
		return nil, fmt.Errorf("nats: subject required")
	}
	if handler == nil {
		return nil, fmt.Errorf("nats: handler required")
	}
	s := &Subscriber{handler: handler, log: logger.New("nats_subscriber"), monitor: coremon.NopMonitor{}}
	for _, o := range opts {
		o(s)
	}
	name := cfg.Name
	if name == "" {
		name = "arrivalcast"
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.log.Warnf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			s.log.Infof("nats reconnected to %s", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			s.log.Infof("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	s.nc = nc
	if cfg.Queue != "" {
		s.sub, err = nc.QueueSubscribe(cfg.Subject, cfg.Queue, s.onMsg)
	} else {
		s.sub, err = nc.Subscribe(cfg.Subject, s.onMsg)
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats subscribe %s: %w", cfg.Subject, err)
	}
	return s, nil
}

func (s *Subscriber) onMsg(msg *nats.Msg) {
	s.dispatch(msg.Subject, msg.Data)
}

func (s *Subscriber) dispatch(subject string, data []byte) {
	evs, err := model.DecodeEvents(data)
	if err != nil {
		s.rejected.Add(1)
		s.log.Errorf("failed to decode event on %s: %v", subject, err)
		s.monitor.CaptureException(err, map[string]string{"module": "nats", "subject": subject})
		return
	}
	for _, ev := range evs {
		s.received.Add(1)
		if err := s.handler(context.Background(), ev); err != nil {
			s.rejected.Add(1)
			s.log.Warnf("event %s rejected: %v", ev.Identity(), err)
		}
	}
}

// Received returns the number of events decoded since start.
func (s *Subscriber) Received() int64 { return s.received.Load() }

// Rejected returns the number of payloads or events that failed.
func (s *Subscriber) Rejected() int64 { return s.rejected.Load() }

// Close drains the subscription and closes the connection.
func (s *Subscriber) Close() {
	if s.nc == nil {
		return
	}
	if err := s.nc.Drain(); err != nil {
		s.log.Warnf("nats drain: %v", err)
		s.nc.Close()
	}
}
