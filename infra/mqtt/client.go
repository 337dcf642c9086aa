package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/arrivalcast/core/model"
	coremon "github.com/kilianp07/arrivalcast/core/monitoring"
	coremqtt "github.com/kilianp07/arrivalcast/core/mqtt"
	"github.com/kilianp07/arrivalcast/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client. An
// empty Broker disables the client.
type Config struct {
	Broker   string `json:"broker" validate:"omitempty,uri"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Password string `json:"password"`
	// EventTopic is subscribed for arrival/departure events.
	EventTopic string `json:"event_topic"`
	// DivergenceTopic receives divergence reports. A "{vehicle}" token is
	// replaced by the vehicle id.
	DivergenceTopic string          `json:"divergence_topic"`
	UseTLS          bool            `json:"use_tls"`
	ClientCert      string          `json:"client_cert"`
	ClientKey       string          `json:"client_key"`
	CABundle        string          `json:"ca_bundle"`
	AuthMethod      string          `json:"auth_method" validate:"omitempty,oneof=username_password certificate both"`
	QoS             map[string]byte `json:"qos"`
	LWTTopic        string          `json:"lwt_topic"`
	LWTPayload      string          `json:"lwt_payload"`
	LWTQoS          byte            `json:"lwt_qos" validate:"lte=2"`
	LWTRetain       bool            `json:"lwt_retain"`
	MaxRetries      int             `json:"max_retries" validate:"gte=0"`
	BackoffMS       int             `json:"backoff_ms" validate:"gte=0"`
	TLSConfig       *tls.Config     `json:"-"`
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// PahoClient subscribes to arrival/departure events and publishes
// divergence reports.
type PahoClient struct {
	cli             pahoClient
	eventTopic      string
	divergenceTopic string
	qos             map[string]byte
	handler         model.EventHandler
	logger          logger.Logger
	monitor         coremon.Monitor
	maxRetries      int
	backoff         time.Duration

	received atomic.Int64
	rejected atomic.Int64
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Option customises a PahoClient.
type Option func(*PahoClient)

// WithMonitor reports decode and publish failures.
func WithMonitor(m coremon.Monitor) Option { return func(p *PahoClient) { p.monitor = m } }

// WithLogger replaces the component logger.
func WithLogger(l logger.Logger) Option { return func(p *PahoClient) { p.logger = l } }

// NewPahoClient connects to the MQTT broker and subscribes to the event
// topic when a handler is given.
func NewPahoClient(cfg Config, handler model.EventHandler, opts ...Option) (*PahoClient, error) {
	clientOpts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	pc := &PahoClient{
		eventTopic:      cfg.EventTopic,
		divergenceTopic: cfg.DivergenceTopic,
		qos:             cfg.QoS,
		handler:         handler,
		logger:          logger.New("mqtt_client"),
		monitor:         coremon.NopMonitor{},
		maxRetries:      cfg.MaxRetries,
		backoff:         time.Duration(cfg.BackoffMS) * time.Millisecond,
	}
	for _, o := range opts {
		o(pc)
	}
	if pc.maxRetries <= 0 {
		pc.maxRetries = 3
	}
	if pc.backoff <= 0 {
		pc.backoff = 100 * time.Millisecond
	}

	clientOpts.OnConnect = func(c paho.Client) {
		pc.logger.Infof("MQTT connected")
		if pc.handler == nil || pc.eventTopic == "" {
			return
		}
		if token := c.Subscribe(pc.eventTopic, pc.qosFor("event"), pc.onEvent); token.Wait() && token.Error() != nil {
			pc.logger.Errorf("subscribe error: %v", token.Error())
		}
	}
	clientOpts.OnConnectionLost = func(_ paho.Client, err error) {
		pc.logger.Errorf("connection lost: %v", err)
	}
	clientOpts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		pc.logger.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(clientOpts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	pc.cli = c
	return pc, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}
	return cfg, nil
}

func (p *PahoClient) qosFor(kind string) byte {
	if q, ok := p.qos[kind]; ok {
		return q
	}
	return 0
}

func (p *PahoClient) onEvent(_ paho.Client, msg paho.Message) {
	evs, err := model.DecodeEvents(msg.Payload())
	if err != nil {
		p.rejected.Add(1)
		p.logger.Errorf("failed to decode event on %s: %v", msg.Topic(), err)
		p.monitor.CaptureException(err, map[string]string{"module": "mqtt", "topic": msg.Topic()})
		return
	}
	for _, ev := range evs {
		p.received.Add(1)
		if err := p.handler(context.Background(), ev); err != nil {
			p.rejected.Add(1)
			p.logger.Warnf("event %s rejected: %v", ev.Identity(), err)
		}
	}
}

// Received returns the number of events decoded since start.
func (p *PahoClient) Received() int64 { return p.received.Load() }

// Rejected returns the number of payloads or events that failed.
func (p *PahoClient) Rejected() int64 { return p.rejected.Load() }

// PublishDivergence sends ev as JSON with bounded retries and exponential
// backoff.
func (p *PahoClient) PublishDivergence(ev model.DivergenceEvent) error {
	if p.divergenceTopic == "" {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	topic := strings.ReplaceAll(p.divergenceTopic, "{vehicle}", ev.VehicleID)
	qos := p.qosFor("divergence")
	var publishErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		token := p.cli.Publish(topic, qos, false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			p.logger.Debugf("published divergence %s to %s", ev.ID, topic)
			return nil
		}
		p.logger.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
		if attempt < p.maxRetries {
			time.Sleep(p.backoff * time.Duration(1<<attempt))
		}
	}
	err = fmt.Errorf("%w: %v", coremqtt.ErrPublishFailed, publishErr)
	p.monitor.CaptureException(err, map[string]string{"module": "mqtt", "vehicle_id": ev.VehicleID})
	return err
}

// Disconnect gracefully closes the MQTT connection.
func (p *PahoClient) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
