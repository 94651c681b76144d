package mqtt

import (
	"context"
	"fmt"
	"strconv"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quira/zkbridge/internal/domain"
)

// Event types
const (
	EventEnrollment = "enrollment.saved"
	EventPunch      = "attendance.punch"
)

// PublisherConfig contains MQTT publisher configuration
type PublisherConfig struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
}

// Event is the envelope of every published message.
type Event struct {
	ID         string    `json:"event_id"`
	Type       string    `json:"type"`
	Source     string    `json:"source,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

// client is the part of paho.Client the publisher uses.
type client interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Publisher sends enrollment and punch events to the broker
type Publisher struct {
	config PublisherConfig
	client client
	logger zerolog.Logger
	now    func() time.Time
}

// NewPublisher creates a new MQTT publisher
func NewPublisher(config PublisherConfig, logger zerolog.Logger) *Publisher {
	p := &Publisher{
		config: config,
		logger: logger.With().Str("component", "mqtt-publisher").Logger(),
		now:    time.Now,
	}

	opts := paho.NewClientOptions().
		AddBroker(config.BrokerURL).
		SetClientID(config.ClientID).
		SetKeepAlive(config.KeepAlive).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.logger.Warn().Err(err).Msg("MQTT connection lost")
		}).
		SetOnConnectHandler(func(paho.Client) {
			p.logger.Info().Str("broker", config.BrokerURL).Msg("Connected to MQTT broker")
		})

	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}

	p.client = paho.NewClient(opts)
	return p
}

// Connect establishes connection to the MQTT broker
func (p *Publisher) Connect(ctx context.Context) error {
	p.logger.Info().
		Str("broker", p.config.BrokerURL).
		Str("client_id", p.config.ClientID).
		Msg("Connecting to MQTT broker")

	if err := p.wait(ctx, p.client.Connect(), p.config.ConnectTimeout); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	return nil
}

// Disconnect cleanly disconnects from the broker
func (p *Publisher) Disconnect() {
	p.client.Disconnect(250)
	p.logger.Info().Msg("Disconnected from MQTT broker")
}

func (p *Publisher) IsConnected() bool {
	return p.client.IsConnected()
}

// PublishEnrollment announces a saved enrollment on
// <prefix>/enrollments/<device_id>.
func (p *Publisher) PublishEnrollment(ctx context.Context, rec domain.EnrollmentRecord) error {
	topic := fmt.Sprintf("%s/enrollments/%s", p.config.TopicPrefix, strconv.FormatInt(rec.DeviceID, 10))
	return p.publish(ctx, topic, EventEnrollment, rec.SessionID, rec)
}

// PublishPunch forwards one realtime punch on <prefix>/punches/<serial>.
func (p *Publisher) PublishPunch(ctx context.Context, serial string, entry domain.AttendanceLogEntry) error {
	topic := fmt.Sprintf("%s/punches/%s", p.config.TopicPrefix, serial)
	return p.publish(ctx, topic, EventPunch, serial, entry)
}

func (p *Publisher) publish(ctx context.Context, topic, eventType, source string, data any) error {
	event := Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Source:     source,
		OccurredAt: p.now().UTC(),
		Data:       data,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	if err := p.wait(ctx, p.client.Publish(topic, p.config.QoS, false, payload), p.config.ConnectTimeout); err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("Failed to publish event")
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	p.logger.Debug().
		Str("topic", topic).
		Str("event_id", event.ID).
		Int("bytes", len(payload)).
		Msg("Event published")
	return nil
}

func (p *Publisher) wait(ctx context.Context, token paho.Token, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("timeout after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
