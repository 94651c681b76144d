package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quira/zkbridge/internal/domain"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completed(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error { return t.err }

type message struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	publishErr error
	pending    bool
	messages   []message
}

func (c *fakeClient) Connect() paho.Token { return completed(nil) }
func (c *fakeClient) Disconnect(uint) {}
func (c *fakeClient) IsConnected() bool { return true }

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	c.messages = append(c.messages, message{topic: topic, qos: qos, payload: payload.([]byte)})
	if c.pending {
		return &fakeToken{done: make(chan struct{})}
	}
	return completed(c.publishErr)
}

func newTestPublisher(c *fakeClient) *Publisher {
	return &Publisher{
		config: PublisherConfig{TopicPrefix: "quira", QoS: 1, ConnectTimeout: time.Second},
		client: c,
		logger: zerolog.Nop(),
		now:    func() time.Time { return time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC) },
	}
}

func TestPublishEnrollment(t *testing.T) {
	c := &fakeClient{}
	p := newTestPublisher(c)

	rec := domain.EnrollmentRecord{SessionID: "s-1", DeviceID: 3, CandidateID: "C-2024-118", UID: 2, UserID: "4471"}
	require.NoError(t, p.PublishEnrollment(context.Background(), rec))

	require.Len(t, c.messages, 1)
	assert.Equal(t, "quira/enrollments/3", c.messages[0].topic)
	assert.Equal(t, byte(1), c.messages[0].qos)

	var got struct {
		ID         string                  `json:"event_id"`
		Type       string                  `json:"type"`
		Source     string                  `json:"source"`
		OccurredAt time.Time               `json:"occurred_at"`
		Data       domain.EnrollmentRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(c.messages[0].payload, &got))
	assert.Len(t, got.ID, 36)
	assert.Equal(t, EventEnrollment, got.Type)
	assert.Equal(t, "s-1", got.Source)
	assert.Equal(t, "C-2024-118", got.Data.CandidateID)
	assert.True(t, got.OccurredAt.Equal(time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)))
}

func TestPublishPunch(t *testing.T) {
	c := &fakeClient{}
	p := newTestPublisher(c)

	entry := domain.AttendanceLogEntry{UID: 4, UserID: "4", Punch: domain.PunchOut, VerifyMethod: 1}
	require.NoError(t, p.PublishPunch(context.Background(), "PAS4241300509", entry))

	require.Len(t, c.messages, 1)
	assert.Equal(t, "quira/punches/PAS4241300509", c.messages[0].topic)
	assert.Contains(t, string(c.messages[0].payload), `"type":"attendance.punch"`)
}

func TestPublishErrors(t *testing.T) {
	broker := errors.New("not connected")
	p := newTestPublisher(&fakeClient{publishErr: broker})
	err := p.PublishPunch(context.Background(), "X", domain.AttendanceLogEntry{})
	assert.ErrorIs(t, err, broker)

	p = newTestPublisher(&fakeClient{pending: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = p.PublishPunch(ctx, "X", domain.AttendanceLogEntry{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPublishTimeout(t *testing.T) {
	p := newTestPublisher(&fakeClient{pending: true})
	p.config.ConnectTimeout = 10 * time.Millisecond
	err := p.PublishEnrollment(context.Background(), domain.EnrollmentRecord{})
	assert.ErrorContains(t, err, "timeout")
}
