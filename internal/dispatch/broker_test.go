package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	declared   []string
	published  []amqp.Publishing
	routingKey string
	publishErr error
	declareErr error
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if f.declareErr != nil {
		return amqp.Queue{}, f.declareErr
	}
	if !durable {
		return amqp.Queue{}, errors.New("expected durable queue")
	}
	f.declared = append(f.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.routingKey = key
	f.published = append(f.published, msg)
	return nil
}

func TestBrokerBackend_Submit_Envelope(t *testing.T) {
	ch := &fakeChannel{}
	b := NewBrokerBackend(ch, zerolog.Nop())

	task := Task{
		ResultID:             "res-1",
		JobID:                "ping-sweep",
		Queue:                "default",
		Args:                 map[string]any{"network": "10.0.0.0/24"},
		RequestedBy:          "alice",
		SoftTimeLimitSeconds: 60,
		HardTimeLimitSeconds: 120,
	}

	require.NoError(t, b.Submit(context.Background(), task))
	require.Len(t, ch.published, 1)

	msg := ch.published[0]
	assert.Equal(t, "default", ch.routingKey)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, uint8(amqp.Persistent), msg.DeliveryMode)
	assert.Equal(t, "res-1", msg.MessageId)

	var decoded Task
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, task.JobID, decoded.JobID)
	assert.Equal(t, "10.0.0.0/24", decoded.Args["network"])
	assert.Equal(t, 120, decoded.HardTimeLimitSeconds)
}

func TestBrokerBackend_Submit_PublishError(t *testing.T) {
	ch := &fakeChannel{publishErr: errors.New("channel closed")}
	b := NewBrokerBackend(ch, zerolog.Nop())

	err := b.Submit(context.Background(), Task{ResultID: "res-1", Queue: "default"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish")
}

func TestBrokerBackend_DeclareQueue(t *testing.T) {
	ch := &fakeChannel{}
	b := NewBrokerBackend(ch, zerolog.Nop())

	require.NoError(t, b.DeclareQueue("default"))
	assert.Equal(t, []string{"default"}, ch.declared)
}

func TestBrokerBackend_Type(t *testing.T) {
	b := NewBrokerBackend(&fakeChannel{}, zerolog.Nop())
	assert.Equal(t, "worker-pool", b.Type())
}
