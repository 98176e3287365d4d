package kafkabus

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-chat-server/broker"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeCodec(t *testing.T) {
	env := broker.Envelope{
		Namespace:   "chat",
		Topic:       "lobby",
		Value:       []byte("hello"),
		PublisherID: "alice",
		PublishedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	msg, err := encode(env)
	require.NoError(t, err)
	require.Equal(t, "chat/lobby", string(msg.Key))

	got, err := decode(msg)
	require.NoError(t, err)
	require.Equal(t, env, got)

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := decode(kafka.Message{Value: []byte("{not json")})
		require.Error(t, err)
	})

	t.Run("rejects missing routing", func(t *testing.T) {
		_, err := decode(kafka.Message{Value: []byte(`{"value":"aGk="}`)})
		require.Error(t, err)
	})
}

func TestNew_RequiresBrokers(t *testing.T) {
	_, err := New(nil, "chat-events")
	require.Error(t, err)

	bus, err := New([]string{"localhost:9092"}, "chat-events", WithGroupID("fixed"))
	require.NoError(t, err)
	require.NoError(t, bus.Close())
}
