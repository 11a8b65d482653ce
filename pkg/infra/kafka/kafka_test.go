package kafka_wrapper

import (
	"testing"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestBackoffDuration(t *testing.T) {
	min, max := 100*time.Millisecond, time.Second
	for attempt := 0; attempt < 10; attempt++ {
		d := backoffDuration(min, max, attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, max+1)
	}
	assert.Equal(t, time.Duration(0), backoffDuration(0, max, 3))
}

func TestHashKeyStable(t *testing.T) {
	assert.Equal(t, HashKey("tx1"), HashKey("tx1"))
	assert.NotEqual(t, HashKey("tx1"), HashKey("tx2"))
	assert.Len(t, HashKey(""), 8)
}

func TestWrapMessage(t *testing.T) {
	m := kafka.Message{
		Topic:     "trades",
		Partition: 2,
		Offset:    7,
		Key:       []byte("k"),
		Value:     []byte("tx1"),
		Headers:   []kafka.Header{{Key: "source", Value: []byte("gateway")}},
	}
	w := wrapMessage(m)
	assert.Equal(t, "tx1", string(w.Value))
	assert.Equal(t, "gateway", w.Headers["source"])
	assert.Equal(t, "trades/2@7", w.String())
}

func TestConsumerDefaults(t *testing.T) {
	cfg := withConsumerDefaults(ConsumerConfig{MaxRetries: -1})
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.BackoffMin)
	assert.Equal(t, 10*time.Second, cfg.BackoffMax)
}
