package nats

import (
	"testing"

	"github.com/micro/go-kv/broker"
	natsp "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
)

func TestSetAddrs(t *testing.T) {
	assert.Equal(t, []string{natsp.DefaultURL}, setAddrs(nil))
	assert.Equal(t, []string{"nats://10.0.0.1:4222", "nats://host:4223"}, setAddrs([]string{"10.0.0.1:4222", "", "nats://host:4223"}))
}

func TestOptions(t *testing.T) {
	nopts := natsp.GetDefaultOptions()
	nopts.Servers = []string{"nats://from-options:4222"}

	b := NewBroker(Options(nopts), DrainConnection())
	n := b.(*natsBroker)
	assert.Equal(t, []string{"nats://from-options:4222"}, n.addrs)
	assert.True(t, n.drain)
	assert.Equal(t, "nats://from-options:4222", b.Address())

	b = NewBroker(broker.Addrs("127.0.0.1:4222"), Options(nopts))
	assert.Equal(t, "nats://127.0.0.1:4222", b.Address())
	assert.Equal(t, "nats", b.String())
}

func TestNotConnected(t *testing.T) {
	b := NewBroker()
	assert.ErrorIs(t, b.Publish("topic", &broker.Message{}), broker.ErrNotConnected)
	_, err := b.Subscribe("topic", func(broker.Event) error { return nil })
	assert.ErrorIs(t, err, broker.ErrNotConnected)
	assert.NoError(t, b.Disconnect())
}
