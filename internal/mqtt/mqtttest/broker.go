// Package mqtttest runs an in-process broker for MQTT tests.
package mqtttest

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/require"
)

// Message is a received publication.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// StartBroker starts a broker accepting any client on a free local port and
// returns its mqtt:// URL. The broker is closed with the test.
func StartBroker(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	server := mochi.New(nil)
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, server.AddListener(listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		ID:      "t1",
		Address: addr,
	})))
	require.NoError(t, server.Serve())
	t.Cleanup(func() { _ = server.Close() })

	return "mqtt://" + addr
}

// Recorder collects every message on the topics it subscribed to.
type Recorder struct {
	mu   sync.Mutex
	msgs map[string]Message
	all  []Message
}

// Subscribe connects a plain paho client to brokerURL and records everything
// matching filter.
func Subscribe(t *testing.T, brokerURL, filter string) *Recorder {
	t.Helper()

	r := &Recorder{msgs: make(map[string]Message)}
	opts := paho.NewClientOptions().
		AddBroker("tcp://" + brokerURL[len("mqtt://"):]).
		SetClientID(fmt.Sprintf("recorder-%d", time.Now().UnixNano()))
	c := paho.NewClient(opts)
	tok := c.Connect()
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())

	tok = c.Subscribe(filter, 1, func(_ paho.Client, m paho.Message) {
		r.mu.Lock()
		defer r.mu.Unlock()
		msg := Message{Topic: m.Topic(), Payload: append([]byte(nil), m.Payload()...), Retained: m.Retained()}
		r.msgs[msg.Topic] = msg
		r.all = append(r.all, msg)
	})
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())
	t.Cleanup(func() { c.Disconnect(100) })
	return r
}

// Last returns the newest message on topic.
func (r *Recorder) Last(topic string) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.msgs[topic]
	return m, ok
}

// Count returns the number of messages received on topic.
func (r *Recorder) Count(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.all {
		if m.Topic == topic {
			n++
		}
	}
	return n
}
