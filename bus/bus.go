// Package bus wraps the MQTT connection the saver lives on. The rest of
// the system only sees Message values coming in and Publish going out; the
// paho client, subscriptions and presence handling all live here.
package bus

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/eapache/channels"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/jmball/mqtt-saver/utils/log"
	"github.com/jmball/mqtt-saver/wire"
)

const (
	statusTopic = "saver/status"
	logTopic    = "measurement/log"

	connectRetryInterval = 5 * time.Second
)

// Subscriptions the saver consumes, all at QoS 2.
var subscriptions = []string{"data/#", "calibration/#", "measurement/#"}

// Message is one inbound bus message, consumed exactly once by the
// dispatch loop.
type Message struct {
	Topic   string
	Payload []byte
}

// outbound is a status or log message queued for publication.
type outbound struct {
	topic   string
	payload []byte
	qos     byte
}

// Client is the saver's bus connection. The inbound callback given to
// NewClient must only enqueue; it runs on paho's network goroutine and must
// never block.
type Client struct {
	id        string
	broker    string
	onMessage func(Message)
	outq      *channels.InfiniteChannel
	mqttc     mqtt.Client
}

// NewClient builds a client for the given broker host (host, host:port or
// full tcp:// URL).
func NewClient(broker string, onMessage func(Message)) *Client {
	u := uuid.New()
	id := "saver-" + hex.EncodeToString(u[:])
	c := &Client{
		id:        id,
		broker:    broker,
		onMessage: onMessage,
		outq:      channels.NewInfiniteChannel(),
	}

	offline, _ := msgpack.Marshal(id + " offline")
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL(broker)).
		SetClientID(id).
		SetAutoReconnect(true).
		SetBinaryWill(statusTopic, offline, 2, true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onDisconnect)
	c.mqttc = mqtt.NewClient(opts)
	return c
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	if !strings.Contains(broker, ":") {
		broker += ":1883"
	}
	return "tcp://" + broker
}

// ID returns the client id used on the bus.
func (c *Client) ID() string { return c.id }

// Connect dials the broker, retrying indefinitely: the saver is useless
// without a bus, but transient broker outages at boot shouldn't kill it.
// Reconnects after the first successful connect are paho's job.
func (c *Client) Connect() {
	for {
		t := c.mqttc.Connect()
		t.Wait()
		if t.Error() == nil {
			return
		}
		log.Error("connect to broker %q failed: %v", c.broker, t.Error())
		time.Sleep(connectRetryInterval)
	}
}

func (c *Client) onConnect(mqttc mqtt.Client) {
	log.Debug("%s connected to broker", c.id)
	for _, filter := range subscriptions {
		mqttc.Subscribe(filter, 2, c.handle)
	}
	ready, _ := msgpack.Marshal(c.id + " ready")
	mqttc.Publish(statusTopic, 2, true, ready)
}

func (c *Client) onDisconnect(_ mqtt.Client, err error) {
	log.Debug("%s disconnected from broker: %v", c.id, err)
}

func (c *Client) handle(_ mqtt.Client, msg mqtt.Message) {
	c.onMessage(Message{Topic: msg.Topic(), Payload: msg.Payload()})
}

// Publish queues an outbound message; the relay goroutine delivers it.
// Never blocks.
func (c *Client) Publish(topic string, payload []byte, qos byte) {
	c.outq.In() <- outbound{topic: topic, payload: payload, qos: qos}
}

// SendLog relays a structured log line over the bus.
func (c *Client) SendLog(level int, msg string) {
	b, err := msgpack.Marshal(wire.LogPayload{Level: level, Msg: msg})
	if err != nil {
		return
	}
	c.Publish(logTopic, b, 2)
}

// RelayLoop publishes queued outgoing messages back to the bus. Run it on
// its own goroutine; it blocks only on the outbound queue pop.
func (c *Client) RelayLoop() {
	for v := range c.outq.Out() {
		o := v.(outbound)
		c.mqttc.Publish(o.topic, o.qos, false, o.payload)
	}
}

// OutboundLen reports the outbound relay queue depth.
func (c *Client) OutboundLen() int {
	return c.outq.Len()
}
