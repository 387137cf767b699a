// Package events publishes a JSON event per completed call to an MQTT
// broker, so downstream collectors can react to fresh printouts
// without polling the output directory. Publishing is strictly
// best-effort: the broker being down never affects call handling.
package events

import (
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CallEvent is the wire format of one completed call.
type CallEvent struct {
	CallNumber  uint64 `json:"call"`
	Success     bool   `json:"success"`
	CallerID    string `json:"caller_id,omitempty"`
	BytesRead   int    `json:"bytes"`
	Strikes     int    `json:"strikes"`
	Corrections int    `json:"corrections"`
	Duplicate   bool   `json:"duplicate"`
	StartedAt   int64  `json:"started_at"`
	EndedAt     int64  `json:"ended_at"`
}

// Publisher maintains a persistent MQTT connection and publishes call
// events from a buffered queue. Full queue drops the event.
type Publisher struct {
	broker string
	port   int
	topic  string
	client mqtt.Client
	queue  chan CallEvent
	stop   chan struct{}
}

// NewPublisher creates a publisher; call Connect before publishing.
func NewPublisher(broker string, port int, topic string) *Publisher {
	return &Publisher{
		broker: broker,
		port:   port,
		topic:  topic,
		queue:  make(chan CallEvent, 100),
		stop:   make(chan struct{}),
	}
}

// Connect establishes the broker connection and starts the publish
// loop. Auto-reconnect is delegated to the MQTT client.
func (p *Publisher) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", p.broker, p.port))
	opts.SetClientID(fmt.Sprintf("proteld-%d", time.Now().Unix()))
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetOnConnectHandler(p.onConnect)
	opts.SetConnectionLostHandler(p.onConnectionLost)

	p.client = mqtt.NewClient(opts)
	token := p.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("events: connect: %w", token.Error())
	}
	go p.publishLoop()
	return nil
}

func (p *Publisher) onConnect(mqtt.Client) {
	log.Printf("Events: connected, publishing to %s", p.topic)
}

func (p *Publisher) onConnectionLost(_ mqtt.Client, err error) {
	log.Printf("Events: connection lost: %v (will reconnect)", err)
}

// Publish enqueues an event without blocking.
func (p *Publisher) Publish(ev CallEvent) {
	if p == nil {
		return
	}
	select {
	case p.queue <- ev:
	default:
		log.Printf("Events: queue full, dropping event for call %d", ev.CallNumber)
	}
}

// Stop ends the publish loop and disconnects.
func (p *Publisher) Stop() {
	if p == nil {
		return
	}
	close(p.stop)
	if p.client != nil {
		p.client.Disconnect(250)
	}
}

func (p *Publisher) publishLoop() {
	for {
		select {
		case <-p.stop:
			return
		case ev := <-p.queue:
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Printf("Events: marshal call %d: %v", ev.CallNumber, err)
				continue
			}
			token := p.client.Publish(p.topic, 0, false, payload)
			token.Wait()
			if token.Error() != nil {
				log.Printf("Events: publish call %d: %v", ev.CallNumber, token.Error())
			}
		}
	}
}
