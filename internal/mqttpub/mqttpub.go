// Package mqttpub mirrors each published solution to an MQTT topic as JSON.
package mqttpub

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"piksi-emu/internal/config"
	"piksi-emu/internal/solution"
)

const (
	queueLen       = 16
	publishTimeout = 5 * time.Second
)

// Client is the part of mqtt.Client the publisher needs.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type Publisher struct {
	client Client
	topic  string
	qos    byte

	queue chan solution.Solution
	wg    sync.WaitGroup
	once  sync.Once

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// Connect dials the broker named in cfg and returns a running publisher.
func Connect(cfg config.MQTTConfig) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, token.Error())
	}
	log.Printf("mqtt: connected broker=%s topic=%s", cfg.Broker, cfg.Topic)
	return New(client, cfg.Topic, cfg.QoS), nil
}

// New wraps an already connected client.
func New(c Client, topic string, qos byte) *Publisher {
	p := &Publisher{
		client: c,
		topic:  topic,
		qos:    qos,
		queue:  make(chan solution.Solution, queueLen),
	}
	p.wg.Add(1)
	go p.loop()
	return p
}

// Observe queues sol for publication. It never blocks the tick; when the
// broker falls behind, solutions are dropped.
func (p *Publisher) Observe(sol solution.Solution) {
	select {
	case p.queue <- sol:
	default:
		if p.dropped.Add(1) == 1 {
			log.Printf("mqtt: broker slow, dropping solutions")
		}
	}
}

func (p *Publisher) loop() {
	defer p.wg.Done()
	for sol := range p.queue {
		payload, err := json.Marshal(sol)
		if err != nil {
			log.Printf("mqtt: marshal solution: %v", err)
			continue
		}
		token := p.client.Publish(p.topic, p.qos, false, payload)
		if !token.WaitTimeout(publishTimeout) {
			p.failed.Add(1)
			log.Printf("mqtt: publish to %s timed out", p.topic)
			continue
		}
		if err := token.Error(); err != nil {
			p.failed.Add(1)
			log.Printf("mqtt: publish to %s: %v", p.topic, err)
			continue
		}
		p.published.Add(1)
	}
}

// Close drains queued solutions and disconnects. Observe must not be called
// after Close.
func (p *Publisher) Close() error {
	p.once.Do(func() {
		close(p.queue)
		p.wg.Wait()
		p.client.Disconnect(250)
	})
	return nil
}

type Stats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

func (p *Publisher) Stats() Stats {
	return Stats{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Failed:    p.failed.Load(),
	}
}
