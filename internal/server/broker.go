package server

import (
	"encoding/json"
	"sync"
)

// Event topics published on the SSE stream.
const (
	TopicPairing     = "pairing"
	TopicHunt        = "hunt"
	TopicMinigame    = "minigame"
	TopicInteraction = "interaction"
	TopicScan        = "scan"
)

// Event is one SSE message.
type Event struct {
	Topic string `json:"topic"`
	Data  any    `json:"data"`
}

type frame struct {
	topic string
	data  []byte
}

// Broker is an in-process pub/sub for SSE events, keyed by topic.
type Broker struct {
	mu   sync.RWMutex
	subs map[chan frame]map[string]bool
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[chan frame]map[string]bool)}
}

// Subscribe returns a channel receiving events for topics, or for every
// topic when none are given.
func (b *Broker) Subscribe(topics ...string) chan frame {
	ch := make(chan frame, 16)
	var filter map[string]bool
	if len(topics) > 0 {
		filter = make(map[string]bool, len(topics))
		for _, t := range topics {
			filter[t] = true
		}
	}
	b.mu.Lock()
	b.subs[ch] = filter
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(ch chan frame) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

// Publish sends data to every subscriber of topic. Slow subscribers miss
// events rather than block the publisher.
func (b *Broker) Publish(topic string, data any) {
	payload, err := json.Marshal(Event{Topic: topic, Data: data})
	if err != nil {
		return
	}
	f := frame{topic: topic, data: payload}

	b.mu.RLock()
	for ch, filter := range b.subs {
		if filter != nil && !filter[topic] {
			continue
		}
		select {
		case ch <- f:
		default:
		}
	}
	b.mu.RUnlock()
}
