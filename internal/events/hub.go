// Package events fans deployment progress out to subscribed clients.
// Delivery is best-effort: slow consumers are skipped, duplicates and
// drops are possible, and nothing here blocks a lifecycle operation.
package events

import (
	"sync"
	"time"

	"github.com/iac-sandbox/stackd/internal/domain"
)

// Topic names. Clients subscribe per stack or per deployment.
const (
	stackTopicPrefix      = "stack:"
	deploymentTopicPrefix = "deployment:"
)

// Event is one message delivered to subscribers of a topic.
type Event struct {
	Type    string    `json:"type"`
	Topic   string    `json:"topic"`
	Payload any       `json:"payload"`
	Time    time.Time `json:"time"`
}

// Hub routes events to subscribers by topic.
type Hub struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	mu     sync.Mutex
	topics map[string]struct{}
	ch     chan Event
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

func (h *Hub) subscribe() *subscriber {
	sub := &subscriber{
		topics: make(map[string]struct{}),
		ch:     make(chan Event, 32),
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
	h.mu.Unlock()
}

func (s *subscriber) add(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *subscriber) remove(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

func (s *subscriber) wants(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.topics[topic]
	return ok
}

// Publish delivers the event to every subscriber of its topic. A full
// subscriber buffer drops the event for that subscriber.
func (h *Hub) Publish(event Event) {
	event.Time = time.Now()
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if !sub.wants(event.Topic) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Client too slow, skip
		}
	}
}

// DeploymentEvent publishes a status transition to both the stack topic
// and the deployment topic, so either subscription sees it.
func (h *Hub) DeploymentEvent(result domain.DeploymentResult) {
	h.Publish(Event{
		Type:    "deployment:status",
		Topic:   stackTopicPrefix + result.StackName,
		Payload: result,
	})
	h.Publish(Event{
		Type:    "deployment:status",
		Topic:   deploymentTopicPrefix + result.DeploymentID,
		Payload: result,
	})
}

// DeploymentProgress publishes one engine output line.
func (h *Hub) DeploymentProgress(deploymentID, stackName, line string) {
	payload := map[string]string{
		"deploymentId": deploymentID,
		"stackName":    stackName,
		"line":         line,
	}
	h.Publish(Event{
		Type:    "deployment:progress",
		Topic:   stackTopicPrefix + stackName,
		Payload: payload,
	})
	h.Publish(Event{
		Type:    "deployment:progress",
		Topic:   deploymentTopicPrefix + deploymentID,
		Payload: payload,
	})
}
