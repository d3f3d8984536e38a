package align

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultPublishPrefix is the topic prefix used when neither the environment
// nor the config provides one
const DefaultPublishPrefix = "meshalign"

// BestMessage is the payload of the {prefix}/{session}/best topic
type BestMessage struct {
	Session     string  `json:"session"`
	RunID       string  `json:"runId"`
	Strength    float64 `json:"strength"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	RotationDeg float64 `json:"rotationDeg"`
	Scale       float64 `json:"scale"`
	Timestamp   int64   `json:"timestamp"`
}

// Publisher publishes extraction reports to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	best          map[string]*BestMessage
	mu            sync.RWMutex
}

// NewPublisher creates a report publisher. MQTT_PUBLISH_PREFIX overrides
// prefix; an empty prefix falls back to DefaultPublishPrefix.
// If client is nil, publishing is disabled.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if env := os.Getenv("MQTT_PUBLISH_PREFIX"); env != "" {
		prefix = env
	}
	if prefix == "" {
		prefix = DefaultPublishPrefix
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,
		retain:        true,
		best:          make(map[string]*BestMessage),
	}
}

// Prefix returns the topic prefix
func (p *Publisher) Prefix() string {
	return p.publishPrefix
}

// PublishReport publishes the full report to {prefix}/{session}/clusters and,
// when the report holds a cluster, the strongest one to {prefix}/{session}/best
func (p *Publisher) PublishReport(r *Report) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	if err := p.publish(p.topic(r.Session, "clusters"), payload); err != nil {
		log.Printf("Error publishing clusters for %s: %v", r.Session, err)
		return err
	}

	best, ok := r.Best()
	if !ok {
		log.Printf("Published report %s for %s (no clusters)", r.RunID, r.Session)
		return nil
	}

	msg := &BestMessage{
		Session:     r.Session,
		RunID:       r.RunID,
		Strength:    best.Strength,
		X:           best.Proposition.Translation.X,
		Y:           best.Proposition.Translation.Y,
		RotationDeg: best.Proposition.RotationDeg(),
		Scale:       best.Proposition.Scale,
		Timestamp:   time.Now().Unix(),
	}

	p.mu.Lock()
	p.best[r.Session] = msg
	p.mu.Unlock()

	payload, err = json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling best cluster: %w", err)
	}
	if err := p.publish(p.topic(r.Session, "best"), payload); err != nil {
		log.Printf("Error publishing best cluster for %s: %v", r.Session, err)
		return err
	}

	log.Printf("Published report %s for %s: %d clusters, best (%.1f, %.1f) rot=%.1f° s=%.1f",
		r.RunID, r.Session, len(r.Clusters), msg.X, msg.Y, msg.RotationDeg, msg.Strength)
	return nil
}

func (p *Publisher) topic(session, leaf string) string {
	return fmt.Sprintf("%s/%s/%s", p.publishPrefix, session, leaf)
}

func (p *Publisher) publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// GetBest returns the last published best cluster of a session
func (p *Publisher) GetBest(session string) (*BestMessage, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	msg, ok := p.best[session]
	if !ok {
		return nil, false
	}
	c := *msg
	return &c, true
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
