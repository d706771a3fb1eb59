// Package mqtt publishes committed detection batches to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"roadscan/internal/domain"
	"roadscan/internal/ports"
)

const (
	connectTimeout = 30 * time.Second
	publishTimeout = 10 * time.Second
)

type Config struct {
	Broker   string
	Topic    string
	ClientID string
}

type Publisher struct {
	client paho.Client
	topic  string
	log    *slog.Logger
}

var _ ports.EventPublisher = (*Publisher)(nil)

// Connect dials the broker. The client reconnects on its own afterwards.
func Connect(ctx context.Context, cfg Config, log *slog.Logger) (*Publisher, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "mqtt", "broker", cfg.Broker)

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(paho.Client) { log.Info("connected to broker") })
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) { log.Warn("broker connection lost", "error", err) })

	client := paho.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	case <-time.After(connectTimeout):
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt: connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect: %w", err)
	}
	return newPublisher(client, cfg.Topic, log), nil
}

func newPublisher(client paho.Client, topic string, log *slog.Logger) *Publisher {
	return &Publisher{client: client, topic: topic, log: log}
}

// event is the payload of one published batch.
type event struct {
	ImageFilename string         `json:"image_filename"`
	Timestamp     time.Time      `json:"timestamp"`
	Latitude      *float64       `json:"latitude"`
	Longitude     *float64       `json:"longitude"`
	Detections    []eventElement `json:"detections"`
}

type eventElement struct {
	ID         string  `json:"id"`
	DamageCode string  `json:"damage_code"`
	DamageType string  `json:"damage_type"`
	Confidence float64 `json:"confidence"`
}

func (p *Publisher) PublishDetections(ctx context.Context, records []domain.DetectionRecord) error {
	if len(records) == 0 {
		return nil
	}
	if !p.client.IsConnected() {
		return fmt.Errorf("mqtt: not connected to broker")
	}

	first := records[0]
	ev := event{ImageFilename: first.ImageRef, Timestamp: first.Timestamp}
	if first.Geotag != nil {
		ev.Latitude, ev.Longitude = &first.Geotag.Latitude, &first.Geotag.Longitude
	}
	for _, r := range records {
		ev.Detections = append(ev.Detections, eventElement{
			ID:         r.ID,
			DamageCode: r.DamageCode,
			DamageType: r.DamageName,
			Confidence: r.Confidence,
		})
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("mqtt: encode event: %w", err)
	}

	token := p.client.Publish(p.topic, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return fmt.Errorf("mqtt: publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish: %w", err)
	}
	p.log.Debug("published detections", "topic", p.topic, "count", len(records))
	return nil
}

func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
