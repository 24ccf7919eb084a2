package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"certstore/internal/certificate/models"
	"certstore/internal/crl"
)

var _ crl.Sink = (*Kafka)(nil)

// Event is the message a Kafka sink publishes, keyed by serial.
type Event struct {
	ID           string                 `json:"id"`
	IssuingPoint string                 `json:"issuing_point"`
	Type         string                 `json:"type"`
	Serial       string                 `json:"serial"`
	Revocation   *models.RevocationInfo `json:"revocation,omitempty"`
	OccurredAt   time.Time              `json:"occurred_at"`
}

// Kafka publishes revocation facts for one issuing point to a topic so a
// downstream CRL builder can consume them. Records for the same serial share a
// partition and keep their order.
type Kafka struct {
	client *kgo.Client
	topic  string
	point  string
	clock  func() time.Time
}

// NewKafka creates a sink producing to topic through client.
func NewKafka(client *kgo.Client, topic, point string) *Kafka {
	return &Kafka{client: client, topic: topic, point: point, clock: time.Now}
}

// EnsureTopic creates the topic if it does not exist yet.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replication int16) error {
	adm := kadm.NewClient(client)
	resps, err := adm.CreateTopics(ctx, partitions, replication, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	for _, r := range resps.Sorted() {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

func (k *Kafka) AddRevokedCert(ctx context.Context, serial *big.Int, info *models.RevocationInfo) error {
	return k.publish(ctx, crl.EventRevoked, serial, info)
}

func (k *Kafka) AddUnrevokedCert(ctx context.Context, serial *big.Int) error {
	return k.publish(ctx, crl.EventUnrevoked, serial, nil)
}

func (k *Kafka) AddExpiredCert(ctx context.Context, serial *big.Int) error {
	return k.publish(ctx, crl.EventExpired, serial, nil)
}

func (k *Kafka) publish(ctx context.Context, event string, serial *big.Int, info *models.RevocationInfo) error {
	value, err := json.Marshal(Event{
		ID:           uuid.NewString(),
		IssuingPoint: k.point,
		Type:         event,
		Serial:       serial.String(),
		Revocation:   info,
		OccurredAt:   k.clock().UTC(),
	})
	if err != nil {
		return fmt.Errorf("kafka sink: encode %s event: %w", event, err)
	}
	rec := &kgo.Record{Topic: k.topic, Key: []byte(serial.String()), Value: value}
	if err := k.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("kafka sink: publish %s %s: %w", event, serial, err)
	}
	return nil
}
