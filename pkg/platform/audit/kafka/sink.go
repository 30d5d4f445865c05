// Package kafka publishes admin actions to a Kafka topic, keyed by admin id
// so one administrator's actions stay ordered within a partition.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "mkcompany/pkg/platform/audit"
)

type Sink struct {
	client *kgo.Client
	topic  string
}

// NewSink connects to brokers. The client is lazy; connection problems
// surface on the first Send or EnsureTopic.
func NewSink(brokers []string, topic string) (*Sink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka sink requires at least one broker")
	}
	if topic == "" {
		return nil, errors.New("kafka sink requires a topic")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProduceRequestTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Sink{client: client, topic: topic}, nil
}

// EnsureTopic creates the topic if it does not exist yet.
func (s *Sink) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	admin := kadm.NewClient(s.client)
	resp, err := admin.CreateTopics(ctx, partitions, replicationFactor, nil, s.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", s.topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

type message struct {
	audit.AdminAction
	Source string `json:"source"`
}

func (s *Sink) Send(ctx context.Context, actions []audit.AdminAction) error {
	if len(actions) == 0 {
		return nil
	}
	records := make([]*kgo.Record, 0, len(actions))
	for _, a := range actions {
		value, err := json.Marshal(message{AdminAction: a, Source: "mkcompany"})
		if err != nil {
			return fmt.Errorf("encode admin action %s: %w", a.ID, err)
		}
		records = append(records, &kgo.Record{
			Key:       []byte(a.AdminID.String()),
			Value:     value,
			Timestamp: a.CreatedAt,
			Headers: []kgo.RecordHeader{
				{Key: "action_type", Value: []byte(a.ActionType)},
			},
		})
	}
	if err := s.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce admin actions: %w", err)
	}
	return nil
}

func (s *Sink) Close() {
	s.client.Close()
}
