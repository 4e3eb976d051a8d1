// Package events はインシデントの開始・終了イベントをメッセージブローカーへ配信する。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// イベント種別
const (
	TypeIncidentStarted = "incident.started"
	TypeIncidentUpdated = "incident.updated"
	TypeIncidentClosed  = "incident.closed"
)

const (
	schemaVersion       = 1
	defaultWriteTimeout = 10 * time.Second
)

// IncidentEvent はインシデントの状態変化を表すイベント。
type IncidentEvent struct {
	Type       string    `json:"type"`
	IncidentID string    `json:"incident_id"`
	MenuType   string    `json:"menu_type"`
	Mode       string    `json:"mode"`
	SourceKey  string    `json:"source_key,omitempty"`
	Title      string    `json:"title"`
	Targets    []string  `json:"targets,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher はイベントの配信先。
type Publisher interface {
	Publish(ctx context.Context, event IncidentEvent) error
	Close() error
}

// messageWriter は kafka.Writer のうち使用するメソッド。
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher はインシデントIDをキーとしてKafkaトピックへJSONで配信する。
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

// NewKafkaPublisher はカンマ区切りのブローカー一覧とトピックからKafkaPublisherを生成する。
func NewKafkaPublisher(brokers, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	var brokerList []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokerList = append(brokerList, b)
		}
	}
	if len(brokerList) == 0 {
		return nil, fmt.Errorf("Kafkaブローカーが指定されていません")
	}
	if topic == "" {
		return nil, fmt.Errorf("Kafkaトピックが指定されていません")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokerList...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: defaultWriteTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	logger.Info("Kafkaイベント配信を設定しました",
		slog.String("topic", topic),
		slog.Int("brokers", len(brokerList)),
	)
	return &KafkaPublisher{writer: w, topic: topic, logger: logger}, nil
}

// Publish はイベントを同期的に書き込む。
func (p *KafkaPublisher) Publish(ctx context.Context, event IncidentEvent) error {
	msg, err := toMessage(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("Kafkaへのイベント書き込みに失敗しました: %w", err)
	}
	p.logger.Info("インシデントイベントを配信しました",
		slog.String("type", event.Type),
		slog.String("incident_id", event.IncidentID),
		slog.String("topic", p.topic),
	)
	return nil
}

// Close はライターを閉じる。
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func toMessage(event IncidentEvent) (kafka.Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("イベントのJSON変換に失敗しました: %w", err)
	}
	return kafka.Message{
		Key:   []byte(event.IncidentID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "schema_version", Value: []byte(fmt.Sprintf("%d", schemaVersion))},
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "mode", Value: []byte(event.Mode)},
		},
		Time: event.OccurredAt,
	}, nil
}

// Nop はイベントを配信しないPublisher。ブローカー未設定時に使う。
type Nop struct{}

func (Nop) Publish(context.Context, IncidentEvent) error { return nil }
func (Nop) Close() error                                 { return nil }

var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = Nop{}
)
