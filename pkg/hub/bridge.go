package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/freightdesk/permitchat/pkg/model"
)

// bridgeFrame is the Kafka payload: one event plus its routing scope.
// Exactly one of Room or User is set.
type bridgeFrame struct {
	Room     string         `json:"room,omitempty"`
	User     string         `json:"user,omitempty"`
	Envelope model.Envelope `json:"envelope"`
}

// Bridge fans events out across gateway instances through Kafka. Every
// instance publishes to one topic and consumes it with a unique group id, so
// each broadcast reaches every gateway and each gateway delivers it to its
// own connections. Without a bridge the hub fans out in-process only.
type Bridge struct {
	writer *kafka.Writer
	reader *kafka.Reader
	logger *slog.Logger
	cancel context.CancelFunc
}

// NewBridge connects the hub to a Kafka topic.
func NewBridge(brokers []string, topic string, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	// Unique group per instance so every gateway sees every event.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     fmt.Sprintf("gateway-%d", time.Now().UnixNano()),
		StartOffset: kafka.LastOffset,
		MinBytes:    10e3,
		MaxBytes:    10e6,
	})
	return &Bridge{writer: writer, reader: reader, logger: logger}
}

func (b *Bridge) start(h *Hub) {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	go func() {
		for {
			m, err := b.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() == nil {
					b.logger.Error("bridge consumer stopped", "error", err)
				}
				return
			}

			var frame bridgeFrame
			if err := json.Unmarshal(m.Value, &frame); err != nil {
				b.logger.Warn("dropping malformed bridge frame", "error", err)
				continue
			}
			switch {
			case frame.Room != "":
				h.fanoutRoom(frame.Room, frame.Envelope)
			case frame.User != "":
				h.fanoutUser(frame.User, frame.Envelope)
			}
		}
	}()
}

func (b *Bridge) publish(frame bridgeFrame) {
	raw, err := json.Marshal(frame)
	if err != nil {
		b.logger.Error("encode bridge frame failed", "error", err)
		return
	}
	if err := b.writer.WriteMessages(context.Background(), kafka.Message{Value: raw, Time: time.Now()}); err != nil {
		b.logger.Error("bridge publish failed", "error", err)
	}
}

// Close stops the consumer and flushes the producer.
func (b *Bridge) Close() error {
	if b.cancel != nil {
		b.cancel()
	}
	rerr := b.reader.Close()
	werr := b.writer.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}
