// Package mq 提供 Kafka 生产者、消费者与死信队列
package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/wyfcoding/proposalengine/pkg/logger"
)

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers        []string
	GroupID        string
	SessionTimeout int
	MaxRetries     int
	RetryBackoff   int
}

// KafkaProducer Kafka 生产者
type KafkaProducer struct {
	writer *kafka.Writer
}

// NewProducer 创建 Kafka 生产者
func NewProducer(cfg KafkaConfig) *KafkaProducer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Compression:            kafka.Gzip,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            cfg.MaxRetries,
		WriteBackoffMin:        time.Duration(cfg.RetryBackoff) * time.Millisecond,
		WriteBackoffMax:        time.Duration(cfg.RetryBackoff*10) * time.Millisecond,
	}
	logger.Info(context.Background(), "Kafka producer created", "brokers", cfg.Brokers)
	return &KafkaProducer{writer: writer}
}

// SendMessage 发送单条 JSON 消息，同一 key 落在同一分区
func (kp *KafkaProducer) SendMessage(ctx context.Context, topic, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	msg := kafka.Message{Topic: topic, Key: []byte(key), Value: data}
	if err := kp.writer.WriteMessages(ctx, msg); err != nil {
		logger.Error(ctx, "Failed to send Kafka message", "topic", topic, "key", key, "error", err)
		return err
	}
	logger.Debug(ctx, "Kafka message sent", "topic", topic, "key", key)
	return nil
}

// Close 关闭生产者
func (kp *KafkaProducer) Close() error {
	return kp.writer.Close()
}

// Message Kafka 消息结构
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       string
	Value     []byte
	Time      time.Time
	raw       kafka.Message
}

// UnmarshalPayload 将消息值解析为 JSON
func (m *Message) UnmarshalPayload(dest interface{}) error {
	return json.Unmarshal(m.Value, dest)
}

// Handler 消息处理函数
type Handler func(ctx context.Context, msg *Message) error

// KafkaConsumer Kafka 消费者，手动提交偏移量
type KafkaConsumer struct {
	reader *kafka.Reader
	topic  string
}

// NewConsumer 创建 Kafka 消费者
func NewConsumer(cfg KafkaConfig, topic string) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        cfg.GroupID,
		SessionTimeout: time.Duration(cfg.SessionTimeout) * time.Second,
		StartOffset:    kafka.LastOffset,
		MaxBytes:       10e6,
	})
	logger.Info(context.Background(), "Kafka consumer created",
		"brokers", cfg.Brokers,
		"topic", topic,
		"group_id", cfg.GroupID,
	)
	return &KafkaConsumer{reader: reader, topic: topic}
}

// Consume 循环拉取消息直到 ctx 取消；处理失败的消息转入死信队列后提交
func (kc *KafkaConsumer) Consume(ctx context.Context, handle Handler, dlq *DeadLetterQueue) error {
	for {
		km, err := kc.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			logger.Error(ctx, "Failed to fetch Kafka message", "topic", kc.topic, "error", err)
			return err
		}

		msg := &Message{
			Topic:     km.Topic,
			Partition: km.Partition,
			Offset:    km.Offset,
			Key:       string(km.Key),
			Value:     km.Value,
			Time:      km.Time,
			raw:       km,
		}
		if herr := handle(ctx, msg); herr != nil {
			logger.Warn(ctx, "Kafka message handling failed",
				"topic", msg.Topic,
				"offset", msg.Offset,
				"error", herr,
			)
			if dlq != nil {
				if derr := dlq.Send(ctx, msg, "handler_error", herr); derr != nil {
					// 死信写入失败时不提交，重启后重新消费
					return fmt.Errorf("dead letter: %w", derr)
				}
			}
		}

		if err := kc.reader.CommitMessages(ctx, msg.raw); err != nil {
			logger.Error(ctx, "Failed to commit Kafka offset", "topic", msg.Topic, "offset", msg.Offset, "error", err)
			return err
		}
	}
}

// Close 关闭消费者
func (kc *KafkaConsumer) Close() error {
	return kc.reader.Close()
}

// DeadLetterQueue 死信队列
type DeadLetterQueue struct {
	producer *KafkaProducer
	topic    string
}

// NewDeadLetterQueue 创建死信队列
func NewDeadLetterQueue(producer *KafkaProducer, topic string) *DeadLetterQueue {
	return &DeadLetterQueue{producer: producer, topic: topic}
}

// Send 发送消息到死信队列
func (dlq *DeadLetterQueue) Send(ctx context.Context, original *Message, reason string, err error) error {
	return dlq.producer.SendMessage(ctx, dlq.topic, original.Key, map[string]interface{}{
		"original_topic":    original.Topic,
		"original_key":      original.Key,
		"original_value":    string(original.Value),
		"original_offset":   original.Offset,
		"original_time":     original.Time,
		"failure_reason":    reason,
		"failure_error":     err.Error(),
		"failure_timestamp": time.Now(),
	})
}
