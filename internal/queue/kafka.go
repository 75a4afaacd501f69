package queue

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer writes vehicle-keyed messages to one topic. Messages for the
// same vehicle land on the same partition, so consumers see them in order.
type Producer struct {
	topic  string
	writer *kafka.Writer
}

// NewProducer creates a producer for topic
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		topic: topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Publish writes value keyed by vehicleID and waits for the leader's ack
func (p *Producer) Publish(ctx context.Context, vehicleID string, value []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(vehicleID), Value: value})
	if err != nil {
		return fmt.Errorf("publish topic=%s vehicle=%s: %w", p.topic, vehicleID, err)
	}
	return nil
}

// Close flushes pending writes and closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer reads a topic as part of a consumer group. Offsets are only
// committed through Commit, so an unprocessed message is redelivered after
// a restart. A group with no committed offset starts at the oldest retained
// message.
type Consumer struct {
	topic  string
	reader *kafka.Reader
}

// NewConsumer creates a group consumer for topic
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	return &Consumer{
		topic: topic,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       1 << 20,
			MaxWait:        500 * time.Millisecond,
			CommitInterval: 0,
			StartOffset:    kafka.FirstOffset,
		}),
	}
}

// Consume blocks until the next message is available or ctx is done
func (c *Consumer) Consume(ctx context.Context) (kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("fetch topic=%s: %w", c.topic, err)
	}
	return msg, nil
}

// Commit marks msg as processed for the group
func (c *Consumer) Commit(ctx context.Context, msg kafka.Message) error {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("commit topic=%s partition=%d offset=%d: %w", c.topic, msg.Partition, msg.Offset, err)
	}
	return nil
}

// Close leaves the group and closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Stats returns reader statistics
func (c *Consumer) Stats() kafka.ReaderStats {
	return c.reader.Stats()
}

// CreateTopic creates topic through the cluster controller. The first
// reachable broker is used to find the controller. A topic that already
// exists is not an error.
func CreateTopic(brokers []string, topic string, numPartitions int, replicationFactor int) error {
	if len(brokers) == 0 {
		return errors.New("create topic: no brokers configured")
	}

	var (
		conn *kafka.Conn
		err  error
	)
	for _, b := range brokers {
		if conn, err = kafka.Dial("tcp", b); err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("create topic %s: dial brokers: %w", topic, err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("create topic %s: find controller: %w", topic, err)
	}

	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("create topic %s: dial controller: %w", topic, err)
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     numPartitions,
		ReplicationFactor: replicationFactor,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}

	fmt.Printf("Ensured topic %s with %d partitions\n", topic, numPartitions)
	return nil
}
