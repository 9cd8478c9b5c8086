// Утилита повторной отправки событий из DLQ. Outbox-воркер складывает туда
// события, которые не удалось опубликовать; после починки брокера или схемы
// их можно вернуть в основной топик этой командой. По умолчанию dry-run.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/mubai-gl/monoshop/internal/messaging/kafka"
)

const (
	defaultScanLimit   = 100
	defaultIdleTimeout = 2 * time.Second
)

type config struct {
	brokers     []string
	dlqTopic    string
	targetTopic string
	limit       int
	idleTimeout time.Duration
	execute     bool
}

// dlqRecord повторяет payload, который outbox-воркер кладёт в DLQ.
type dlqRecord struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
}

// wireEnvelope повторяет конверт OutboxTopicPublisher: снаружи DLQ-записи
// лежит тот же конверт, что и у обычных outbox-сообщений.
type wireEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

type offsetReader interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, at int64) (int64, error)
}

type messageStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type streamSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (messageStream, error)
}

type eventSink interface {
	SendMessage(msg *sarama.ProducerMessage) (int32, int64, error)
}

type replaySummary struct {
	scanned  int
	replayed int
	skipped  int
}

// replayer вычитывает DLQ-топик и возвращает события в целевой топик.
type replayer struct {
	cfg     config
	offsets offsetReader
	source  streamSource
	sink    eventSink
	logger  *log.Entry
}

func (r *replayer) run(ctx context.Context) (replaySummary, error) {
	var total replaySummary

	partitions, err := r.offsets.Partitions(r.cfg.dlqTopic)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", r.cfg.dlqTopic, err)
	}
	if len(partitions) == 0 {
		r.logger.WithField("topic", r.cfg.dlqTopic).Warn("dlq topic has no partitions")
		return total, nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		remaining := r.cfg.limit - total.scanned
		if remaining <= 0 {
			break
		}

		part, err := r.scanPartition(ctx, partition, remaining)
		if err != nil {
			return total, err
		}
		total.scanned += part.scanned
		total.replayed += part.replayed
		total.skipped += part.skipped
	}

	return total, nil
}

func (r *replayer) scanPartition(ctx context.Context, partition int32, limit int) (replaySummary, error) {
	var part replaySummary

	oldest, err := r.offsets.GetOffset(r.cfg.dlqTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return part, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	newest, err := r.offsets.GetOffset(r.cfg.dlqTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return part, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return part, nil
	}

	stream, err := r.source.ConsumePartition(r.cfg.dlqTopic, partition, oldest)
	if err != nil {
		return part, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = stream.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for part.scanned < limit {
		select {
		case <-ctx.Done():
			return part, ctx.Err()
		case streamErr := <-stream.Errors():
			if streamErr != nil {
				return part, fmt.Errorf("partition %d stream: %w", partition, streamErr)
			}
		case msg, ok := <-stream.Messages():
			if !ok || msg == nil {
				return part, nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.cfg.idleTimeout)

			if msg.Offset >= newest {
				return part, nil
			}

			part.scanned++
			if err := r.handleMessage(msg, &part); err != nil {
				return part, err
			}

			if msg.Offset+1 >= newest {
				return part, nil
			}
		case <-idle.C:
			return part, nil
		}
	}

	return part, nil
}

func (r *replayer) handleMessage(msg *sarama.ConsumerMessage, part *replaySummary) error {
	event, err := rebuildEvent(msg.Value)
	if err != nil {
		part.skipped++
		r.logger.WithError(err).WithFields(log.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Warn("skipping unreadable dlq message")
		return nil
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	if !r.cfg.execute {
		r.logger.WithFields(log.Fields{
			"partition":  msg.Partition,
			"offset":     msg.Offset,
			"event_type": event.EventType,
			"key":        key,
		}).Info("would replay dlq message")
		part.replayed++
		return nil
	}

	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode replay event: %w", err)
	}

	_, _, err = r.sink.SendMessage(&sarama.ProducerMessage{
		Topic:     r.cfg.targetTopic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(encoded),
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("replay message at offset %d: %w", msg.Offset, err)
	}

	part.replayed++
	return nil
}

// rebuildEvent разворачивает DLQ-запись обратно в исходный outbox-конверт.
func rebuildEvent(raw []byte) (wireEnvelope, error) {
	var outer wireEnvelope
	if err := json.Unmarshal(raw, &outer); err != nil {
		return wireEnvelope{}, fmt.Errorf("decode dlq envelope: %w", err)
	}
	if len(outer.Payload) == 0 {
		return wireEnvelope{}, errors.New("dlq envelope has no payload")
	}

	var record dlqRecord
	if err := json.Unmarshal(outer.Payload, &record); err != nil {
		return wireEnvelope{}, fmt.Errorf("decode dlq record: %w", err)
	}
	if len(record.Payload) == 0 {
		return wireEnvelope{}, errors.New("dlq record has no original event payload")
	}

	return wireEnvelope{
		ID:            firstNonEmpty(record.OutboxID, outer.ID),
		AggregateType: firstNonEmpty(record.AggregateType, outer.AggregateType),
		AggregateID:   firstNonEmpty(record.AggregateID, outer.AggregateID),
		EventType:     firstNonEmpty(record.EventType, outer.EventType),
		Payload:       record.Payload,
		PublishedAt:   time.Now().UTC(),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func readConfig() (config, error) {
	var (
		cfg        config
		brokersRaw string
	)

	flag.StringVar(&brokersRaw, "brokers", "", "comma-separated Kafka brokers (fallback: KAFKA_BROKERS)")
	flag.StringVar(&cfg.dlqTopic, "dlq-topic", kafka.TopicDeadLetterQueue, "topic to read dead letters from")
	flag.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicOrderEvents, "topic to replay events into")
	flag.IntVar(&cfg.limit, "limit", defaultScanLimit, "max messages to scan")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this much silence")
	flag.BoolVar(&cfg.execute, "execute", false, "actually publish; without it the tool only reports candidates")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("KAFKA_BROKERS")
	}
	for _, chunk := range strings.Split(brokersRaw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			cfg.brokers = append(cfg.brokers, broker)
		}
	}

	if len(cfg.brokers) == 0 {
		return config{}, errors.New("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	}
	if strings.TrimSpace(cfg.dlqTopic) == "" {
		return config{}, errors.New("dlq-topic is required")
	}
	if strings.TrimSpace(cfg.targetTopic) == "" {
		return config{}, errors.New("target-topic is required")
	}
	if cfg.limit <= 0 {
		return config{}, errors.New("limit must be > 0")
	}
	if cfg.idleTimeout <= 0 {
		return config{}, errors.New("idle-timeout must be > 0")
	}

	return cfg, nil
}

type saramaStreamSource struct {
	consumer sarama.Consumer
}

func (s saramaStreamSource) ConsumePartition(topic string, partition int32, offset int64) (messageStream, error) {
	return s.consumer.ConsumePartition(topic, partition, offset)
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig()
	if err != nil {
		fail("invalid config: %v", err)
	}

	clientConfig := sarama.NewConfig()
	clientConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, clientConfig)
	if err != nil {
		fail("create kafka client: %v", err)
	}
	defer func() { _ = client.Close() }()

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		fail("create kafka consumer: %v", err)
	}
	defer func() { _ = consumer.Close() }()

	r := &replayer{
		cfg:     cfg,
		offsets: client,
		source:  saramaStreamSource{consumer: consumer},
		logger:  log.WithField("component", "dlq-reprocess"),
	}

	if cfg.execute {
		producerConfig := sarama.NewConfig()
		producerConfig.Producer.RequiredAcks = sarama.WaitForAll
		producerConfig.Producer.Retry.Max = 5
		producerConfig.Producer.Return.Successes = true
		producerConfig.Producer.Compression = sarama.CompressionSnappy
		producerConfig.Producer.Idempotent = true
		producerConfig.Net.MaxOpenRequests = 1

		producer, err := sarama.NewSyncProducer(cfg.brokers, producerConfig)
		if err != nil {
			fail("create kafka producer: %v", err)
		}
		defer func() { _ = producer.Close() }()
		r.sink = producer
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	r.logger.WithFields(log.Fields{
		"mode":         mode,
		"dlq_topic":    cfg.dlqTopic,
		"target_topic": cfg.targetTopic,
		"limit":        cfg.limit,
	}).Info("starting dlq replay")

	summary, err := r.run(context.Background())
	if err != nil {
		fail("dlq replay failed: %v", err)
	}

	r.logger.WithFields(log.Fields{
		"mode":     mode,
		"scanned":  summary.scanned,
		"replayed": summary.replayed,
		"skipped":  summary.skipped,
	}).Info("dlq replay finished")
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
