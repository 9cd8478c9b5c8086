package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/mubai-gl/monoshop/internal/messaging/kafka"
)

// splitBrokers превращает строку конфигурации в список адресов брокеров,
// отбрасывая пустые элементы вида "host1,,host2".
func splitBrokers(raw string) []string {
	parts := strings.Split(raw, ",")
	brokers := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			brokers = append(brokers, part)
		}
	}
	return brokers
}

// initKafkaProducer поднимает producer, когда брокеры заданы.
// Без брокеров сервис работает в режиме без Kafka и это не ошибка.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := splitBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		logger.WithError(err).Warn("kafka is unreachable, events will stay in the outbox")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}
