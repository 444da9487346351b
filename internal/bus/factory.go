package bus

import (
	"fmt"
	"strings"

	"github.com/chongkelv123/prism-sub004/internal/config"
	"github.com/chongkelv123/prism-sub004/internal/pkg/errors"
	"github.com/chongkelv123/prism-sub004/internal/pkg/logger"
)

// NewBus creates a new Bus instance based on the configuration.
func NewBus(cfg config.BrokerConfig, log *logger.Logger) (Bus, error) {
	var deadLetter *DeadLetterLog
	if cfg.DeadLetterEnabled {
		var err error
		deadLetter, err = NewDeadLetterLog(cfg.DeadLetterPath, true)
		if err != nil {
			return nil, errors.Wrap(errors.CodeInternal, "failed to open dead-letter log", err)
		}
	}

	switch strings.ToLower(cfg.Type) {
	case "memory", "":
		return NewMemoryBus(log), nil

	case "rabbitmq":
		return NewRabbitBus(RabbitConfig{
			URL:      cfg.URL,
			Exchange: cfg.Exchange,
			Queue:    cfg.Queue,
			Bindings: cfg.Bindings,
			Source:   "prism-platform",
		}, log, deadLetter)

	case "kafka":
		brokers := ParseKafkaBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			return nil, errors.New(errors.CodeValidation, "kafka brokers not configured")
		}

		consumerGroup := cfg.KafkaGroup
		if consumerGroup == "" {
			consumerGroup = "prism-platform"
		}

		return NewKafkaBus(KafkaConfig{
			Brokers:       brokers,
			Topic:         cfg.KafkaTopic,
			ConsumerGroup: consumerGroup,
			ClientID:      "prism-platform-bus",
		}, log, deadLetter)

	default:
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown bus type: %s", cfg.Type))
	}
}
