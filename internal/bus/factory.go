package bus

import (
	"fmt"
	"strings"

	"github.com/objectfinder/object-finder/internal/config"
	"github.com/objectfinder/object-finder/internal/pkg/errors"
	"github.com/objectfinder/object-finder/internal/pkg/logger"
)

// NewBus creates a new Bus instance based on the configuration. When
// cfg.EventLog is set the bus is wrapped in a LoggedBus.
func NewBus(cfg config.BusConfig, log *logger.Logger) (Bus, error) {
	if log == nil {
		log = logger.Discard()
	}

	var (
		b   Bus
		err error
	)

	switch strings.ToLower(cfg.Type) {
	case "memory", "":
		b = NewMemoryBus(log)

	case "kafka":
		brokers := ParseKafkaBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			return nil, errors.New(errors.CodeValidation, "kafka brokers not configured")
		}

		consumerGroup := cfg.KafkaGroup
		if consumerGroup == "" {
			consumerGroup = "object-finder"
		}

		b, err = NewKafkaBus(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: consumerGroup,
			ClientID:      "object-finder-bus",
			Logger:        log,
		})
		if err != nil {
			return nil, err
		}

	default:
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown bus type: %s", cfg.Type))
	}

	if cfg.EventLog == "" {
		return b, nil
	}

	el, err := NewEventLogger(cfg.EventLog, cfg.EventLogRetention)
	if err != nil {
		_ = b.Close()
		return nil, errors.Wrap(errors.CodeInternal, "failed to open event log", err)
	}

	return NewLoggedBus(b, el, log), nil
}
