package notify

import (
	"fmt"

	"github.com/amoylab/hostlink/internal/common/config"
	"go.uber.org/zap"
)

// Type represents the type of notifier
type Type string

const (
	TypeLog       Type = "log"
	TypeRedis     Type = "redis"
	TypeComposite Type = "composite"
)

// NewNotifier creates a notifier based on the configuration
func NewNotifier(logger *zap.Logger, cfg *config.NotifierConfig, redisCfg *config.RedisConfig) (Notifier, error) {
	switch Type(cfg.Type) {
	case TypeLog, "":
		return NewLogNotifier(logger), nil
	case TypeRedis:
		return NewRedisNotifier(logger, redisCfg, cfg.Stream)
	case TypeComposite:
		notifiers := []Notifier{NewLogNotifier(logger)}
		if redisCfg.Addr != "" {
			r, err := NewRedisNotifier(logger, redisCfg, cfg.Stream)
			if err != nil {
				return nil, err
			}
			notifiers = append(notifiers, r)
		}
		return NewCompositeNotifier(logger, notifiers...), nil
	default:
		return nil, fmt.Errorf("unknown notifier type: %s", cfg.Type)
	}
}
