package bus

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New selects the event bus for the configured tier: the in-process
// ChannelBus for Community, NATS for Pro. Either way the topics are the
// fixed set declared in domain (transaction ingest, decisions, alerts).
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	}
	return nil, fmt.Errorf("unsupported event bus type: %q", cfg.Type)
}
