package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pagevoice-labs/pagevoice-core/internal/bus"
	"github.com/pagevoice-labs/pagevoice-core/internal/protocol"
)

// MenuPublisher mirrors playback state onto the bus so menu and shortcut
// affordances enable the right entries.
type MenuPublisher struct {
	bus    *bus.Client
	logger *slog.Logger
}

func NewMenuPublisher(busClient *bus.Client, log *slog.Logger) *MenuPublisher {
	return &MenuPublisher{bus: busClient, logger: log.With(slog.String("component", "menu"))}
}

func (p *MenuPublisher) PublishMenuState(_ context.Context, playing bool) {
	data, err := json.Marshal(protocol.MenuState{Playing: playing, Timestamp: time.Now().UTC()})
	if err != nil {
		p.logger.Warn("failed to marshal menu state", slogError(err))
		return
	}
	if err := p.bus.Conn().Publish(protocol.SubjectMenuState, data); err != nil {
		p.logger.Warn("failed to publish menu state", slogError(err))
	}
}

// BusNotifier forwards user-facing notifications onto the bus.
type BusNotifier struct {
	bus    *bus.Client
	logger *slog.Logger
}

func NewBusNotifier(busClient *bus.Client, log *slog.Logger) *BusNotifier {
	return &BusNotifier{bus: busClient, logger: log.With(slog.String("component", "notifier"))}
}

func (n *BusNotifier) Notify(_ context.Context, note protocol.Notification) {
	data, err := json.Marshal(note)
	if err != nil {
		n.logger.Warn("failed to marshal notification", slogError(err))
		return
	}
	if err := n.bus.Conn().Publish(protocol.SubjectNotify, data); err != nil {
		n.logger.Warn("failed to publish notification", slogError(err))
	}
}
