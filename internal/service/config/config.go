package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyang/lead-mesh/internal/domain/distribution"
	"github.com/alanyang/lead-mesh/internal/domain/event"
	portconfig "github.com/alanyang/lead-mesh/internal/port/config"
	portbus "github.com/alanyang/lead-mesh/internal/port/eventbus"
)

// Service exposes the admin-editable distribution settings.
type Service struct {
	store portconfig.Store
	bus   portbus.EventBus
}

func NewService(store portconfig.Store, bus portbus.EventBus) *Service {
	return &Service{store: store, bus: bus}
}

// Get returns the effective configuration. A stored value the engine would not
// recognise is reported as the default it degrades to.
func (s *Service) Get(ctx context.Context) (distribution.Config, error) {
	raw, ok, err := s.store.Get(ctx, distribution.SettingKey)
	if err != nil {
		return distribution.Config{}, fmt.Errorf("get distribution config: %w", err)
	}
	if !ok {
		return distribution.Config{Algorithm: distribution.DefaultAlgorithm}, nil
	}
	algo, valid := distribution.ParseAlgorithm(raw)
	if !valid {
		slog.WarnContext(ctx, "distribution: stored algorithm is unknown", "configured", raw, "effective", algo)
	}
	return distribution.Config{Algorithm: algo}, nil
}

// SetAlgorithm validates and stores the algorithm. Unknown values are rejected here
// rather than silently degraded.
func (s *Service) SetAlgorithm(ctx context.Context, raw string) (distribution.Config, error) {
	algo, ok := distribution.ParseAlgorithm(raw)
	if !ok {
		return distribution.Config{}, fmt.Errorf("%w: %q", distribution.ErrInvalidAlgorithm, raw)
	}
	if err := s.store.Set(ctx, distribution.SettingKey, string(algo)); err != nil {
		return distribution.Config{}, fmt.Errorf("set distribution config: %w", err)
	}
	s.bus.Publish(ctx, event.New(event.TypeConfigUpdated, uuid.Nil)) //nolint:errcheck
	slog.InfoContext(ctx, "distribution algorithm updated", "algorithm", algo)
	return distribution.Config{Algorithm: algo}, nil
}
