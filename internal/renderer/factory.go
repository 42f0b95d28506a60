package renderer

import (
	"fmt"
	"net/http"

	"github.com/stwalsh4118/hermes-playout/internal/config"
)

// Factory builds a producer for a channel
type Factory func(channelID string) (Producer, error)

// NewFactory returns the producer factory selected by cfg.Mode
func NewFactory(cfg config.RendererConfig) (Factory, error) {
	switch cfg.Mode {
	case config.RendererModeFake:
		return func(channelID string) (Producer, error) {
			return NewFakeProducer(FakeConfig{
				ChannelID:     channelID,
				ChunkSize:     cfg.ChunkSize,
				ChunkInterval: cfg.ChunkInterval,
			}), nil
		}, nil
	case config.RendererModeAir:
		client := &http.Client{}
		return func(channelID string) (Producer, error) {
			return NewAirClient(cfg.AirBaseURL, channelID, client), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown renderer mode %q", cfg.Mode)
	}
}

// NewProducer builds a single producer for channelID
func NewProducer(cfg config.RendererConfig, channelID string) (Producer, error) {
	factory, err := NewFactory(cfg)
	if err != nil {
		return nil, err
	}
	return factory(channelID)
}
