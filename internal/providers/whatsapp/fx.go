package whatsapp

import (
	"github.com/smallbiznis/rentledger/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.whatsapp",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config) Provider {
	client := NewEvolutionClient(Config{
		BaseURL: cfg.Evolution.BaseURL,
		APIKey:  cfg.Evolution.APIKey,
		Timeout: cfg.Evolution.Timeout,
	})
	if !client.Enabled() {
		return &NoOpProvider{}
	}
	return client
}
