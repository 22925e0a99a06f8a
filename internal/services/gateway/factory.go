package gateway

import (
	"fmt"

	"ticket-engine/internal/services/gateway/mpesa"
)

// Factory creates gateway instances based on provider type
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

// CreateGateway builds the gateway for provider; config must be the provider's own config type.
func (f *Factory) CreateGateway(provider Provider, config any) (Gateway, error) {
	switch provider {
	case ProviderMpesa:
		mpesaConfig, ok := config.(*mpesa.Config)
		if !ok {
			return nil, fmt.Errorf("invalid mpesa config type, expected *mpesa.Config")
		}
		return NewMpesaAdapter(mpesaConfig)

	case ProviderSandbox:
		return NewSandbox(), nil

	default:
		return nil, fmt.Errorf("unsupported payment provider %q, expected one of %v", provider, f.SupportedProviders())
	}
}

func (f *Factory) SupportedProviders() []Provider {
	return []Provider{
		ProviderMpesa,
		ProviderSandbox,
	}
}
