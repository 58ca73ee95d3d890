package generation

import (
	"context"

	"github.com/fitroom/fitroom-api/internal/pkg/inference"
)

// Provider runs one try-on and returns the result image URL.
type Provider interface {
	Run(ctx context.Context, req inference.Request) (string, error)
}

// InferenceProvider adapts the HTTP inference client to Provider.
type InferenceProvider struct {
	client *inference.Client
}

func NewInferenceProvider(client *inference.Client) *InferenceProvider {
	return &InferenceProvider{client: client}
}

func (p *InferenceProvider) Run(ctx context.Context, req inference.Request) (string, error) {
	res, err := p.client.TryOn(ctx, req)
	if err != nil {
		return "", err
	}
	return res.ResultURL, nil
}
