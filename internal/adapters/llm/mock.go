package llm

import (
	"context"
	"fmt"

	"github.com/hjwen/counsel-agent/internal/domain"
)

// MockGateway echoes canned replies for local development without gateway
// credentials.
type MockGateway struct{}

var _ domain.ModelGateway = (*MockGateway)(nil)

func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

func (m *MockGateway) ResolveModel(id domain.ModelID) (string, error) {
	return resolve(id)
}

func (m *MockGateway) Complete(_ context.Context, id domain.ModelID, req domain.ChatRequest) (string, error) {
	model, err := resolve(id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("（%s 模拟回复）收到您的咨询：%s", model, req.User), nil
}

func (m *MockGateway) CompleteStream(ctx context.Context, id domain.ModelID, req domain.ChatRequest) (*domain.ChatStream, error) {
	model, err := resolve(id)
	if err != nil {
		return nil, err
	}

	reply, _ := m.Complete(ctx, id, req)
	tokens := make(chan string, 8)
	errs := make(chan error, 1)

	go func() {
		defer close(tokens)
		defer close(errs)
		for _, r := range reply {
			select {
			case tokens <- string(r):
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()

	return &domain.ChatStream{Model: model, Tokens: tokens, Err: errs}, nil
}
