package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"ticket-engine/models"
	"ticket-engine/utils"
)

// Sandbox accepts every push without calling a provider. Callbacks are posted
// by hand or through the simulate endpoint in the flat PaymentCallback shape.
type Sandbox struct {
	mu     sync.Mutex
	pushes []PushRequest
}

func NewSandbox() *Sandbox {
	return &Sandbox{}
}

func (s *Sandbox) Provider() Provider {
	return ProviderSandbox
}

func (s *Sandbox) Push(ctx context.Context, req *PushRequest) (*PushResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	code, err := utils.GenerateCode(8)
	if err != nil {
		return nil, fmt.Errorf("sandbox: generate checkout id: %w", err)
	}

	s.mu.Lock()
	s.pushes = append(s.pushes, *req)
	s.mu.Unlock()

	return &PushResponse{
		CorrelationID:     "ws_CO_SBX_" + code,
		MerchantRequestID: "SBX-" + req.Reference,
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}

// Pushes returns the requests seen so far.
func (s *Sandbox) Pushes() []PushRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PushRequest(nil), s.pushes...)
}

func (s *Sandbox) ParseCallback(body []byte) (*models.PaymentCallback, error) {
	var cb models.PaymentCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("sandbox: decode callback: %w", err)
	}
	if cb.CorrelationID == "" {
		return nil, errors.New("sandbox: callback has no correlationId")
	}
	cb.Raw = append(json.RawMessage(nil), body...)
	return &cb, nil
}

func (s *Sandbox) Acknowledgement() any {
	return acceptedAck()
}
