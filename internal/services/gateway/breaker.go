package gateway

import (
	"context"
	"fmt"
	"time"

	"ticket-engine/utils"
)

type breakerGateway struct {
	Gateway
	cb      *utils.CircuitBreaker
	timeout time.Duration
}

// WithCircuitBreaker runs every Push through cb and bounds it by timeout.
// A zero timeout leaves the deadline to the caller.
func WithCircuitBreaker(g Gateway, cb *utils.CircuitBreaker, timeout time.Duration) Gateway {
	return &breakerGateway{Gateway: g, cb: cb, timeout: timeout}
}

func (b *breakerGateway) Push(ctx context.Context, req *PushRequest) (*PushResponse, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	res, err := b.cb.Execute(ctx, func() (any, error) {
		return b.Gateway.Push(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	resp, ok := res.(*PushResponse)
	if !ok {
		return nil, fmt.Errorf("gateway %s returned %T", b.Provider(), res)
	}
	return resp, nil
}
