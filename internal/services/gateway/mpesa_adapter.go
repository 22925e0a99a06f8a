package gateway

import (
	"context"
	"fmt"

	"ticket-engine/internal/services/gateway/mpesa"
	"ticket-engine/models"
)

// MpesaAdapter wraps the Daraja STK push client to conform to Gateway.
type MpesaAdapter struct {
	client mpesa.Mpesa
}

func NewMpesaAdapter(config *mpesa.Config) (*MpesaAdapter, error) {
	client, err := mpesa.New(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create mpesa client: %w", err)
	}
	return &MpesaAdapter{client: client}, nil
}

func (m *MpesaAdapter) Provider() Provider {
	return ProviderMpesa
}

func (m *MpesaAdapter) Push(ctx context.Context, req *PushRequest) (*PushResponse, error) {
	res, err := m.client.StkPush(ctx, &mpesa.StkPushRequest{
		Phone:            req.Phone,
		Amount:           req.Amount,
		AccountReference: req.Reference,
		Description:      req.Description,
	})
	if err != nil {
		return nil, err
	}
	return &PushResponse{
		CorrelationID:     res.CheckoutRequestID,
		MerchantRequestID: res.MerchantRequestID,
		CustomerMessage:   res.CustomerMessage,
	}, nil
}

func (m *MpesaAdapter) ParseCallback(body []byte) (*models.PaymentCallback, error) {
	cb, err := mpesa.ParseCallback(body)
	if err != nil {
		return nil, err
	}

	items := make([]models.MetadataItem, 0, len(cb.Items))
	for _, item := range cb.Items {
		items = append(items, models.MetadataItem{Name: item.Name, Value: item.Value})
	}

	raw := make([]byte, len(body))
	copy(raw, body)

	return &models.PaymentCallback{
		CorrelationID:     cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		ResultDescription: cb.ResultDesc,
		MetadataItems:     items,
		Raw:               raw,
	}, nil
}

func (m *MpesaAdapter) Acknowledgement() any {
	return acceptedAck()
}
