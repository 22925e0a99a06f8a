package mpesa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	SandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	ProductionBaseURL = "https://api.safaricom.co.ke"

	TransactionPayBill  = "CustomerPayBillOnline"
	TransactionBuyGoods = "CustomerBuyGoodsOnline"
)

type Config struct {
	BaseURL         string        `json:"baseUrl" mapstructure:"base_url"`
	ConsumerKey     string        `json:"consumerKey" mapstructure:"consumer_key"`
	ConsumerSecret  string        `json:"consumerSecret" mapstructure:"consumer_secret"`
	ShortCode       string        `json:"shortCode" mapstructure:"short_code"`
	PassKey         string        `json:"passKey" mapstructure:"pass_key"`
	CallbackURL     string        `json:"callbackUrl" mapstructure:"callback_url"`
	TransactionType string        `json:"transactionType" mapstructure:"transaction_type"`
	Timeout         time.Duration `json:"timeout" mapstructure:"timeout"`
}

func (c *Config) validate() error {
	switch {
	case c.ConsumerKey == "" || c.ConsumerSecret == "":
		return errors.New("mpesa: consumer key and secret are required")
	case c.ShortCode == "" || c.PassKey == "":
		return errors.New("mpesa: short code and pass key are required")
	case c.CallbackURL == "":
		return errors.New("mpesa: callback url is required")
	}
	return nil
}

type StkPushRequest struct {
	Phone            string
	Amount           decimal.Decimal
	AccountReference string
	Description      string
}

type StkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type Mpesa interface {
	StkPush(ctx context.Context, req *StkPushRequest) (*StkPushResponse, error)
}

func New(cfg *Config) (Mpesa, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return newClient(cfg), nil
}

// CallbackItem is one entry of CallbackMetadata.Item.
type CallbackItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value,omitempty"`
}

type Callback struct {
	MerchantRequestID string         `json:"MerchantRequestID"`
	CheckoutRequestID string         `json:"CheckoutRequestID"`
	ResultCode        int            `json:"ResultCode"`
	ResultDesc        string         `json:"ResultDesc"`
	Items             []CallbackItem `json:"-"`
}

type callbackEnvelope struct {
	Body struct {
		StkCallback *struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []CallbackItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseCallback decodes an STK push result webhook body.
func ParseCallback(body []byte) (*Callback, error) {
	var env callbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("mpesa: decode callback: %w", err)
	}
	stk := env.Body.StkCallback
	if stk == nil || stk.CheckoutRequestID == "" {
		return nil, errors.New("mpesa: callback has no stkCallback.CheckoutRequestID")
	}

	cb := &Callback{
		MerchantRequestID: stk.MerchantRequestID,
		CheckoutRequestID: stk.CheckoutRequestID,
		ResultCode:        stk.ResultCode,
		ResultDesc:        stk.ResultDesc,
	}
	if stk.CallbackMetadata != nil {
		cb.Items = stk.CallbackMetadata.Item
	}
	return cb, nil
}
