package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// tokenSkew renews the token this long before the provider expires it.
const tokenSkew = time.Minute

type client struct {
	// baseURL is the Daraja API root.
	baseURL string

	consumerKey     string
	consumerSecret  string
	shortCode       string
	passKey         string
	callbackURL     string
	transactionType string

	// mu guards accessToken and tokenExpiry.
	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time

	now func() time.Time
	hc  *http.Client
}

func newClient(c *Config) *client {
	baseURL := strings.TrimRight(c.BaseURL, "/")
	if baseURL == "" {
		baseURL = SandboxBaseURL
	}
	txType := c.TransactionType
	if txType == "" {
		txType = TransactionPayBill
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &client{
		baseURL:         baseURL,
		consumerKey:     c.ConsumerKey,
		consumerSecret:  c.ConsumerSecret,
		shortCode:       c.ShortCode,
		passKey:         c.PassKey,
		callbackURL:     c.CallbackURL,
		transactionType: txType,
		now:             time.Now,
		hc: &http.Client{
			Timeout: timeout,
		},
	}
}

// token returns a cached access token, fetching a new one when it is missing or about to expire.
func (c *client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	token, ttl, err := c.authenticate(ctx)
	if err != nil {
		return "", err
	}
	c.accessToken = token
	c.tokenExpiry = c.now().Add(ttl - tokenSkew)
	return token, nil
}

func (c *client) invalidateToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = ""
}

// authenticate performs the client-credentials grant.
func (c *client) authenticate(ctx context.Context) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", 0, fmt.Errorf("authenticate: http.NewReq: %w", err)
	}
	req.Header.Set("Authorization", basicAuth(c.consumerKey, c.consumerSecret))

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("authenticate: http.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("authenticate: http.StatusCode: %d", resp.StatusCode)
	}

	var reply struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", 0, fmt.Errorf("authenticate: json.Decode: %w", err)
	}
	if reply.AccessToken == "" {
		return "", 0, errors.New("authenticate: empty access token")
	}

	seconds, err := strconv.Atoi(reply.ExpiresIn)
	if err != nil || seconds <= 0 {
		seconds = 3599
	}
	return reply.AccessToken, time.Duration(seconds) * time.Second, nil
}

type stkPushBody struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// StkPush sends a Lipa na M-Pesa Online request. Amounts are rounded up to whole shillings.
func (c *client) StkPush(ctx context.Context, r *StkPushRequest) (*StkPushResponse, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("stkPush: %w", err)
	}

	ts := Timestamp(c.now())
	desc := r.Description
	if desc == "" {
		desc = "Ticket purchase"
	}
	ref := r.AccountReference
	if len(ref) > 12 {
		ref = ref[:12]
	}

	body, err := json.Marshal(stkPushBody{
		BusinessShortCode: c.shortCode,
		Password:          Password(c.shortCode, c.passKey, ts),
		Timestamp:         ts,
		TransactionType:   c.transactionType,
		Amount:            r.Amount.Ceil().IntPart(),
		PartyA:            r.Phone,
		PartyB:            c.shortCode,
		PhoneNumber:       r.Phone,
		CallBackURL:       c.callbackURL,
		AccountReference:  ref,
		TransactionDesc:   desc,
	})
	if err != nil {
		return nil, fmt.Errorf("stkPush: json.Marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mpesa/stkpush/v1/processrequest", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("stkPush: http.NewReq: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stkPush: http.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.invalidateToken()
		return nil, errors.New("stkPush: resp.StatusCode: 401 => Unauthorized")
	}

	var reply struct {
		StkPushResponse
		RequestID    string `json:"requestId"`
		ErrorCode    string `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("stkPush: json.Decode (status %d): %w", resp.StatusCode, err)
	}
	if reply.ErrorCode != "" {
		return nil, fmt.Errorf("stkPush: errorCode: %s, errorMessage: %s", reply.ErrorCode, reply.ErrorMessage)
	}
	if resp.StatusCode != http.StatusOK || reply.ResponseCode != "0" {
		return nil, fmt.Errorf("stkPush: http.StatusCode: %d, ResponseCode: %q, ResponseDescription: %s",
			resp.StatusCode, reply.ResponseCode, reply.ResponseDescription)
	}
	if reply.CheckoutRequestID == "" {
		return nil, errors.New("stkPush: response has no CheckoutRequestID")
	}

	res := reply.StkPushResponse
	return &res, nil
}
