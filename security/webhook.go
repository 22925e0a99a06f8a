package security

import (
	"crypto/subtle"
	"strings"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"golang.org/x/crypto/bcrypt"
)

const WebhookSecretHeader = "X-Webhook-Secret"

// WebhookSecret checks the shared secret a payment provider sends with each
// callback. The configured value is either the secret itself or its bcrypt hash.
type WebhookSecret struct {
	configured string
	hashed     bool
}

func NewWebhookSecret(configured string) *WebhookSecret {
	return &WebhookSecret{
		configured: configured,
		hashed:     strings.HasPrefix(configured, "$2"),
	}
}

func (w *WebhookSecret) Enabled() bool {
	return w.configured != ""
}

func (w *WebhookSecret) Verify(presented string) bool {
	if !w.Enabled() {
		return true
	}
	if presented == "" {
		return false
	}
	if w.hashed {
		return bcrypt.CompareHashAndPassword([]byte(w.configured), []byte(presented)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(w.configured), []byte(presented)) == 1
}

// Middleware rejects callbacks without the right secret header.
func (w *WebhookSecret) Middleware() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if !w.Verify(e.Request.Header.Get(WebhookSecretHeader)) {
			return apis.NewUnauthorizedError("Invalid webhook secret", nil)
		}
		return e.Next()
	}
}
