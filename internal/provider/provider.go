// Package provider talks to the WhatsApp messaging provider: outbound sends,
// error classification and webhook signature validation.
package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"sort"

	"github.com/sofrahq/sofra-gateway/internal/model"
)

// SendRequest is one outbound message. From and To are canonical +E164; the
// client adds the channel prefix the provider expects.
type SendRequest struct {
	From     string
	To       string
	Channel  model.Channel
	Body     string
	MediaURL string
	Template *model.TemplateDescriptor // required when Channel is template
}

// SendResult is the provider's acknowledgement of an accepted message.
type SendResult struct {
	ProviderID string
	Status     string
}

// Sender submits messages using a tenant's own provider credentials.
type Sender interface {
	Send(ctx context.Context, account, secret string, req SendRequest) (SendResult, error)
}

// Error is a classified provider failure. Transient errors are worth
// retrying; terminal ones are not.
type Error struct {
	Status    int
	Code      int
	Message   string
	Transient bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider: status=%d code=%d %s", e.Status, e.Code, e.Message)
}

// IsTransient reports whether err is a provider failure worth retrying.
// Network errors (no *Error) always are: the request may never have arrived.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return true
}

// classify maps an HTTP status to retryability: 5xx and 429 are transient,
// every other 4xx is terminal.
func classify(status int) bool {
	return status >= 500 || status == 429
}

// Signature computes the request signature the provider attaches to
// webhooks: HMAC-SHA1 over the full URL followed by the form parameters
// sorted by key, each appended as key then value, base64-encoded.
func Signature(secret, rawURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(rawURL))
	for _, k := range keys {
		mac.Write([]byte(k))
		mac.Write([]byte(form.Get(k)))
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidSignature checks a webhook signature in constant time.
func ValidSignature(secret, rawURL string, form url.Values, got string) bool {
	want := Signature(secret, rawURL, form)
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
