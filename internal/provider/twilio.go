package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sofrahq/sofra-gateway/internal/model"
	"github.com/sofrahq/sofra-gateway/internal/phone"
)

const (
	defaultBaseURL = "https://api.twilio.com/2010-04-01"
	sendTimeout    = 10 * time.Second
)

// TwilioClient sends messages through the Twilio Messaging API. Credentials
// are passed per call: each tenant carries its own subaccount.
type TwilioClient struct {
	baseURL string
	http    *http.Client
}

// NewTwilioClient builds a client against the production API. baseURL
// overrides the endpoint for tests; empty means production.
func NewTwilioClient(baseURL string) *TwilioClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &TwilioClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: sendTimeout},
	}
}

type twilioResponse struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    int    `json:"code"`
	ErrorMessage string `json:"message"`
}

func (c *TwilioClient) Send(ctx context.Context, account, secret string, req SendRequest) (SendResult, error) {
	form := url.Values{}
	form.Set("From", phone.WithChannel(req.From))
	form.Set("To", phone.WithChannel(req.To))

	switch req.Channel {
	case model.ChannelTemplate:
		if req.Template == nil {
			return SendResult{}, fmt.Errorf("twilio: template channel without descriptor")
		}
		form.Set("ContentSid", req.Template.SID)
		if len(req.Template.Variables) > 0 {
			vars, err := json.Marshal(req.Template.Variables)
			if err != nil {
				return SendResult{}, err
			}
			form.Set("ContentVariables", string(vars))
		}
	default:
		form.Set("Body", req.Body)
		if req.MediaURL != "" {
			form.Set("MediaUrl", req.MediaURL)
		}
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.baseURL, account)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return SendResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(account, secret)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		// Timeouts and connection failures: the message may or may not have
		// been accepted, so retry with the same idempotent request id.
		return SendResult{}, fmt.Errorf("twilio: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SendResult{}, fmt.Errorf("twilio: reading response: %w", err)
	}

	var tr twilioResponse
	if err := json.Unmarshal(body, &tr); err != nil && resp.StatusCode < 300 {
		return SendResult{}, fmt.Errorf("twilio: decoding response: %w", err)
	}

	if resp.StatusCode >= 300 {
		log.Warn().
			Int("status", resp.StatusCode).
			Int("code", tr.ErrorCode).
			Str("to", req.To).
			Msg("provider rejected send")
		return SendResult{}, &Error{
			Status:    resp.StatusCode,
			Code:      tr.ErrorCode,
			Message:   tr.ErrorMessage,
			Transient: classify(resp.StatusCode),
		}
	}

	return SendResult{ProviderID: tr.SID, Status: tr.Status}, nil
}
