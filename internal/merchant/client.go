// Package merchant is the HTTP client for the merchant platform: menu
// catalog, branches and order submission.
package merchant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sofrahq/sofra-gateway/internal/bot"
	"github.com/sofrahq/sofra-gateway/internal/model"
)

// catalogTTL bounds how stale menu data may get. The bootstrap worker
// refreshes entries by fetching through the same cache.
const catalogTTL = 5 * time.Minute

// Client talks to the merchant platform REST API. Catalog reads are cached
// per merchant; submissions never are.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client

	mu    sync.Mutex
	now   func() time.Time
	cache map[string]cacheEntry
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
		now:     time.Now,
		cache:   make(map[string]cacheEntry),
	}
}

func (c *Client) cached(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache[key]
	if !ok || !e.expiresAt.After(c.now()) {
		return nil, false
	}
	return e.value, true
}

func (c *Client) put(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = cacheEntry{value: v, expiresAt: c.now().Add(catalogTTL)}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("merchant api: %s returned %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) Categories(ctx context.Context, merchantID string) ([]bot.Category, error) {
	key := "cats:" + merchantID
	if v, ok := c.cached(key); ok {
		return v.([]bot.Category), nil
	}

	var out struct {
		Categories []bot.Category `json:"categories"`
	}
	if err := c.get(ctx, "/v1/merchants/"+merchantID+"/categories", &out); err != nil {
		return nil, err
	}
	c.put(key, out.Categories)
	return out.Categories, nil
}

func (c *Client) Items(ctx context.Context, merchantID, categoryID string) ([]bot.Item, error) {
	key := "items:" + merchantID + ":" + categoryID
	if v, ok := c.cached(key); ok {
		return v.([]bot.Item), nil
	}

	var out struct {
		Items []bot.Item `json:"items"`
	}
	if err := c.get(ctx, "/v1/merchants/"+merchantID+"/categories/"+categoryID+"/items", &out); err != nil {
		return nil, err
	}
	c.put(key, out.Items)
	return out.Items, nil
}

func (c *Client) Branches(ctx context.Context, merchantID string) ([]model.Branch, error) {
	key := "branches:" + merchantID
	if v, ok := c.cached(key); ok {
		return v.([]model.Branch), nil
	}

	var out struct {
		Branches []model.Branch `json:"branches"`
	}
	if err := c.get(ctx, "/v1/merchants/"+merchantID+"/branches", &out); err != nil {
		return nil, err
	}
	c.put(key, out.Branches)
	return out.Branches, nil
}

type submitRequest struct {
	MerchantID string              `json:"merchantId"`
	Type       model.OrderType     `json:"type"`
	Items      []model.OrderItem   `json:"items"`
	Total      int64               `json:"total"`
	Currency   string              `json:"currency"`
	Payment    model.PaymentMethod `json:"payment"`
	Customer   string              `json:"customer"`

	Address *model.DeliveryAddress `json:"address,omitempty"`
	Branch  *model.Branch          `json:"branch,omitempty"`
}

type submitResponse struct {
	OrderNumber string `json:"orderNumber"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Submit posts the order and returns the platform's order number. Rejections
// come back as SubmitError so the bot can answer in the customer's language.
func (c *Client) Submit(ctx context.Context, t *model.Tenant, o *model.Order) (string, error) {
	if t.MerchantID == "" {
		return "", &model.SubmitError{Code: model.CodeMerchantNotConfigured, Message: "tenant has no merchant id"}
	}

	body, err := json.Marshal(submitRequest{
		MerchantID: t.MerchantID,
		Type:       o.Type,
		Items:      o.Items,
		Total:      o.Total,
		Currency:   o.Currency,
		Payment:    o.Payment,
		Customer:   customerOf(o),
		Address:    o.Address,
		Branch:     o.Branch,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &model.SubmitError{Code: model.CodeAPIError, Message: err.Error()}
	}
	defer resp.Body.Close()

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && resp.StatusCode == http.StatusOK {
		return "", &model.SubmitError{Code: model.CodeAPIError, Message: "malformed platform response"}
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		se := &model.SubmitError{Code: model.CodeAPIError, Message: out.Message}
		if out.Code != "" {
			se.Code = model.ErrorCode(out.Code)
		}
		if se.Message == "" {
			se.Message = fmt.Sprintf("platform returned %d", resp.StatusCode)
		}
		return "", se
	}
	return out.OrderNumber, nil
}

// customerOf digs the customer address out of the order's conversation id
// context; the platform only needs an opaque reference.
func customerOf(o *model.Order) string {
	return o.ConversationID.String()
}
