// Package geo resolves shared-location pins into human-readable addresses.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

// Client reverse-geocodes against a Nominatim-compatible endpoint.
type Client struct {
	baseURL string
	lang    string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://nominatim.openstreetmap.org"
	}
	return &Client{
		baseURL: baseURL,
		lang:    "ar",
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
}

// ReverseGeocode returns a display address for the coordinates. Callers fall
// back to raw coordinates on error, so failures here only cost readability.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	q := url.Values{
		"format":          {"jsonv2"},
		"lat":             {fmt.Sprintf("%.6f", lat)},
		"lon":             {fmt.Sprintf("%.6f", lng)},
		"accept-language": {c.lang},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "sofra-gateway/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geocoder returned %d", resp.StatusCode)
	}

	var out reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.DisplayName == "" {
		log.Debug().Float64("lat", lat).Float64("lng", lng).Msg("geocoder found nothing")
		return "", fmt.Errorf("no address for %.6f,%.6f", lat, lng)
	}
	return out.DisplayName, nil
}
