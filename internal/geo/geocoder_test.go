package geo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReverseGeocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("lat") != "24.711667" {
			t.Errorf("lat = %s", r.URL.Query().Get("lat"))
		}
		json.NewEncoder(w).Encode(map[string]string{"display_name": "شارع العليا، الرياض"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	addr, err := c.ReverseGeocode(context.Background(), 24.711667, 46.674722)
	if err != nil {
		t.Fatal(err)
	}
	if addr != "شارع العليا، الرياض" {
		t.Errorf("address = %q", addr)
	}
}

func TestReverseGeocodeEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.ReverseGeocode(context.Background(), 0, 0); err == nil {
		t.Error("expected an error for an empty result")
	}
}
