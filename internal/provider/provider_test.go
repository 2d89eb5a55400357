package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/sofrahq/sofra-gateway/internal/model"
)

func TestSignatureRoundTrip(t *testing.T) {
	form := url.Values{}
	form.Set("From", "whatsapp:+201000000001")
	form.Set("To", "whatsapp:+966500000001")
	form.Set("Body", "hello")
	form.Set("MessageSid", "SM123")

	rawURL := "https://gw.example.com/whatsapp/webhook"
	sig := Signature("secret", rawURL, form)

	if !ValidSignature("secret", rawURL, form, sig) {
		t.Error("signature must validate against itself")
	}
	if ValidSignature("other", rawURL, form, sig) {
		t.Error("wrong secret must not validate")
	}

	form.Set("Body", "tampered")
	if ValidSignature("secret", rawURL, form, sig) {
		t.Error("tampered form must not validate")
	}
}

func TestSignatureParamOrderIndependent(t *testing.T) {
	// Construction order must not matter: params are sorted before signing.
	a := url.Values{}
	a.Set("Zebra", "1")
	a.Set("Alpha", "2")

	b := url.Values{}
	b.Set("Alpha", "2")
	b.Set("Zebra", "1")

	rawURL := "https://gw.example.com/whatsapp/webhook"
	if Signature("s", rawURL, a) != Signature("s", rawURL, b) {
		t.Error("signature must be independent of param insertion order")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{429, true},
		{500, true},
		{503, true},
		{400, false},
		{401, false},
		{404, false},
		{422, false},
	}
	for _, c := range cases {
		if got := classify(c.status); got != c.transient {
			t.Errorf("classify(%d) = %v, want %v", c.status, got, c.transient)
		}
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(errors.New("dial tcp: i/o timeout")) {
		t.Error("network errors must be transient")
	}
	if IsTransient(&Error{Status: 400, Transient: false}) {
		t.Error("terminal provider error must not be transient")
	}
	if !IsTransient(fmt.Errorf("send: %w", &Error{Status: 503, Transient: true})) {
		t.Error("wrapped transient error must stay transient")
	}
	if IsTransient(nil) {
		t.Error("nil is not an error")
	}
}

func TestSendFreeform(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotForm = r.PostForm
		user, _, _ := r.BasicAuth()
		if user != "AC123" {
			t.Errorf("basic auth user = %q", user)
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"sid":"SM999","status":"queued"}`)
	}))
	defer srv.Close()

	c := NewTwilioClient(srv.URL)
	res, err := c.Send(context.Background(), "AC123", "secret", SendRequest{
		From:    "+201000000001",
		To:      "+966500000001",
		Channel: model.ChannelFreeform,
		Body:    "hello",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.ProviderID != "SM999" {
		t.Errorf("provider id = %q, want SM999", res.ProviderID)
	}
	if gotForm.Get("From") != "whatsapp:+201000000001" {
		t.Errorf("From = %q, want channel prefix", gotForm.Get("From"))
	}
	if gotForm.Get("Body") != "hello" {
		t.Errorf("Body = %q", gotForm.Get("Body"))
	}
}

func TestSendTemplate(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotForm = r.PostForm
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"sid":"SM1000","status":"queued"}`)
	}))
	defer srv.Close()

	c := NewTwilioClient(srv.URL)
	_, err := c.Send(context.Background(), "AC123", "secret", SendRequest{
		From:    "+201000000001",
		To:      "+966500000001",
		Channel: model.ChannelTemplate,
		Template: &model.TemplateDescriptor{
			SID:          "HX1",
			FriendlyName: "order_update",
			Variables:    map[string]string{"1": "Sofra"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotForm.Get("ContentSid") != "HX1" {
		t.Errorf("ContentSid = %q", gotForm.Get("ContentSid"))
	}
	if gotForm.Get("ContentVariables") == "" {
		t.Error("ContentVariables must carry the variable map")
	}
	if gotForm.Get("Body") != "" {
		t.Error("template sends must not carry a Body")
	}
}

func TestSendTemplateWithoutDescriptor(t *testing.T) {
	c := NewTwilioClient("http://127.0.0.1:0")
	_, err := c.Send(context.Background(), "AC123", "secret", SendRequest{
		From:    "+201000000001",
		To:      "+966500000001",
		Channel: model.ChannelTemplate,
	})
	if err == nil {
		t.Fatal("template send without descriptor must fail before any request")
	}
}

func TestSendRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":21211,"message":"invalid To number"}`)
	}))
	defer srv.Close()

	c := NewTwilioClient(srv.URL)
	_, err := c.Send(context.Background(), "AC123", "secret", SendRequest{
		From:    "+201000000001",
		To:      "+bogus",
		Channel: model.ChannelFreeform,
		Body:    "hello",
	})
	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if pe.Code != 21211 || pe.Transient {
		t.Errorf("err = %+v, want terminal code 21211", pe)
	}
}

func TestSendRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"code":20429,"message":"too many requests"}`)
	}))
	defer srv.Close()

	c := NewTwilioClient(srv.URL)
	_, err := c.Send(context.Background(), "AC123", "secret", SendRequest{
		From:    "+201000000001",
		To:      "+966500000001",
		Channel: model.ChannelFreeform,
		Body:    "hello",
	})
	if !IsTransient(err) {
		t.Errorf("429 must be transient, got %v", err)
	}
}
