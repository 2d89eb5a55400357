package phone

import "testing"

func TestCanonical(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"whatsapp:+966500000001", "+966500000001", false},
		{"+966500000001", "+966500000001", false},
		{"966500000001", "+966500000001", false},
		{"00966500000001", "+966500000001", false},
		{"011966500000001", "+966500000001", false},
		{"+1 (415) 555-0100", "+14155550100", false},
		{"whatsapp:+20 100 000 0001", "+201000000001", false},
		{"", "", true},
		{"whatsapp:", "", true},
		{"abc123", "", true},
		{"+12", "", true},                  // too short
		{"+1234567890123456", "", true},    // too long
		{"0500000001", "", true},           // national format, ambiguous
		{"+966-50+000", "", true},          // plus not at start
	}

	for _, tc := range cases {
		got, err := Canonical(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("Canonical(%q): expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Canonical(%q): unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Canonical(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCanonicalIdempotent(t *testing.T) {
	first, err := Canonical("whatsapp:00966500000001")
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	second, err := Canonical(first)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if first != second {
		t.Errorf("Canonical is not idempotent: %q != %q", first, second)
	}
}

func TestStripChannel(t *testing.T) {
	if got := StripChannel("whatsapp:+966500000001"); got != "+966500000001" {
		t.Errorf("StripChannel = %q", got)
	}
	if got := StripChannel("+966500000001"); got != "+966500000001" {
		t.Errorf("StripChannel without prefix = %q", got)
	}
}

func TestWithChannel(t *testing.T) {
	if got := WithChannel("+966500000001"); got != "whatsapp:+966500000001" {
		t.Errorf("WithChannel = %q", got)
	}
}
