package securityindex

import "testing"

func TestCanonicalURL(t *testing.T) {
	tt := []struct {
		In   string
		Want string
	}{
		{"/kb/HT213983", "https://support.apple.com/en-us/HT213983"},
		{"https://support.apple.com/kb/HT213983", "https://support.apple.com/en-us/HT213983"},
		{"https://support.apple.com/en-ca/121837", "https://support.apple.com/en-us/121837"},
		{"https://support.apple.com/en-us/121837", "https://support.apple.com/en-us/121837"},
		{"/en-ca/122066", "https://support.apple.com/en-us/122066"},
		{"/fr-fr/122066", "https://support.apple.com/en-us/122066"},
		{"/HT213983", "https://support.apple.com/en-us/HT213983"},
		// Non-Apple hosts pass through untouched.
		{"https://example.com/en-ca/122066", "https://example.com/en-ca/122066"},
		{"http://127.0.0.1:8080/detail/one", "http://127.0.0.1:8080/detail/one"},
	}
	for _, tc := range tt {
		t.Run(tc.In, func(t *testing.T) {
			if got := CanonicalURL(tc.In); got != tc.Want {
				t.Errorf("got: %q, want: %q", got, tc.Want)
			}
		})
	}
}
