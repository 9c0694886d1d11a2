package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalizeURL_StripsTracking(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "utm params removed",
			in:   "https://www.leboncoin.fr/voitures/12345.htm?utm_source=alert&utm_medium=email",
			want: "https://www.leboncoin.fr/voitures/12345.htm",
		},
		{
			name: "mixed tracking and real params",
			in:   "https://www.autoscout24.fr/annonces/peugeot-207?page=2&utm_campaign=x&searchId=abc123",
			want: "https://www.autoscout24.fr/annonces/peugeot-207?page=2",
		},
		{
			name: "host and scheme lowercased",
			in:   "HTTPS://WWW.LaCentrale.FR/auto-occasion-annonce-123.html",
			want: "https://www.lacentrale.fr/auto-occasion-annonce-123.html",
		},
		{
			name: "fragment dropped",
			in:   "https://www.paruvendu.fr/a/voiture/clio#photos",
			want: "https://www.paruvendu.fr/a/voiture/clio",
		},
		{
			name: "trailing slash stripped",
			in:   "https://www.leboncoin.fr/voitures/12345/",
			want: "https://www.leboncoin.fr/voitures/12345",
		},
		{
			name: "ref and fbclid removed",
			in:   "https://example.fr/annonce/9?ref=home&fbclid=IwAR0&id=9",
			want: "https://example.fr/annonce/9?id=9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalizeURL(tt.in))
		})
	}
}

func TestCanonicalizeURL_Idempotent(t *testing.T) {
	inputs := []string{
		"https://www.leboncoin.fr/voitures/12345.htm?utm_source=alert&price=2500",
		"HTTP://Example.COM/a/b/?galleryMode=grid#frag",
		"https://www.autoscout24.fr/annonces/x?searchId=1&b=2&a=1",
		"not a url at all",
		"",
	}
	for _, in := range inputs {
		once := CanonicalizeURL(in)
		twice := CanonicalizeURL(once)
		assert.Equal(t, once, twice, "canonicalization must be idempotent for %q", in)
	}
}
