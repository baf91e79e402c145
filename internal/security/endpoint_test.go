package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEndpointURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"public ip literal", "https://203.0.113.10/invoice", false},
		{"http scheme allowed", "http://203.0.113.10/invoice", false},
		{"loopback", "https://127.0.0.1/invoice", true},
		{"private range", "https://10.0.0.5/invoice", true},
		{"metadata endpoint", "http://169.254.169.254/latest/meta-data/", true},
		{"localhost by name", "http://localhost:8080/", true},
		{"gcp metadata host", "http://metadata.google.internal/", true},
		{"unspecified", "http://0.0.0.0/", true},
		{"bad scheme", "ftp://203.0.113.10/", true},
		{"no host", "https:///invoice", true},
		{"garbage", "::not a url::", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateEndpointURL(tc.url)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
