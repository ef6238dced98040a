package transport

import (
	"strings"
	"testing"
)

func TestValidateKeyspaceName(t *testing.T) {
	cases := []struct {
		name    string
		wantErr bool
	}{
		{"", true},
		{"my_keyspace", false},
		{"MyKeyspace123", false},
		{"bad-name", true},
		{"bad.name", true},
		{strings.Repeat("a", 48), false},
		{strings.Repeat("a", 49), true},
	}

	for _, tc := range cases {
		err := ValidateKeyspaceName(tc.name)
		if (err != nil) != tc.wantErr {
			t.Errorf("ValidateKeyspaceName(%q) error = %v, wantErr %v", tc.name, err, tc.wantErr)
		}
	}
}
