package secret

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    *Ref
		wantErr bool
	}{
		{
			name:  "store reference",
			input: "${secret:0b7e6a4c-1d2f-4a61-9b0e-3f9d2c1a7e55}",
			want: &Ref{
				Type:     "secret",
				Name:     "0b7e6a4c-1d2f-4a61-9b0e-3f9d2c1a7e55",
				Original: "${secret:0b7e6a4c-1d2f-4a61-9b0e-3f9d2c1a7e55}",
			},
		},
		{
			name:  "reference with spaces",
			input: "${secret: my key }",
			want: &Ref{
				Type:     "secret",
				Name:     "my key",
				Original: "${secret: my key }",
			},
		},
		{
			name:    "no colon",
			input:   "${secret-my-key}",
			wantErr: true,
		},
		{
			name:    "no closing brace",
			input:   "${secret:my-key",
			wantErr: true,
		},
		{
			name:    "embedded in text",
			input:   "prefix ${secret:abc}",
			wantErr: true,
		},
		{
			name:    "plain text",
			input:   "just-plain-text",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRef(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsRef(t *testing.T) {
	assert.True(t, IsRef("${secret:abc}"))
	assert.False(t, IsRef("${env:HOME}"))
	assert.False(t, IsRef("/Users/me/notes"))
}

func TestNewRefRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(t, "n")
		seen := make(map[string]bool, n)
		for i := 0; i < n; i++ {
			ref := NewRef()
			_, err := uuid.Parse(ref.Name)
			if err != nil {
				t.Fatalf("name is not a uuid: %v", err)
			}
			parsed, err := ParseRef(ref.String())
			if err != nil {
				t.Fatalf("generated ref does not parse: %v", err)
			}
			if parsed.Name != ref.Name || !IsRef(ref.Original) {
				t.Fatalf("round trip mismatch: %+v vs %+v", parsed, ref)
			}
			if seen[ref.Name] {
				t.Fatalf("duplicate name %s", ref.Name)
			}
			seen[ref.Name] = true
		}
	})
}

func TestMaskSecretValue(t *testing.T) {
	assert.Equal(t, "****", MaskSecretValue("abc"))
	assert.Equal(t, "ab****", MaskSecretValue("abcdef"))
	assert.Equal(t, "abc****yz", MaskSecretValue("abcdefghijklmnopqrstuvwxyz"))
}
