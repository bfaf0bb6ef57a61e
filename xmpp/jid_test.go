package xmpp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    JID
		wantErr bool
	}{
		{
			name:  "full jid",
			input: "romeo@montague.lit/orchard",
			want:  JID{Local: "romeo", Domain: "montague.lit", Resource: "orchard"},
		},
		{
			name:  "bare jid",
			input: "romeo@montague.lit",
			want:  JID{Local: "romeo", Domain: "montague.lit"},
		},
		{
			name:  "domain only",
			input: "montague.lit",
			want:  JID{Domain: "montague.lit"},
		},
		{
			name:  "resource with slash",
			input: "romeo@montague.lit/balcony/left",
			want:  JID{Local: "romeo", Domain: "montague.lit", Resource: "balcony/left"},
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
		{
			name:    "empty local",
			input:   "@montague.lit",
			wantErr: true,
		},
		{
			name:    "empty resource",
			input:   "romeo@montague.lit/",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidJID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.input, got.String())
		})
	}
}

func TestBareAndResource(t *testing.T) {
	assert.Equal(t, "romeo@montague.lit", Bare("romeo@montague.lit/orchard"))
	assert.Equal(t, "romeo@montague.lit", Bare("romeo@montague.lit"))
	assert.Equal(t, "orchard", Resource("romeo@montague.lit/orchard"))
	assert.Equal(t, "", Resource("romeo@montague.lit"))

	assert.False(t, IsBare("romeo@montague.lit/orchard"))
	assert.True(t, IsBare("romeo@montague.lit"))

	j, err := Parse("romeo@montague.lit/orchard")
	require.NoError(t, err)
	assert.Equal(t, "romeo@montague.lit", j.Bare())
	assert.False(t, j.IsBare())
	// Bare must not mutate the receiver's resource.
	assert.Equal(t, "orchard", j.Resource)
}

func TestSameBare(t *testing.T) {
	assert.True(t, SameBare("romeo@montague.lit/orchard", "romeo@montague.lit/balcony"))
	assert.True(t, SameBare("romeo@montague.lit", "romeo@montague.lit/balcony"))
	assert.False(t, SameBare("romeo@montague.lit/orchard", "juliet@capulet.lit/orchard"))
}
