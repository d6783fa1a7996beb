package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	lg, err := New("debug")
	require.NoError(t, err)
	require.NotNil(t, lg)

	_, err = New("loud")
	require.Error(t, err)

	lg, err = New("")
	require.NoError(t, err)
	assert.NotNil(t, lg)
}

func TestMaskVATNumber(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"DE123456789", "DE12***89"},
		{"ATU12345678", "ATU1***78"},
		{"DE1", "***"},
		{"", "***"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskVATNumber(tt.in))
		})
	}
}
