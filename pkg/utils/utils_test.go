package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewUUID(t *testing.T) {
	uuid := NewUUID()
	assert.NotEmpty(t, uuid.String())
}

func TestIsValidUUID(t *testing.T) {
	assert.True(t, IsValidUUID(NewUUID().String()))
	assert.False(t, IsValidUUID("not-a-uuid"))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "", FormatBytes(nil))
	assert.Equal(t, "00", FormatBytes([]byte{0}))
	assert.Equal(t, "02 3B 01 00 00 00 00 00 CA 91", FormatBytes([]byte{0x02, 0x3B, 0x01, 0, 0, 0, 0, 0, 0xCA, 0x91}))
}
