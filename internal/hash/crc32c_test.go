package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32C(t *testing.T) {
	// RFC 3720 check value for the Castagnoli polynomial.
	assert.Equal(t, uint32(0xE3069283), CRC32C([]byte("123456789")))

	assert.Equal(t, uint32(0), CRC32C(nil))
	assert.Equal(t, uint32(0), CRC32C([]byte{}))

	// Single bit flips change the checksum.
	a := CRC32C([]byte{0x00, 0x01, 0x02, 0x03})
	b := CRC32C([]byte{0x00, 0x01, 0x02, 0x02})
	assert.NotEqual(t, a, b)
}
