package internal

import "crypto/rand"

func Mask(bytes []byte, key [4]byte) {
	MaskOffset(bytes, key, 0)
}

func MaskOffset(bytes []byte, key [4]byte, offset int) {
	for i, b := range bytes {
		pos := i + offset
		bytes[i] = b ^ key[pos%4]
	}
}

// NewMaskingKey returns a fresh key for every outbound frame.
func NewMaskingKey() [4]byte {
	var key [4]byte
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(key[:])
	return key
}
