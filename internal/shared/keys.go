package shared

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey expands secret into a size-byte key bound to purpose so one configured
// secret can feed several independent keys.
func DeriveKey(secret, purpose string, size int) []byte {
	key := make([]byte, size)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		// hkdf only fails past 255*HashLen bytes.
		panic(err)
	}
	return key
}
