package proposals

import (
	"crypto/rand"

	"github.com/google/uuid"
)

// IDProvider issues new public identifiers.
type IDProvider interface {
	NewID() (string, error)
}

const (
	shareIDLength   = 10
	shareIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

type shareIDProvider struct{}

// NewShareIDProvider constructs an IDProvider that issues short random
// identifiers suitable for share links. Collision probability at this length
// is treated as negligible; there is no uniqueness retry loop.
func NewShareIDProvider() IDProvider {
	return &shareIDProvider{}
}

func (p *shareIDProvider) NewID() (string, error) {
	buffer := make([]byte, shareIDLength)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	for i, b := range buffer {
		buffer[i] = shareIDAlphabet[int(b)%len(shareIDAlphabet)]
	}
	return string(buffer), nil
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers,
// used where length does not matter (storage object keys).
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
