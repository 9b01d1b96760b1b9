package crypto

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const apiKeyCost = 12

var ErrEmptyKey = errors.New("key is empty")

type KeyHasher interface {
	Hash(key string) (string, error)
	Compare(hash string, key string) error
}

// BcryptHasher hashes publish API keys so only the hash lives in config.
type BcryptHasher struct {
	cost int
}

func NewBcryptHasher() *BcryptHasher {
	return &BcryptHasher{cost: apiKeyCost}
}

func NewBcryptHasherWithCost(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(key string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	cost := h.cost
	if cost == 0 {
		cost = apiKeyCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (h *BcryptHasher) Compare(hash string, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
}
