package usecase

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

var ErrUnauthorized = errors.New("unauthorized")

// AuthService checks API keys against configured SHA-256 hashes. With no
// keys configured every request is allowed.
type AuthService struct {
	hashes [][]byte
}

// NewAuthService accepts plain keys or "sha256:<hex>" entries so the config
// file does not need to hold the secret itself.
func NewAuthService(keys ...string) *AuthService {
	s := &AuthService{}
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		hash := HashToken(key)
		if h, ok := strings.CutPrefix(key, "sha256:"); ok {
			hash = strings.ToLower(h)
		}
		s.hashes = append(s.hashes, []byte(hash))
	}
	return s
}

func (s *AuthService) Enabled() bool {
	return len(s.hashes) > 0
}

func (s *AuthService) Authenticate(token string) error {
	if !s.Enabled() {
		return nil
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrUnauthorized
	}
	hash := []byte(HashToken(token))
	for _, h := range s.hashes {
		if subtle.ConstantTimeCompare(h, hash) == 1 {
			return nil
		}
	}
	return ErrUnauthorized
}

func HashToken(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}
