// Package session keeps the user's LLM API key in an encrypted cookie.
package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/asksql/asksql/internal/config"
)

const (
	nonceSize     = 24
	keyDerivation = "asksql session cookie v1"
)

var (
	ErrNoSession      = errors.New("no session cookie")
	ErrInvalidSession = errors.New("session cookie is invalid")
	ErrExpiredSession = errors.New("session cookie has expired")
)

type payload struct {
	APIKey   string `json:"api_key"`
	IssuedAt int64  `json:"iat"`
}

// Store seals session payloads with secretbox under a key derived from the
// configured secret.
type Store struct {
	key        [32]byte
	cookieName string
	maxAge     time.Duration
	secure     bool
	now        func() time.Time
}

func NewStore(cfg config.SessionConfig) (*Store, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, fmt.Errorf("session secret is required")
	}
	store := &Store{
		cookieName: strings.TrimSpace(cfg.CookieName),
		maxAge:     cfg.MaxAge,
		secure:     cfg.Secure,
		now:        time.Now,
	}
	if store.cookieName == "" {
		store.cookieName = "asksql_session"
	}
	if store.maxAge <= 0 {
		store.maxAge = 12 * time.Hour
	}
	derived := hkdf.New(sha256.New, []byte(cfg.Secret), nil, []byte(keyDerivation))
	if _, err := io.ReadFull(derived, store.key[:]); err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	return store, nil
}

func (s *Store) CookieName() string { return s.cookieName }

// SaveAPIKey writes the sealed key as an HttpOnly cookie.
func (s *Store) SaveAPIKey(w http.ResponseWriter, apiKey string) error {
	value, err := s.seal(payload{APIKey: apiKey, IssuedAt: s.now().Unix()})
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(s.maxAge.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// APIKey returns the key stored in the request's session cookie.
func (s *Store) APIKey(r *http.Request) (string, error) {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil {
		return "", ErrNoSession
	}
	data, err := s.open(cookie.Value)
	if err != nil {
		return "", err
	}
	if s.now().Sub(time.Unix(data.IssuedAt, 0)) > s.maxAge {
		return "", ErrExpiredSession
	}
	return data.APIKey, nil
}

func (s *Store) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Store) seal(data payload) (string, error) {
	plain, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generate session nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plain, &nonce, &s.key)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (s *Store) open(value string) (payload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return payload{}, ErrInvalidSession
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.key)
	if !ok {
		return payload{}, ErrInvalidSession
	}
	var data payload
	if err := json.Unmarshal(plain, &data); err != nil {
		return payload{}, ErrInvalidSession
	}
	return data, nil
}
