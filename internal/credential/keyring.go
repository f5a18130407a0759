// Package credential keeps the Gmail OAuth token in the OS keyring.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
	"golang.org/x/oauth2"
)

const serviceName = "mailagent"

// ErrNoToken means no token is stored for the account.
var ErrNoToken = errors.New("no token stored in keyring")

// TokenStore persists OAuth2 tokens in the OS keyring.
type TokenStore struct {
	service string
}

// NewTokenStore returns a TokenStore using the default service name.
func NewTokenStore() *TokenStore {
	return &TokenStore{service: serviceName}
}

// SaveToken stores token under account.
func (s *TokenStore) SaveToken(account string, token *oauth2.Token) error {
	if token == nil || token.RefreshToken == "" {
		return fmt.Errorf("token for %s has no refresh token", account)
	}
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	if err := keyring.Set(s.service, account, string(data)); err != nil {
		return fmt.Errorf("failed to save token to keyring: %w", err)
	}
	return nil
}

// LoadToken returns the token stored under account.
func (s *TokenStore) LoadToken(account string) (*oauth2.Token, error) {
	data, err := keyring.Get(s.service, account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoToken, account)
		}
		return nil, fmt.Errorf("failed to load token from keyring: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal([]byte(data), &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return &token, nil
}

// RefreshToken returns only the refresh token stored under account.
func (s *TokenStore) RefreshToken(account string) (string, error) {
	token, err := s.LoadToken(account)
	if err != nil {
		return "", err
	}
	return token.RefreshToken, nil
}

// DeleteToken removes the token stored under account. Deleting a missing
// token is not an error.
func (s *TokenStore) DeleteToken(account string) error {
	if err := keyring.Delete(s.service, account); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete token from keyring: %w", err)
	}
	return nil
}
