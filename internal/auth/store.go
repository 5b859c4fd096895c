package auth

import (
	"encoding/json"
	"errors"
	"os"

	"golang.org/x/oauth2"

	"tibbercal/internal/config"
)

// TokenStore persists a token between runs.
type TokenStore interface {
	// Load returns an error wrapping os.ErrNotExist when nothing is stored.
	Load() (*oauth2.Token, error)
	Save(tok *oauth2.Token) error
}

// FileTokenStore keeps the token as JSON in a 0600 file.
type FileTokenStore struct {
	Path string
}

func (s FileTokenStore) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, errors.New("token file holds no credentials")
	}
	return &tok, nil
}

func (s FileTokenStore) Save(tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(s.Path, data, ".tibbercal-token-*.tmp")
}
