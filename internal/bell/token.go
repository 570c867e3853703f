package bell

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const (
	keyringService = "crewlink"
	tokenKey       = "notification-token"
)

// ErrNoToken はトークンが保存されていないことを表す。
var ErrNoToken = errors.New("トークンが保存されていません")

// TokenStore はAPIトークンをOSのキーリングに保存する。
type TokenStore struct {
	ring keyring.Keyring
}

// OpenTokenStore はシステムのキーリングを開く。
// 利用できるバックエンドがなければ fileDir 配下のファイルに保存する。
func OpenTokenStore(fileDir string) (*TokenStore, error) {
	return openTokenStore(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt("crewlink-file-key"),
		KeychainTrustApplication: true,
	})
}

func openTokenStore(cfg keyring.Config) (*TokenStore, error) {
	ring, err := keyring.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("キーリングを開けません: %w", err)
	}
	return &TokenStore{ring: ring}, nil
}

// Get は保存済みのトークンを返す。
func (s *TokenStore) Get() (string, error) {
	item, err := s.ring.Get(tokenKey)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("トークンの取得に失敗: %w", err)
	}
	if len(item.Data) == 0 {
		return "", ErrNoToken
	}
	return string(item.Data), nil
}

// Set はトークンを保存する。
func (s *TokenStore) Set(token string) error {
	if err := s.ring.Set(keyring.Item{
		Key:   tokenKey,
		Data:  []byte(token),
		Label: "CrewLink 通知トークン",
	}); err != nil {
		return fmt.Errorf("トークンの保存に失敗: %w", err)
	}
	return nil
}

// Delete はトークンを削除する。
func (s *TokenStore) Delete() error {
	if err := s.ring.Remove(tokenKey); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("トークンの削除に失敗: %w", err)
	}
	return nil
}
