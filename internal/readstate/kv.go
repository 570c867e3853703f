package readstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// KV はキーごとに1つの文字列を保存する永続KVストア。
type KV interface {
	// Get はキーの値を返す。キーが存在しなければokはfalse。
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set はキーの値を上書きする。
	Set(ctx context.Context, key, value string) error
}

// MemoryKV はプロセス内のメモリに保存するKV。テストや単発実行で使う。
type MemoryKV struct {
	mu   sync.Mutex
	data map[string]string
}

// NewMemoryKV は空のMemoryKVを生成する。
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]string)}
}

// Get はKVを実装する。
func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// Set はKVを実装する。
func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv (
    -- キー（例: read_notifications_<user_id>）
    key TEXT PRIMARY KEY,
    -- 値（JSON文字列）
    value TEXT NOT NULL,
    -- 最終更新日時
    updated_at DATETIME NOT NULL
);
`

// SQLiteKV はSQLiteファイルに保存するKV。
// イベントストアとは別ファイルに置き、クライアント側の保存領域として扱う。
type SQLiteKV struct {
	db *sqlx.DB
}

// OpenSQLiteKV はSQLiteファイルを開き、KVテーブルを作成する。
func OpenSQLiteKV(path string) (*SQLiteKV, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("既読キャッシュDBの接続に失敗: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(kvSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("既読キャッシュのスキーマ適用に失敗: %w", err)
	}
	return &SQLiteKV{db: db}, nil
}

// Close はDB接続を閉じる。
func (s *SQLiteKV) Close() error {
	return s.db.Close()
}

// Get はKVを実装する。
func (s *SQLiteKV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM kv WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("キー %q の取得に失敗: %w", key, err)
	}
	return value, true, nil
}

// Set はKVを実装する。
func (s *SQLiteKV) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("キー %q の保存に失敗: %w", key, err)
	}
	return nil
}
