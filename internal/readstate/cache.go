package readstate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nao1215/crewlink/pkg/logging"
)

// DefaultLimit は既読キャッシュが切り詰めずに保持できる件数。
const DefaultLimit = 50

// keyPrefix は既読IDを保存するキーの接頭辞。
const keyPrefix = "read_notifications_"

// Cache はユーザーごとの既読ID集合をKVに保存する。
type Cache struct {
	kv    KV
	limit int
	// mu は読み込み→追加→保存を1プロセス内で直列化する。
	mu sync.Mutex
}

// NewCache は新しいCacheを生成する。limitが0以下ならDefaultLimitを使う。
func NewCache(kv KV, limit int) *Cache {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Cache{kv: kv, limit: limit}
}

// Key はユーザーの既読IDを保存するキーを返す。
func Key(userID string) string {
	return keyPrefix + userID
}

// GetReadSet はユーザーの既読ID集合を返す。
func (c *Cache) GetReadSet(ctx context.Context, userID string) (Set, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(ctx, userID)
}

// AddRead はIDを既読に追加する。追加済みのIDは何もしない。
func (c *Cache) AddRead(ctx context.Context, userID, id string) error {
	return c.AddReadBatch(ctx, userID, []string{id})
}

// AddReadBatch は複数のIDをまとめて既読に追加する。
func (c *Cache) AddReadBatch(ctx context.Context, userID string, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, err := c.load(ctx, userID)
	if err != nil {
		return err
	}

	changed := false
	for _, id := range ids {
		if set.add(id) {
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return c.save(ctx, userID, set.ids)
}

// Prune は件数が上限を超えていれば先頭の半分（切り捨て）だけを残す。
// 残るのは追加順で古い側であり、最近の既読を優先するものではない。
func (c *Cache) Prune(ctx context.Context, userID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, err := c.load(ctx, userID)
	if err != nil {
		return false, err
	}
	if set.Len() <= c.limit {
		return false, nil
	}
	if err := c.save(ctx, userID, set.ids[:set.Len()/2]); err != nil {
		return false, err
	}
	return true, nil
}

// load は保存済みの値を読み込む。壊れた値は空集合として扱う。
func (c *Cache) load(ctx context.Context, userID string) (Set, error) {
	raw, ok, err := c.kv.Get(ctx, Key(userID))
	if err != nil {
		return Set{}, fmt.Errorf("既読キャッシュの読み込みに失敗: %w", err)
	}
	if !ok || raw == "" {
		return Set{}, nil
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		logging.Logger.WithError(err).WithField("user_id", userID).Warn("既読キャッシュの値が不正なため空として扱います")
		return Set{}, nil
	}
	return NewSet(ids...), nil
}

func (c *Cache) save(ctx context.Context, userID string, ids []string) error {
	b, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("既読IDのシリアライズに失敗: %w", err)
	}
	if err := c.kv.Set(ctx, Key(userID), string(b)); err != nil {
		return fmt.Errorf("既読キャッシュの保存に失敗: %w", err)
	}
	return nil
}
