package notify

import (
	"context"
	"time"

	"github.com/nao1215/crewlink/internal/readstate"
	"github.com/nao1215/crewlink/pkg/event"
)

// Store はイベントストアへのアクセス。
// sinceがゼロ値の場合は期間で絞り込まない。
type Store interface {
	FetchPersisted(ctx context.Context, userID string, since time.Time) ([]PersistedNotification, error)
	FetchDerived(ctx context.Context, role Role, userID string, since time.Time) ([]ApplicationEvent, error)
	SetPersistedRead(ctx context.Context, userID, id string) error
	SetAllPersistedRead(ctx context.Context, userID string) error
}

// ReadStateCache は派生イベントの既読IDを保持するローカルキャッシュ。
type ReadStateCache interface {
	GetReadSet(ctx context.Context, userID string) (readstate.Set, error)
	AddRead(ctx context.Context, userID, id string) error
	AddReadBatch(ctx context.Context, userID string, ids []string) error
	Prune(ctx context.Context, userID string) (bool, error)
}

// ChangeSource はユーザー単位の変更シグナルを購読する。
// 戻り値の関数で購読を解除する。
type ChangeSource interface {
	Subscribe(userID string, fn func(event.Signal)) (unsubscribe func())
}
