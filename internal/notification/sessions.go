package notification

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nao1215/crewlink/internal/notify"
	"github.com/nao1215/crewlink/pkg/logging"
)

// DefaultIdleTimeout は操作のないセッションを破棄するまでの時間の既定値。
const DefaultIdleTimeout = 30 * time.Minute

type sessionKey struct {
	userID string
	role   notify.Role
}

type session struct {
	agg      *notify.Aggregator
	start    sync.Once
	lastUsed time.Time
	// streams は接続中のSSEストリーム数。0より大きい間は破棄しない。
	streams int
}

// Sessions はユーザーとロールの組ごとのAggregatorを管理する。
type Sessions struct {
	deps        notify.Deps
	idleTimeout time.Duration
	now         func() time.Time

	mu       sync.Mutex
	sessions map[sessionKey]*session
}

// NewSessions は新しいセッション管理を生成する。idleTimeoutが0以下なら既定値を使う。
func NewSessions(deps notify.Deps, idleTimeout time.Duration) *Sessions {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Sessions{
		deps:        deps,
		idleTimeout: idleTimeout,
		now:         time.Now,
		sessions:    make(map[sessionKey]*session),
	}
}

// Acquire はセッションのAggregatorを返す。
// 初回は生成して変更シグナルを購読し、初回取得が終わるまで待つ。
func (r *Sessions) Acquire(ctx context.Context, userID string, role notify.Role) (*notify.Aggregator, error) {
	s, err := r.get(userID, role, false)
	if err != nil {
		return nil, err
	}
	r.ensureStarted(ctx, s)
	return s.agg, nil
}

// AcquireStream はSSEストリーム用にセッションを取得する。
// 戻り値の関数を呼ぶまでセッションはアイドル破棄の対象外になる。
func (r *Sessions) AcquireStream(ctx context.Context, userID string, role notify.Role) (*notify.Aggregator, func(), error) {
	s, err := r.get(userID, role, true)
	if err != nil {
		return nil, nil, err
	}
	r.ensureStarted(ctx, s)

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			s.streams--
			s.lastUsed = r.now()
		})
	}
	return s.agg, release, nil
}

func (r *Sessions) get(userID string, role notify.Role, stream bool) (*session, error) {
	profile, err := notify.ProfileFor(role)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := sessionKey{userID: userID, role: role}
	s, ok := r.sessions[key]
	if !ok {
		s = &session{agg: notify.New(userID, profile, r.deps)}
		r.sessions[key] = s
		logging.Logger.WithFields(logrus.Fields{"user_id": userID, "role": role}).Info("セッションを開始しました")
	}
	s.lastUsed = r.now()
	if stream {
		s.streams++
	}
	return s, nil
}

func (r *Sessions) ensureStarted(ctx context.Context, s *session) {
	s.start.Do(func() {
		s.agg.Start(context.WithoutCancel(ctx))
	})
}

// Release はセッションを破棄し、変更シグナルの購読を解除する。
// セッションが存在しなければfalseを返す。
func (r *Sessions) Release(userID string, role notify.Role) bool {
	key := sessionKey{userID: userID, role: role}

	r.mu.Lock()
	s, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()

	if !ok {
		return false
	}
	s.agg.Close()
	logging.Logger.WithFields(logrus.Fields{"user_id": userID, "role": role}).Info("セッションを終了しました")
	return true
}

// Sweep はアイドル時間を超えたセッションを破棄し、破棄した数を返す。
func (r *Sessions) Sweep() int {
	deadline := r.now().Add(-r.idleTimeout)

	r.mu.Lock()
	var expired []*session
	for key, s := range r.sessions {
		if s.streams > 0 || s.lastUsed.After(deadline) {
			continue
		}
		expired = append(expired, s)
		delete(r.sessions, key)
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.agg.Close()
	}
	if len(expired) > 0 {
		logging.Logger.WithField("count", len(expired)).Info("アイドルセッションを破棄しました")
	}
	return len(expired)
}

// RunSweeper はctxが終わるまで一定間隔でSweepを実行する。
func (r *Sessions) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.idleTimeout / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// CloseAll はすべてのセッションを破棄する。サーバー停止時に呼ぶ。
func (r *Sessions) CloseAll() {
	r.mu.Lock()
	all := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	clear(r.sessions)
	r.mu.Unlock()

	for _, s := range all {
		s.agg.Close()
	}
}

// Len は保持しているセッション数を返す。
func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
