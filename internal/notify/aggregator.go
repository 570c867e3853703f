package notify

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/crewlink/internal/readstate"
	"github.com/nao1215/crewlink/pkg/event"
	"github.com/nao1215/crewlink/pkg/logging"
)

// Deps はAggregatorが呼び出す外部コンポーネント。
type Deps struct {
	// Store は通知と応募データの取得元。
	Store Store
	// Cache は派生イベントの既読キャッシュ。
	Cache ReadStateCache
	// Changes は変更シグナルの購読元。nilの場合は購読しない。
	Changes ChangeSource
}

// Aggregator は1つのダッシュボードセッションの通知一覧を管理する。
//
// 状態はIdle→Loading→Readyと遷移し、再取得のたびにLoadingへ戻る。
// 取得失敗は通知元ごとに空リストへ縮退するため、エラー状態は存在しない。
type Aggregator struct {
	userID  string
	profile Profile
	deps    Deps
	now     func() time.Time
	log     *logrus.Entry

	// ctx は変更シグナル起点の再取得に使う。Closeでキャンセルされる。
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       State
	items       []Notification
	unread      int
	inflight    int
	started     uint64
	published   uint64
	subs        map[int]func(Snapshot)
	nextSubID   int
	unsubscribe func()
	closed      bool
}

// New は新しいAggregatorを生成する。取得はStartまたはRefetchで始まる。
func New(userID string, profile Profile, deps Deps) *Aggregator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Aggregator{
		userID:  userID,
		profile: profile,
		deps:    deps,
		now:     time.Now,
		log: logging.Logger.WithFields(logrus.Fields{
			"user_id": userID,
			"role":    profile.Role,
		}),
		ctx:    ctx,
		cancel: cancel,
		state:  StateIdle,
		subs:   make(map[int]func(Snapshot)),
	}
}

// UserID は対象ユーザーのIDを返す。
func (a *Aggregator) UserID() string { return a.userID }

// Role は対象ロールを返す。
func (a *Aggregator) Role() Role { return a.profile.Role }

// Done はCloseされると閉じるチャネルを返す。
func (a *Aggregator) Done() <-chan struct{} { return a.ctx.Done() }

// Start は変更シグナルを購読し、初回の取得を行う。
// 2回目以降の呼び出しやClose後の呼び出しは現在のスナップショットを返すだけ。
func (a *Aggregator) Start(ctx context.Context) Snapshot {
	a.mu.Lock()
	if a.closed || a.unsubscribe != nil {
		a.mu.Unlock()
		return a.Snapshot()
	}
	a.unsubscribe = func() {}
	a.mu.Unlock()

	if a.deps.Changes != nil {
		unsubscribe := a.deps.Changes.Subscribe(a.userID, a.onSignal)
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			unsubscribe()
			return a.Snapshot()
		}
		a.unsubscribe = unsubscribe
		a.mu.Unlock()
	}

	return a.Refetch(ctx)
}

// Close は変更シグナルの購読を解除し、実行中の再取得の終了を待つ。
func (a *Aggregator) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	unsubscribe := a.unsubscribe
	a.unsubscribe = nil
	clear(a.subs)
	a.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	a.cancel()
	a.wg.Wait()
}

// onSignal は変更シグナルを受けて全件を再取得する。
// シグナルは差分を持たないため、内容は参照しない。
func (a *Aggregator) onSignal(sig event.Signal) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.wg.Add(1)
	a.mu.Unlock()

	a.log.WithFields(logrus.Fields{"table": sig.Table, "op": sig.Op}).Debug("変更シグナルを受信しました")
	go func() {
		defer a.wg.Done()
		a.Refetch(a.ctx)
	}()
}

// Subscribe はスナップショットの公開ごとに呼ばれる関数を登録する。
func (a *Aggregator) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextSubID
	a.nextSubID++
	a.subs[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.subs, id)
	}
}

// Snapshot は現在の一覧と件数を返す。
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Aggregator) snapshotLocked() Snapshot {
	return Snapshot{
		Notifications: slices.Clone(a.items),
		UnreadCount:   a.unread,
		IsLoading:     a.inflight > 0,
		State:         a.state,
	}
}

// Refetch は両方の通知元から全件を取得し直して一覧を公開する。
//
// 後から開始した取得がすでに公開済みなら、この取得の結果は捨てる。
// 楽観的更新は順序番号を進めないので、その後に完了した取得で上書きされる。
func (a *Aggregator) Refetch(ctx context.Context) Snapshot {
	a.mu.Lock()
	a.started++
	seq := a.started
	a.inflight++
	a.state = StateLoading
	loading := a.snapshotLocked()
	a.mu.Unlock()
	a.broadcast(loading)

	persisted, events := a.fetch(ctx)

	readSet, err := a.deps.Cache.GetReadSet(ctx, a.userID)
	if err != nil {
		a.log.WithError(err).Warn("既読キャッシュの取得に失敗しました。派生イベントは未読として扱います")
		readSet = readstate.Set{}
	}

	// 呼び出し元が取り消した取得は失敗と区別できないので公開しない
	if ctx.Err() != nil {
		a.log.WithError(ctx.Err()).Debug("取り消された再取得の結果を破棄しました")
		a.mu.Lock()
		a.inflight--
		if a.inflight == 0 {
			a.state = StateReady
		}
		snap := a.snapshotLocked()
		a.mu.Unlock()
		a.broadcast(snap)
		return snap
	}

	items := merge(a.profile, persisted, events, readSet)

	a.mu.Lock()
	a.inflight--
	if seq > a.published {
		a.items = items
		a.unread = countUnread(items)
		a.published = seq
	}
	if a.inflight == 0 {
		a.state = StateReady
	}
	snap := a.snapshotLocked()
	a.mu.Unlock()
	a.broadcast(snap)

	if pruned, err := a.deps.Cache.Prune(ctx, a.userID); err != nil {
		a.log.WithError(err).Warn("既読キャッシュの整理に失敗しました")
	} else if pruned {
		a.log.Debug("既読キャッシュを整理しました")
	}
	return snap
}

// fetch は2つの通知元を並行に取得する。失敗した通知元は空リストになる。
func (a *Aggregator) fetch(ctx context.Context) ([]PersistedNotification, []ApplicationEvent) {
	since := a.profile.Since(a.now())

	var (
		persisted []PersistedNotification
		events    []ApplicationEvent
		g         errgroup.Group
	)
	g.Go(func() error {
		p, err := a.deps.Store.FetchPersisted(ctx, a.userID, since)
		if err != nil {
			a.log.WithError(err).WithField("origin", OriginPersisted).Warn("通知の取得に失敗しました")
			return nil
		}
		persisted = p
		return nil
	})
	g.Go(func() error {
		e, err := a.deps.Store.FetchDerived(ctx, a.profile.Role, a.userID, since)
		if err != nil {
			a.log.WithError(err).WithField("origin", OriginDerived).Warn("応募イベントの取得に失敗しました")
			return nil
		}
		events = e
		return nil
	})
	_ = g.Wait()
	return persisted, events
}

// MarkAsRead は1件の通知を既読にする。
// 派生イベントは既読キャッシュに、永続化通知はイベントストアに書き込む。
// 一覧は書き込みの成否にかかわらず先に既読へ更新し、失敗しても戻さない。
func (a *Aggregator) MarkAsRead(ctx context.Context, id string) Snapshot {
	a.mu.Lock()
	if i := slices.IndexFunc(a.items, func(n Notification) bool { return n.ID == id }); i >= 0 && !a.items[i].Read {
		items := slices.Clone(a.items)
		items[i].Read = true
		a.items = items
		a.unread--
	}
	snap := a.snapshotLocked()
	a.mu.Unlock()
	a.broadcast(snap)

	var err error
	if IsDerivedID(id) {
		err = a.deps.Cache.AddRead(ctx, a.userID, id)
	} else {
		err = a.deps.Store.SetPersistedRead(ctx, a.userID, id)
	}
	if err != nil {
		a.log.WithError(err).WithField("notification_id", id).Warn("既読の書き込みに失敗しました")
	}
	return snap
}

// MarkAllAsRead は表示中の通知をすべて既読にする。
// 派生イベントはまとめて既読キャッシュへ、永続化通知はユーザー単位の一括更新1回で書き込む。
func (a *Aggregator) MarkAllAsRead(ctx context.Context) Snapshot {
	a.mu.Lock()
	items := slices.Clone(a.items)
	var derivedIDs []string
	for i := range items {
		if items[i].Read {
			continue
		}
		if items[i].Origin == OriginDerived {
			derivedIDs = append(derivedIDs, items[i].ID)
		}
		items[i].Read = true
	}
	a.items = items
	a.unread = 0
	snap := a.snapshotLocked()
	a.mu.Unlock()
	a.broadcast(snap)

	if len(derivedIDs) > 0 {
		if err := a.deps.Cache.AddReadBatch(ctx, a.userID, derivedIDs); err != nil {
			a.log.WithError(err).WithField("count", len(derivedIDs)).Warn("派生イベントの一括既読に失敗しました")
		}
	}
	if err := a.deps.Store.SetAllPersistedRead(ctx, a.userID); err != nil {
		a.log.WithError(err).Warn("通知の一括既読に失敗しました")
	}
	return snap
}

func (a *Aggregator) broadcast(snap Snapshot) {
	a.mu.Lock()
	fns := make([]func(Snapshot), 0, len(a.subs))
	for _, fn := range a.subs {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// merge は2つの通知元を統合し、作成日時の降順に並べる。
// 同時刻の場合は永続化通知が先に来る。永続化通知は種別にかかわらずすべて表示する。
func merge(profile Profile, persisted []PersistedNotification, events []ApplicationEvent, readSet readstate.Set) []Notification {
	sources := make([]Source, 0, len(persisted)+len(events))
	for _, n := range persisted {
		sources = append(sources, n)
	}
	for _, ev := range events {
		d, ok := profile.Derive(ev)
		if !ok {
			continue
		}
		sources = append(sources, d)
	}

	items := make([]Notification, 0, len(sources))
	for _, src := range sources {
		items = append(items, project(src, readSet))
	}
	slices.SortStableFunc(items, func(x, y Notification) int {
		return y.CreatedAt.Compare(x.CreatedAt)
	})
	return items
}

// project は通知元ごとの既読判定を行い、統合済みの形に変換する。
// 永続化通知はサーバーの値、派生イベントは既読キャッシュの所属だけで判定する。
func project(src Source, readSet readstate.Set) Notification {
	switch s := src.(type) {
	case PersistedNotification:
		return Notification{
			ID:        s.ID,
			Origin:    OriginPersisted,
			Type:      s.Type,
			Title:     s.Title,
			Message:   s.Message,
			CreatedAt: s.CreatedAt,
			Read:      s.IsRead,
		}
	case DerivedEvent:
		return Notification{
			ID:        s.ID,
			Origin:    OriginDerived,
			Type:      s.Type,
			Title:     s.Title,
			Message:   s.Message,
			CreatedAt: s.CreatedAt,
			Read:      readSet.Contains(s.ID),
		}
	default:
		panic(fmt.Sprintf("未知の通知元: %T", src))
	}
}

func countUnread(items []Notification) int {
	n := 0
	for _, item := range items {
		if !item.Read {
			n++
		}
	}
	return n
}
