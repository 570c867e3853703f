package notify

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/nao1215/crewlink/internal/readstate"
	"github.com/nao1215/crewlink/pkg/event"
)

var baseTime = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

// newTestAggregator は監督者向けのAggregatorをメモリ上の既読キャッシュで生成する。
func newTestAggregator(t *testing.T, store *fakeStore) (*Aggregator, *readstate.Cache) {
	t.Helper()
	cache := readstate.NewCache(readstate.NewMemoryKV(), 0)
	a := New("super-1", SuperintendentProfile(), Deps{Store: store, Cache: cache})
	a.now = func() time.Time { return baseTime }
	t.Cleanup(a.Close)
	return a, cache
}

// scenarioStore は永続化通知2件（未読・既読）と承認済みの応募1件を返す。
func scenarioStore() *fakeStore {
	return &fakeStore{
		persisted: []PersistedNotification{
			{ID: "0b6f7c1e-0000-4000-8000-000000000001", UserID: "super-1", Type: TypeProfileView, Title: "閲覧", Message: "m", CreatedAt: baseTime.Add(-1 * time.Hour)},
			{ID: "0b6f7c1e-0000-4000-8000-000000000002", UserID: "super-1", Type: TypeProfileView, Title: "閲覧", Message: "m", CreatedAt: baseTime.Add(-3 * time.Hour), IsRead: true},
		},
		events: []ApplicationEvent{
			{ApplicationID: "app-1", Status: "accepted", JobTitle: "機関監督", Timestamp: baseTime.Add(-2 * time.Hour)},
		},
	}
}

func ids(items []Notification) []string {
	out := make([]string, len(items))
	for i, n := range items {
		out[i] = n.ID
	}
	return out
}

// TestRefetchScenario は代表的な統合結果を検証する。
func TestRefetchScenario(t *testing.T) {
	t.Parallel()

	a, _ := newTestAggregator(t, scenarioStore())
	snap := a.Refetch(t.Context())

	if len(snap.Notifications) != 3 {
		t.Fatalf("件数 = %d, want 3", len(snap.Notifications))
	}
	if snap.UnreadCount != 2 {
		t.Errorf("UnreadCount = %d, want 2", snap.UnreadCount)
	}
	if snap.State != StateReady || snap.IsLoading {
		t.Errorf("State = %s, IsLoading = %v, want ready/false", snap.State, snap.IsLoading)
	}

	derived := snap.Notifications[1]
	if derived.ID != "application:app-1" {
		t.Fatalf("2件目のID = %q, want application:app-1", derived.ID)
	}
	if derived.Type != TypeApplicationAccepted {
		t.Errorf("Type = %q, want %q", derived.Type, TypeApplicationAccepted)
	}
	if derived.Origin != OriginDerived || derived.Read {
		t.Errorf("派生イベント = %+v, want 未読の派生イベント", derived)
	}
}

// TestMarkAllAsReadScenario は一括既読の結果を検証する。
func TestMarkAllAsReadScenario(t *testing.T) {
	t.Parallel()

	store := scenarioStore()
	a, cache := newTestAggregator(t, store)
	a.Refetch(t.Context())

	snap := a.MarkAllAsRead(t.Context())

	if snap.UnreadCount != 0 {
		t.Errorf("UnreadCount = %d, want 0", snap.UnreadCount)
	}
	for _, n := range snap.Notifications {
		if !n.Read {
			t.Errorf("通知 %s が未読のまま", n.ID)
		}
	}
	set, _ := cache.GetReadSet(t.Context(), "super-1")
	if !set.Contains("application:app-1") {
		t.Error("派生イベントのIDが既読キャッシュに追加されていない")
	}
	if store.readAllCalls != 1 {
		t.Errorf("SetAllPersistedRead呼び出し回数 = %d, want 1", store.readAllCalls)
	}

	// 再取得しても既読のまま
	snap = a.Refetch(t.Context())
	if snap.UnreadCount != 0 {
		t.Errorf("再取得後のUnreadCount = %d, want 0", snap.UnreadCount)
	}
}

// TestMergeOrdering は並び順を検証する。
func TestMergeOrdering(t *testing.T) {
	t.Parallel()

	t.Run("作成日時の降順に並ぶこと", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{}
		for i := range 5 {
			store.persisted = append(store.persisted, PersistedNotification{
				ID: fmt.Sprintf("p-%d", i), Type: TypeProfileView, CreatedAt: baseTime.Add(time.Duration(i*2) * time.Minute),
			})
			store.events = append(store.events, ApplicationEvent{
				ApplicationID: fmt.Sprintf("a-%d", i), Status: "rejected", Timestamp: baseTime.Add(time.Duration(i*2+1) * time.Minute),
			})
		}
		a, _ := newTestAggregator(t, store)
		snap := a.Refetch(t.Context())

		if len(snap.Notifications) != 10 {
			t.Fatalf("件数 = %d, want 10", len(snap.Notifications))
		}
		for i := 1; i < len(snap.Notifications); i++ {
			prev, cur := snap.Notifications[i-1], snap.Notifications[i]
			if !prev.CreatedAt.After(cur.CreatedAt) {
				t.Errorf("位置%d: %v が %v より後ではない", i, prev.CreatedAt, cur.CreatedAt)
			}
		}
	})

	t.Run("同時刻なら永続化通知が先に来ること", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{
			persisted: []PersistedNotification{{ID: "p-1", Type: TypeProfileView, CreatedAt: baseTime}},
			events:    []ApplicationEvent{{ApplicationID: "a-1", Status: "accepted", Timestamp: baseTime}},
		}
		a, _ := newTestAggregator(t, store)
		snap := a.Refetch(t.Context())

		want := []string{"p-1", "application:a-1"}
		if got := ids(snap.Notifications); !slices.Equal(got, want) {
			t.Errorf("順序 = %v, want %v", got, want)
		}
	})
}

// TestReadComputation は通知元ごとの既読判定を検証する。
func TestReadComputation(t *testing.T) {
	t.Parallel()

	t.Run("派生イベントは既読キャッシュだけで判定すること", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{
			persisted: []PersistedNotification{{ID: "p-1", Type: TypeProfileView, CreatedAt: baseTime, IsRead: false}},
			events: []ApplicationEvent{
				{ApplicationID: "a-1", Status: "accepted", Timestamp: baseTime},
				{ApplicationID: "a-2", Status: "accepted", Timestamp: baseTime},
			},
		}
		a, cache := newTestAggregator(t, store)
		// 永続化通知のIDをキャッシュに入れても影響しない
		if err := cache.AddReadBatch(t.Context(), "super-1", []string{"application:a-1", "p-1"}); err != nil {
			t.Fatalf("AddReadBatch()でエラーが発生: %v", err)
		}

		snap := a.Refetch(t.Context())
		read := map[string]bool{}
		for _, n := range snap.Notifications {
			read[n.ID] = n.Read
		}
		if read["p-1"] {
			t.Error("永続化通知が既読キャッシュで既読になった")
		}
		if !read["application:a-1"] || read["application:a-2"] {
			t.Errorf("派生イベントの既読 = %v", read)
		}
		if snap.UnreadCount != 2 {
			t.Errorf("UnreadCount = %d, want 2", snap.UnreadCount)
		}
	})

	t.Run("派生イベントの既読化はイベントストアに書き込まないこと", func(t *testing.T) {
		t.Parallel()

		store := scenarioStore()
		a, cache := newTestAggregator(t, store)
		a.Refetch(t.Context())

		snap := a.MarkAsRead(t.Context(), "application:app-1")
		if snap.UnreadCount != 1 {
			t.Errorf("UnreadCount = %d, want 1", snap.UnreadCount)
		}
		if len(store.readIDs) != 0 {
			t.Errorf("SetPersistedReadが呼ばれた: %v", store.readIDs)
		}
		set, _ := cache.GetReadSet(t.Context(), "super-1")
		if !set.Contains("application:app-1") {
			t.Error("既読キャッシュに追加されていない")
		}
	})

	t.Run("永続化通知の既読化は既読キャッシュに書き込まないこと", func(t *testing.T) {
		t.Parallel()

		store := scenarioStore()
		a, cache := newTestAggregator(t, store)
		a.Refetch(t.Context())

		id := store.persisted[0].ID
		a.MarkAsRead(t.Context(), id)

		if !slices.Equal(store.readIDs, []string{id}) {
			t.Errorf("SetPersistedReadの引数 = %v, want [%s]", store.readIDs, id)
		}
		set, _ := cache.GetReadSet(t.Context(), "super-1")
		if set.Len() != 0 {
			t.Errorf("既読キャッシュが変更された: %v", set.IDs())
		}
	})
}

// TestMarkAsRead は1件の既読化を検証する。
func TestMarkAsRead(t *testing.T) {
	t.Parallel()

	t.Run("2回呼んでも1回と同じ結果になること", func(t *testing.T) {
		t.Parallel()

		a, _ := newTestAggregator(t, scenarioStore())
		a.Refetch(t.Context())

		first := a.MarkAsRead(t.Context(), "application:app-1")
		second := a.MarkAsRead(t.Context(), "application:app-1")

		if first.UnreadCount != 1 || second.UnreadCount != 1 {
			t.Errorf("UnreadCount = %d, %d, want 1, 1", first.UnreadCount, second.UnreadCount)
		}
	})

	t.Run("書き込みに失敗しても既読表示は戻らないこと", func(t *testing.T) {
		t.Parallel()

		store := scenarioStore()
		store.writeErr = errUnavailable
		a, _ := newTestAggregator(t, store)
		a.Refetch(t.Context())

		snap := a.MarkAsRead(t.Context(), store.persisted[0].ID)
		if snap.UnreadCount != 1 {
			t.Errorf("UnreadCount = %d, want 1", snap.UnreadCount)
		}
		if !a.Snapshot().Notifications[0].Read {
			t.Error("既読表示が戻された")
		}
	})

	t.Run("一覧にないIDでも件数が負にならないこと", func(t *testing.T) {
		t.Parallel()

		a, _ := newTestAggregator(t, &fakeStore{})
		a.Refetch(t.Context())

		snap := a.MarkAsRead(t.Context(), "missing")
		if snap.UnreadCount != 0 {
			t.Errorf("UnreadCount = %d, want 0", snap.UnreadCount)
		}
	})

	t.Run("既読キャッシュが壊れていても既読表示になること", func(t *testing.T) {
		t.Parallel()

		a := New("super-1", SuperintendentProfile(), Deps{Store: scenarioStore(), Cache: brokenCache{}})
		a.now = func() time.Time { return baseTime }
		t.Cleanup(a.Close)

		snap := a.Refetch(t.Context())
		if snap.UnreadCount != 2 {
			t.Fatalf("UnreadCount = %d, want 2", snap.UnreadCount)
		}
		snap = a.MarkAsRead(t.Context(), "application:app-1")
		if snap.UnreadCount != 1 {
			t.Errorf("UnreadCount = %d, want 1", snap.UnreadCount)
		}
	})
}

// TestMarkAllAsRead は一括既読の書き込み先を検証する。
func TestMarkAllAsRead(t *testing.T) {
	t.Parallel()

	t.Run("未読の派生イベントがなければ既読キャッシュに書き込まないこと", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{
			persisted: []PersistedNotification{{ID: "p-1", Type: TypeProfileView, CreatedAt: baseTime}},
		}
		a, cache := newTestAggregator(t, store)
		a.Refetch(t.Context())

		snap := a.MarkAllAsRead(t.Context())
		if snap.UnreadCount != 0 {
			t.Errorf("UnreadCount = %d, want 0", snap.UnreadCount)
		}
		set, _ := cache.GetReadSet(t.Context(), "super-1")
		if set.Len() != 0 {
			t.Errorf("既読キャッシュ = %v, want 空", set.IDs())
		}
		if store.readAllCalls != 1 {
			t.Errorf("SetAllPersistedRead呼び出し回数 = %d, want 1", store.readAllCalls)
		}
	})
}

// TestPruneAfterRefetch は取得サイクル後の既読キャッシュ整理を検証する。
func TestPruneAfterRefetch(t *testing.T) {
	t.Parallel()

	a, cache := newTestAggregator(t, &fakeStore{})
	seeded := make([]string, 51)
	for i := range seeded {
		seeded[i] = DerivedID(fmt.Sprintf("app-%02d", i))
	}
	if err := cache.AddReadBatch(t.Context(), "super-1", seeded); err != nil {
		t.Fatalf("AddReadBatch()でエラーが発生: %v", err)
	}

	a.Refetch(t.Context())

	set, _ := cache.GetReadSet(t.Context(), "super-1")
	if !slices.Equal(set.IDs(), seeded[:25]) {
		t.Errorf("IDs = %v, want 先頭25件", set.IDs())
	}
}

// TestPartialFailure は片方の通知元の失敗を検証する。
func TestPartialFailure(t *testing.T) {
	t.Parallel()

	t.Run("応募イベントの取得失敗時は永続化通知だけになること", func(t *testing.T) {
		t.Parallel()

		store := scenarioStore()
		store.derivedErr = errUnavailable
		a, _ := newTestAggregator(t, store)

		snap := a.Refetch(t.Context())
		want := []string{store.persisted[0].ID, store.persisted[1].ID}
		if got := ids(snap.Notifications); !slices.Equal(got, want) {
			t.Errorf("IDs = %v, want %v", got, want)
		}
		if snap.UnreadCount != 1 {
			t.Errorf("UnreadCount = %d, want 1", snap.UnreadCount)
		}
		if snap.State != StateReady {
			t.Errorf("State = %s, want ready", snap.State)
		}
	})

	t.Run("通知の取得失敗時は派生イベントだけになること", func(t *testing.T) {
		t.Parallel()

		store := scenarioStore()
		store.persistedErr = errUnavailable
		a, _ := newTestAggregator(t, store)

		snap := a.Refetch(t.Context())
		if got := ids(snap.Notifications); !slices.Equal(got, []string{"application:app-1"}) {
			t.Errorf("IDs = %v, want [application:app-1]", got)
		}
	})

	t.Run("既読キャッシュの取得失敗時は派生イベントを未読にすること", func(t *testing.T) {
		t.Parallel()

		a := New("super-1", SuperintendentProfile(), Deps{Store: scenarioStore(), Cache: brokenCache{}})
		a.now = func() time.Time { return baseTime }
		t.Cleanup(a.Close)

		snap := a.Refetch(t.Context())
		if len(snap.Notifications) != 3 || snap.UnreadCount != 2 {
			t.Errorf("件数 = %d, UnreadCount = %d, want 3, 2", len(snap.Notifications), snap.UnreadCount)
		}
	})
}

// TestNamespaceDisjoint は派生イベントIDが永続化通知IDと衝突しないことを検証する。
func TestNamespaceDisjoint(t *testing.T) {
	t.Parallel()

	// 応募IDと通知IDが同じ値でも統合後のIDは重ならない
	store := &fakeStore{
		persisted: []PersistedNotification{{ID: "shared-1", Type: TypeProfileView, CreatedAt: baseTime}},
		events:    []ApplicationEvent{{ApplicationID: "shared-1", Status: "accepted", Timestamp: baseTime}},
	}
	a, _ := newTestAggregator(t, store)
	snap := a.Refetch(t.Context())

	seen := map[string]bool{}
	for _, n := range snap.Notifications {
		if seen[n.ID] {
			t.Errorf("IDが重複: %s", n.ID)
		}
		seen[n.ID] = true
		if IsDerivedID(n.ID) != (n.Origin == OriginDerived) {
			t.Errorf("ID %s の名前空間と出どころ %s が一致しない", n.ID, n.Origin)
		}
	}
}

// TestProfileFiltering はロールごとの取得条件を検証する。
func TestProfileFiltering(t *testing.T) {
	t.Parallel()

	t.Run("監督者は30日前以降に絞り込むこと", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{}
		a, _ := newTestAggregator(t, store)
		a.Refetch(t.Context())

		want := baseTime.Add(-30 * 24 * time.Hour)
		if len(store.sinces) != 1 || !store.sinces[0].Equal(want) {
			t.Errorf("since = %v, want %v", store.sinces, want)
		}
	})

	t.Run("マネージャーは期間で絞り込まず新規応募を通知すること", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{
			persisted: []PersistedNotification{
				{ID: "p-1", Type: TypeProfileView, CreatedAt: baseTime},
				{ID: "p-2", Type: TypeApplicationAccepted, CreatedAt: baseTime},
			},
			events: []ApplicationEvent{{ApplicationID: "a-1", Status: "pending", Timestamp: baseTime.Add(-time.Minute)}},
		}
		a := New("manager-1", ManagerProfile(), Deps{Store: store, Cache: readstate.NewCache(readstate.NewMemoryKV(), 0)})
		t.Cleanup(a.Close)

		snap := a.Refetch(t.Context())
		if !store.sinces[0].IsZero() {
			t.Errorf("since = %v, want ゼロ値", store.sinces[0])
		}
		if store.derivedRoles[0] != RoleManager {
			t.Errorf("role = %s, want manager", store.derivedRoles[0])
		}
		// 永続化通知は種別にかかわらずすべて表示する
		want := []string{"p-1", "p-2", "application:a-1"}
		if got := ids(snap.Notifications); !slices.Equal(got, want) {
			t.Fatalf("IDs = %v, want %v", got, want)
		}
		if snap.Notifications[2].Type != TypeNewApplication {
			t.Errorf("Type = %s, want new_application", snap.Notifications[2].Type)
		}
		if snap.UnreadCount != 3 {
			t.Errorf("UnreadCount = %d, want 3", snap.UnreadCount)
		}
	})
}

// TestLastFetchWins は後から始まった取得の結果が優先されることを検証する。
func TestLastFetchWins(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	gate := make(chan struct{})
	store := &fakeStore{}
	store.onFetchPersisted = func(n int) ([]PersistedNotification, error) {
		if n == 1 {
			close(entered)
			<-gate
			return []PersistedNotification{{ID: "stale", Type: TypeProfileView, CreatedAt: baseTime}}, nil
		}
		return []PersistedNotification{{ID: "fresh", Type: TypeProfileView, CreatedAt: baseTime}}, nil
	}
	a, _ := newTestAggregator(t, store)

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Refetch(t.Context())
	}()
	<-entered

	snap := a.Refetch(t.Context())
	if got := ids(snap.Notifications); !slices.Equal(got, []string{"fresh"}) {
		t.Fatalf("IDs = %v, want [fresh]", got)
	}
	if !snap.IsLoading {
		t.Error("先行する取得が残っているのにIsLoadingがfalse")
	}

	close(gate)
	<-done

	snap = a.Snapshot()
	if got := ids(snap.Notifications); !slices.Equal(got, []string{"fresh"}) {
		t.Errorf("IDs = %v, want [fresh]", got)
	}
	if snap.IsLoading || snap.State != StateReady {
		t.Errorf("IsLoading = %v, State = %s, want false/ready", snap.IsLoading, snap.State)
	}
}

// TestStartAndSignals は購読と変更シグナルによる再取得を検証する。
func TestStartAndSignals(t *testing.T) {
	t.Parallel()

	store := scenarioStore()
	changes := &fakeChanges{}
	a := New("super-1", SuperintendentProfile(), Deps{
		Store:   store,
		Cache:   readstate.NewCache(readstate.NewMemoryKV(), 0),
		Changes: changes,
	})

	published := make(chan Snapshot, 16)
	a.Subscribe(func(s Snapshot) { published <- s })

	if a.Snapshot().State != StateIdle {
		t.Errorf("開始前のState = %s, want idle", a.Snapshot().State)
	}

	snap := a.Start(t.Context())
	if snap.State != StateReady || len(snap.Notifications) != 3 {
		t.Fatalf("初回取得 = %+v", snap)
	}
	if changes.userID != "super-1" {
		t.Errorf("購読ユーザー = %q, want super-1", changes.userID)
	}

	// 2回目のStartは取得しない
	a.Start(t.Context())
	if n := store.calls(); n != 1 {
		t.Errorf("取得回数 = %d, want 1", n)
	}

	// 開始時のLoadingとReadyを読み捨てる
	for range 2 {
		<-published
	}

	store.mu.Lock()
	store.persisted = append(store.persisted, PersistedNotification{
		ID: "p-new", Type: TypeProfileView, CreatedAt: baseTime,
	})
	store.mu.Unlock()
	changes.fire(*event.New(event.TableNotifications, event.OpInsert, "super-1"))

	deadline := time.After(2 * time.Second)
	for refetched := false; !refetched; {
		select {
		case s := <-published:
			refetched = s.State == StateReady && len(s.Notifications) == 4
		case <-deadline:
			t.Fatal("変更シグナルで再取得されなかった")
		}
	}

	a.Close()
	a.Close()
	changes.mu.Lock()
	unsubscribed := changes.unsubscribed
	changes.mu.Unlock()
	if !unsubscribed {
		t.Error("Closeで購読が解除されていない")
	}
}

// TestCanceledRefetch は取り消された再取得が一覧を上書きしないことを検証する。
func TestCanceledRefetch(t *testing.T) {
	t.Parallel()

	t.Run("取り消されたコンテキストの再取得では一覧が残ること", func(t *testing.T) {
		t.Parallel()

		store := scenarioStore()
		a, cache := newTestAggregator(t, store)
		if err := cache.AddRead(t.Context(), "super-1", "application:app-1"); err != nil {
			t.Fatalf("AddRead()でエラーが発生: %v", err)
		}
		before := a.Refetch(t.Context())
		if len(before.Notifications) != 3 || before.UnreadCount != 1 {
			t.Fatalf("取得前の一覧 = %d件, 未読 %d", len(before.Notifications), before.UnreadCount)
		}

		var published []Snapshot
		unsubscribe := a.Subscribe(func(s Snapshot) { published = append(published, s) })
		defer unsubscribe()

		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		// 取り消し後はどちらの通知元も取得に失敗する
		store.persistedErr = context.Canceled
		store.derivedErr = context.Canceled

		after := a.Refetch(ctx)
		if !slices.Equal(ids(after.Notifications), ids(before.Notifications)) {
			t.Errorf("IDs = %v, want %v", ids(after.Notifications), ids(before.Notifications))
		}
		if after.UnreadCount != 1 {
			t.Errorf("UnreadCount = %d, want 1", after.UnreadCount)
		}
		if after.State != StateReady || after.IsLoading {
			t.Errorf("State = %s, IsLoading = %v, want ready/false", after.State, after.IsLoading)
		}
		for _, snap := range published {
			if len(snap.Notifications) != 3 {
				t.Errorf("購読者に %d件の一覧が公開された", len(snap.Notifications))
			}
		}

		// 取り消されていない次の取得は通常どおり公開される
		store.persistedErr = nil
		store.derivedErr = nil
		if snap := a.Refetch(t.Context()); snap.UnreadCount != 1 {
			t.Errorf("再取得後のUnreadCount = %d, want 1", snap.UnreadCount)
		}
	})

	t.Run("CloseするとDoneが閉じること", func(t *testing.T) {
		t.Parallel()

		a := New("super-1", SuperintendentProfile(), Deps{Store: &fakeStore{}, Cache: readstate.NewCache(readstate.NewMemoryKV(), 0)})
		select {
		case <-a.Done():
			t.Fatal("Close前にDoneが閉じている")
		default:
		}
		a.Close()
		select {
		case <-a.Done():
		case <-time.After(time.Second):
			t.Fatal("Close後もDoneが閉じていない")
		}
	})
}
