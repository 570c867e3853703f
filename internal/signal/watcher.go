package signal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nao1215/crewlink/internal/eventstore"
	"github.com/nao1215/crewlink/pkg/event"
	"github.com/nao1215/crewlink/pkg/logging"
)

// DefaultInterval は変更ログのポーリング間隔の既定値。
const DefaultInterval = time.Second

// batchSize は1回の問い合わせで読む変更ログの件数。
const batchSize = 100

// ChangeFeed は変更ログの読み出し元。eventstore.Storeが実装する。
type ChangeFeed interface {
	ChangesSince(ctx context.Context, after int64, limit int) ([]eventstore.Change, error)
	LatestChangeSeq(ctx context.Context) (int64, error)
}

// Publisher はシグナルの配送先。
type Publisher interface {
	Publish(sig event.Signal)
}

// Watcher は変更ログをポーリングし、変更のあったユーザーへシグナルを配送するバックグラウンドプロセス。
type Watcher struct {
	// feed は変更ログの読み出し元。
	feed ChangeFeed
	// pub はシグナルの配送先。
	pub Publisher
	// interval はポーリング間隔。
	interval time.Duration
	// lastSeq は配送済みの最後の変更ログ番号。
	lastSeq int64
	// mu はlastSeqへの並行アクセスを保護するミューテックス。
	mu sync.Mutex
	// cancel はバックグラウンドゴルーチンを停止するためのキャンセル関数。
	cancel context.CancelFunc
	// done はゴルーチンの終了を通知する。
	done chan struct{}
}

// NewWatcher は新しいWatcherを生成する。intervalが0以下なら既定値を使う。
func NewWatcher(feed ChangeFeed, pub Publisher, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Watcher{
		feed:     feed,
		pub:      pub,
		interval: interval,
	}
}

// Start は現在の最新番号を起点にポーリングを開始する。
// 起動前の変更は配送しない。
func (w *Watcher) Start(ctx context.Context) error {
	seq, err := w.feed.LatestChangeSeq(ctx)
	if err != nil {
		return fmt.Errorf("変更ログの起点の取得に失敗: %w", err)
	}
	w.mu.Lock()
	w.lastSeq = seq
	w.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		logging.Logger.WithField("after", seq).Info("変更ログの監視を開始します")
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logging.Logger.Info("変更ログの監視を停止しました")
				return
			case <-ticker.C:
				if _, err := w.poll(ctx); err != nil {
					logging.Logger.WithError(err).Warn("変更ログのポーリングに失敗しました")
				}
			}
		}
	}()
	return nil
}

// Stop はポーリングを停止し、ゴルーチンの終了を待つ。
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}

// poll は未配送の変更ログをすべて読み、シグナルとして配送した件数を返す。
// 1回の問い合わせで読んだ変更は、ユーザーごとに最後の変更1件へまとめて配送する。
func (w *Watcher) poll(ctx context.Context) (int, error) {
	published := 0
	for {
		w.mu.Lock()
		after := w.lastSeq
		w.mu.Unlock()

		changes, err := w.feed.ChangesSince(ctx, after, batchSize)
		if err != nil {
			return published, err
		}
		if len(changes) == 0 {
			return published, nil
		}

		for _, sig := range coalesce(changes) {
			w.pub.Publish(*sig)
			published++
		}

		w.mu.Lock()
		w.lastSeq = changes[len(changes)-1].Seq
		w.mu.Unlock()

		if len(changes) < batchSize {
			return published, nil
		}
	}
}

// coalesce は変更ログをユーザーごとに1件のシグナルへまとめる。
// 順序は各ユーザーが最初に現れた順で、テーブルと変更種別は最後の変更のものを使う。
func coalesce(changes []eventstore.Change) []*event.Signal {
	var (
		order  []string
		byUser = make(map[string]*event.Signal)
	)
	for _, c := range changes {
		table, op, err := event.Parse(c.Table, c.Op)
		if err != nil {
			logging.Logger.WithError(err).WithField("seq", c.Seq).Warn("変更ログを読み飛ばしました")
			continue
		}
		if _, ok := byUser[c.UserID]; !ok {
			order = append(order, c.UserID)
		}
		byUser[c.UserID] = event.New(table, op, c.UserID)
	}

	out := make([]*event.Signal, 0, len(order))
	for _, userID := range order {
		out = append(out, byUser[userID])
	}
	return out
}
