package signal

import (
	"sync"

	"github.com/nao1215/crewlink/pkg/event"
)

// Broker はプロセス内の変更シグナル配送路。notify.ChangeSourceを実装する。
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[int]func(event.Signal)
	nextID int
}

// NewBroker は新しいBrokerを生成する。
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[int]func(event.Signal))}
}

// Subscribe はユーザー宛てのシグナルを受け取る関数を登録する。
// 戻り値の関数で登録を解除する。解除は何度呼んでもよい。
func (b *Broker) Subscribe(userID string, fn func(event.Signal)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[int]func(event.Signal))
	}
	b.subs[userID][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[userID], id)
			if len(b.subs[userID]) == 0 {
				delete(b.subs, userID)
			}
		})
	}
}

// Publish はシグナルを対象ユーザーの購読者全員に同期的に渡す。
// 購読者がいなければ何もしない。
func (b *Broker) Publish(sig event.Signal) {
	b.mu.RLock()
	fns := make([]func(event.Signal), 0, len(b.subs[sig.UserID]))
	for _, fn := range b.subs[sig.UserID] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(sig)
	}
}

// Subscribers はユーザーの購読者数を返す。
func (b *Broker) Subscribers(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}
