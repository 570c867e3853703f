package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nao1215/crewlink/internal/readstate"
	"github.com/nao1215/crewlink/pkg/event"
)

var errUnavailable = errors.New("一時的に利用できません")

// fakeStore はテスト用のStore。呼び出しを記録する。
type fakeStore struct {
	mu sync.Mutex

	persisted    []PersistedNotification
	events       []ApplicationEvent
	persistedErr error
	derivedErr   error
	writeErr     error

	// onFetchPersisted が設定されていれば、n回目の呼び出しでこれを使う。
	onFetchPersisted func(n int) ([]PersistedNotification, error)

	persistedCalls int
	derivedCalls   int
	derivedRoles   []Role
	sinces         []time.Time
	readIDs        []string
	readAllCalls   int
}

func (s *fakeStore) FetchPersisted(_ context.Context, _ string, since time.Time) ([]PersistedNotification, error) {
	s.mu.Lock()
	s.persistedCalls++
	n := s.persistedCalls
	s.sinces = append(s.sinces, since)
	hook := s.onFetchPersisted
	out, err := append([]PersistedNotification(nil), s.persisted...), s.persistedErr
	s.mu.Unlock()

	if hook != nil {
		return hook(n)
	}
	return out, err
}

func (s *fakeStore) FetchDerived(_ context.Context, role Role, _ string, _ time.Time) ([]ApplicationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.derivedCalls++
	s.derivedRoles = append(s.derivedRoles, role)
	if s.derivedErr != nil {
		return nil, s.derivedErr
	}
	return append([]ApplicationEvent(nil), s.events...), nil
}

func (s *fakeStore) SetPersistedRead(_ context.Context, _ string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readIDs = append(s.readIDs, id)
	if s.writeErr != nil {
		return s.writeErr
	}
	for i := range s.persisted {
		if s.persisted[i].ID == id {
			s.persisted[i].IsRead = true
			return nil
		}
	}
	return ErrNotFound
}

func (s *fakeStore) SetAllPersistedRead(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readAllCalls++
	if s.writeErr != nil {
		return s.writeErr
	}
	for i := range s.persisted {
		s.persisted[i].IsRead = true
	}
	return nil
}

func (s *fakeStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistedCalls
}

// brokenCache は常に失敗するReadStateCache。
type brokenCache struct{}

func (brokenCache) GetReadSet(context.Context, string) (readstate.Set, error) {
	return readstate.Set{}, errUnavailable
}
func (brokenCache) AddRead(context.Context, string, string) error        { return errUnavailable }
func (brokenCache) AddReadBatch(context.Context, string, []string) error { return errUnavailable }
func (brokenCache) Prune(context.Context, string) (bool, error)          { return false, errUnavailable }

// fakeChanges は購読を記録するChangeSource。
type fakeChanges struct {
	mu           sync.Mutex
	userID       string
	fn           func(event.Signal)
	unsubscribed bool
}

func (c *fakeChanges) Subscribe(userID string, fn func(event.Signal)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.fn = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.unsubscribed = true
		c.fn = nil
	}
}

func (c *fakeChanges) fire(sig event.Signal) {
	c.mu.Lock()
	fn := c.fn
	c.mu.Unlock()
	if fn != nil {
		fn(sig)
	}
}
