package bell

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/nao1215/crewlink/internal/notify"
	"github.com/nao1215/crewlink/pkg/httpclient"
	"github.com/nao1215/crewlink/pkg/logging"
)

// ErrUnavailable は通知サービスへの呼び出しが遮断されていることを表す。
var ErrUnavailable = errors.New("通知サービスに接続できません")

// API はベルが呼び出す通知サービスの操作。
type API interface {
	List(ctx context.Context) (notify.Snapshot, error)
	Refetch(ctx context.Context) (notify.Snapshot, error)
	MarkAsRead(ctx context.Context, id string) (notify.Snapshot, error)
	MarkAllAsRead(ctx context.Context) (notify.Snapshot, error)
	CloseSession(ctx context.Context) error
}

// Client は通知サービスのHTTP APIクライアント。
// 連続した失敗でサーキットブレーカーが開き、一定時間呼び出しを止める。
type Client struct {
	http    *httpclient.Client
	breaker *gobreaker.CircuitBreaker
}

var _ API = (*Client)(nil)

// NewClient は新しいAPIクライアントを生成する。
func NewClient(baseURL, token string) *Client {
	return &Client{
		http: httpclient.New(baseURL, httpclient.WithToken(token), httpclient.WithTimeout(10*time.Second)),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "notification-api",
			MaxRequests: 1,
			Timeout:     5 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 3
			},
			// 4xxはサーバーの障害ではないので失敗として数えない
			IsSuccessful: func(err error) bool {
				var se *httpclient.StatusError
				if errors.As(err, &se) {
					return !se.Temporary()
				}
				return err == nil
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Logger.Infof("サーキットブレーカー '%s' の状態が %s から %s に変わりました", name, from, to)
			},
		}),
	}
}

func (c *Client) snapshot(ctx context.Context, call func(ctx context.Context, out *notify.Snapshot) error) (notify.Snapshot, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		var snap notify.Snapshot
		if err := call(ctx, &snap); err != nil {
			return nil, err
		}
		return snap, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return notify.Snapshot{}, ErrUnavailable
		}
		return notify.Snapshot{}, err
	}
	return res.(notify.Snapshot), nil
}

// List は現在の通知一覧を取得する。
func (c *Client) List(ctx context.Context) (notify.Snapshot, error) {
	return c.snapshot(ctx, func(ctx context.Context, out *notify.Snapshot) error {
		return c.http.GetJSON(ctx, "/api/v1/notifications", out)
	})
}

// Refetch はサーバーに再取得させた一覧を返す。
func (c *Client) Refetch(ctx context.Context) (notify.Snapshot, error) {
	return c.snapshot(ctx, func(ctx context.Context, out *notify.Snapshot) error {
		return c.http.PostJSON(ctx, "/api/v1/notifications/refetch", nil, out)
	})
}

// MarkAsRead は1件を既読にする。
func (c *Client) MarkAsRead(ctx context.Context, id string) (notify.Snapshot, error) {
	return c.snapshot(ctx, func(ctx context.Context, out *notify.Snapshot) error {
		return c.http.PutJSON(ctx, "/api/v1/notifications/"+url.PathEscape(id)+"/read", nil, out)
	})
}

// MarkAllAsRead は全件を既読にする。
func (c *Client) MarkAllAsRead(ctx context.Context) (notify.Snapshot, error) {
	return c.snapshot(ctx, func(ctx context.Context, out *notify.Snapshot) error {
		return c.http.PutJSON(ctx, "/api/v1/notifications/read-all", nil, out)
	})
}

// CloseSession はサーバー側のセッションを破棄する。
func (c *Client) CloseSession(ctx context.Context) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.http.Delete(ctx, "/api/v1/notifications/session")
	})
	return err
}
