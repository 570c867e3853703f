package notification

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/crewlink/internal/eventstore"
	"github.com/nao1215/crewlink/internal/notify"
	"github.com/nao1215/crewlink/pkg/logging"
	"github.com/nao1215/crewlink/pkg/middleware"
)

// heartbeatInterval はSSEストリームで接続維持のコメントを送る間隔。
const heartbeatInterval = 25 * time.Second

// DomainStore は内部APIが書き込むイベントストア。eventstore.Storeが実装する。
type DomainStore interface {
	CreateNotification(ctx context.Context, n notify.PersistedNotification) (string, error)
	UserRole(ctx context.Context, userID string) (string, error)
	CreateUser(ctx context.Context, u eventstore.User) error
	CreateJob(ctx context.Context, j eventstore.Job) (string, error)
	CreateApplication(ctx context.Context, a eventstore.Application) (string, error)
	UpdateApplicationStatus(ctx context.Context, id, status string) error
	DeleteApplication(ctx context.Context, id string) error
}

// Options はサーバーの設定。
type Options struct {
	// Port はリッスンポート。
	Port string
	// JWTSecret はトークン検証に使う共有シークレット。
	JWTSecret string
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string
}

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// httpServer はrouterを公開するHTTPサーバー。
	httpServer *http.Server
	// store は内部APIの書き込み先。
	store DomainStore
	// sessions はユーザーごとのAggregator。
	sessions *Sessions
}

// NewServer は新しい通知サーバーを生成する。
func NewServer(store DomainStore, sessions *Sessions, opts Options) *Server {
	return newServer(store, sessions, opts, middleware.JWTAuth(opts.JWTSecret))
}

// newServer は認証ミドルウェアを差し替えてサーバーを生成する。
func newServer(store DomainStore, sessions *Sessions, opts Options, auth gin.HandlerFunc) *Server {
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.LoggerWithWriter(logging.Logger.WriterLevel(logrus.InfoLevel)))
	router.Use(middleware.CORS(opts.AllowedOrigins))

	s := &Server{
		router: router,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%s", opts.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		store:    store,
		sessions: sessions,
	}
	s.setupRoutes(auth)
	return s
}

// Run はHTTPサーバーを起動する。Shutdownで停止した場合はnilを返す。
func (s *Server) Run() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown は新規接続の受け付けを止め、すべてのセッションを破棄する。
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.sessions.CloseAll()
	return err
}

// Handler はルーターを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(auth gin.HandlerFunc) {
	api := s.router.Group("/api/v1")
	{
		notifications := api.Group("/notifications")
		notifications.Use(auth)
		{
			// 統合済み通知一覧
			notifications.GET("", s.handleList())
			// 明示的な再取得
			notifications.POST("/refetch", s.handleRefetch())
			// 1件を既読にする
			notifications.PUT("/:id/read", s.handleMarkAsRead())
			// 全件を既読にする
			notifications.PUT("/read-all", s.handleMarkAllAsRead())
			// 一覧の更新をSSEで受け取る
			notifications.GET("/stream", s.handleStream())
			// セッションの破棄
			notifications.DELETE("/session", s.handleDeleteSession())
		}

		// 内部API（プラットフォームの他のサービスから呼び出される）
		internal := api.Group("/internal")
		{
			internal.POST("/send", s.handleSend())
			internal.POST("/users", s.handleCreateUser())
			internal.POST("/jobs", s.handleCreateJob())
			internal.POST("/applications", s.handleCreateApplication())
			internal.PUT("/applications/:id/status", s.handleUpdateApplicationStatus())
			internal.DELETE("/applications/:id", s.handleDeleteApplication())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification", "sessions": s.sessions.Len()})
	})
}

// identity は認証済みユーザーのIDとロールを取り出す。取り出せなければレスポンスを書いてfalseを返す。
func identity(c *gin.Context) (string, notify.Role, bool) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
		return "", "", false
	}
	role := notify.Role(middleware.GetRole(c))
	if _, err := notify.ProfileFor(role); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": fmt.Sprintf("このロールでは通知を利用できません: %q", role)})
		return "", "", false
	}
	return userID, role, true
}

// aggregator は認証済みユーザーのセッションを取得する。
func (s *Server) aggregator(c *gin.Context) (*notify.Aggregator, bool) {
	userID, role, ok := identity(c)
	if !ok {
		return nil, false
	}
	agg, err := s.sessions.Acquire(c.Request.Context(), userID, role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "セッションの開始に失敗しました"})
		logging.Logger.WithError(err).WithField("user_id", userID).Error("セッションの開始に失敗")
		return nil, false
	}
	return agg, true
}

// handleList は現在の通知一覧と未読件数を返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		agg, ok := s.aggregator(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, agg.Snapshot())
	}
}

// handleRefetch は両方の通知元から取得し直した一覧を返すハンドラ。
func (s *Server) handleRefetch() gin.HandlerFunc {
	return func(c *gin.Context) {
		agg, ok := s.aggregator(c)
		if !ok {
			return
		}
		// 共有セッションの一覧を更新するので、クライアントの切断では取り消さない
		c.JSON(http.StatusOK, agg.Refetch(context.WithoutCancel(c.Request.Context())))
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
// 書き込みの失敗はログに残すだけで、レスポンスは既読にした後の一覧になる。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		agg, ok := s.aggregator(c)
		if !ok {
			return
		}
		notificationID := c.Param("id")
		if notificationID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "通知IDが必要です"})
			return
		}
		c.JSON(http.StatusOK, agg.MarkAsRead(context.WithoutCancel(c.Request.Context()), notificationID))
	}
}

// handleMarkAllAsRead は表示中の通知をすべて既読にするハンドラ。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		agg, ok := s.aggregator(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, agg.MarkAllAsRead(context.WithoutCancel(c.Request.Context())))
	}
}

// handleStream は一覧が公開されるたびにsnapshotイベントを送るSSEハンドラ。
// 接続直後に現在の一覧を1回送る。セッションが破棄されるとストリームを閉じる。
func (s *Server) handleStream() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, role, ok := identity(c)
		if !ok {
			return
		}
		agg, release, err := s.sessions.AcquireStream(c.Request.Context(), userID, role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "セッションの開始に失敗しました"})
			return
		}
		defer release()

		// 最新の一覧だけを保持する。送信が追いつかない間の中間状態は捨てる。
		updates := make(chan notify.Snapshot, 1)
		unsubscribe := agg.Subscribe(func(snap notify.Snapshot) {
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- snap:
			default:
			}
		})
		defer unsubscribe()

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		c.SSEvent("snapshot", agg.Snapshot())
		c.Writer.Flush()

		ctx := c.Request.Context()
		c.Stream(func(w io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case <-agg.Done():
				// セッションが破棄されたので、クライアントに再接続させる
				return false
			case snap := <-updates:
				c.SSEvent("snapshot", snap)
				return true
			case <-heartbeat.C:
				fmt.Fprint(w, ": ping\n\n")
				return true
			}
		})
	}
}

// handleDeleteSession はセッションを破棄するハンドラ。ダッシュボードを閉じたときに呼ばれる。
func (s *Server) handleDeleteSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, role, ok := identity(c)
		if !ok {
			return
		}
		s.sessions.Release(userID, role)
		c.Status(http.StatusNoContent)
	}
}
