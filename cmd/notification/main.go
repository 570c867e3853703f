// 通知サービスのエントリポイント。
// イベントストアと既読キャッシュを開き、変更ログの監視とHTTPサーバーを起動する。
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nao1215/crewlink/internal/config"
	"github.com/nao1215/crewlink/internal/eventstore"
	"github.com/nao1215/crewlink/internal/notification"
	"github.com/nao1215/crewlink/internal/notify"
	"github.com/nao1215/crewlink/internal/readstate"
	changesignal "github.com/nao1215/crewlink/internal/signal"
	"github.com/nao1215/crewlink/pkg/logging"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		logging.Logger.Fatalf("設定の読み込みに失敗: %v", err)
	}
	if err := logging.Init(logging.Options{Service: "notification", Level: cfg.LogLevel, File: cfg.LogFile}); err != nil {
		logging.Logger.Fatalf("ロガーの初期化に失敗: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := eventstore.Open(ctx, cfg.DatabasePath)
	if err != nil {
		logging.Logger.Fatalf("イベントストアの初期化に失敗: %v", err)
	}
	defer store.Close()

	kv, err := readstate.OpenSQLiteKV(cfg.ReadStatePath)
	if err != nil {
		logging.Logger.Fatalf("既読キャッシュの初期化に失敗: %v", err)
	}
	defer kv.Close()

	broker := changesignal.NewBroker()
	watcher := changesignal.NewWatcher(store, broker, cfg.ChangePollInterval)
	if err := watcher.Start(ctx); err != nil {
		logging.Logger.Fatalf("変更ログの監視開始に失敗: %v", err)
	}
	defer watcher.Stop()

	sessions := notification.NewSessions(notify.Deps{
		Store:   store,
		Cache:   readstate.NewCache(kv, cfg.ReadStateLimit),
		Changes: broker,
	}, cfg.SessionIdleTimeout)
	go sessions.RunSweeper(ctx, time.Minute)

	server := notification.NewServer(store, sessions, notification.Options{
		Port:           cfg.Port,
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.FrontendURLs,
	})

	errCh := make(chan error, 1)
	go func() {
		logging.Logger.Infof("通知サービスを起動します: :%s", cfg.Port)
		errCh <- server.Run()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logging.Logger.Errorf("通知サービスの起動に失敗: %v", err)
		}
	case <-ctx.Done():
		logging.Logger.Info("停止シグナルを受信しました")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Logger.Errorf("HTTPサーバーの停止に失敗: %v", err)
	}
}
