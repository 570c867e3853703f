// 通知ベルのターミナルクライアント。
//
//	bell              ベルを起動する
//	bell login TOKEN  APIトークンをキーリングに保存する
//	bell logout       保存したトークンを削除する
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nao1215/crewlink/internal/bell"
	"github.com/nao1215/crewlink/pkg/logging"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "bell:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	configPath := bell.DefaultConfigPath()
	configDir := filepath.Dir(configPath)

	// 画面を崩さないようにログはファイルにだけ出す
	if err := logging.Init(logging.Options{
		Service: "bell",
		Level:   os.Getenv("LOG_LEVEL"),
		File:    filepath.Join(configDir, "bell.log"),
	}); err != nil {
		return err
	}

	tokens, err := bell.OpenTokenStore(filepath.Join(configDir, "credentials"))
	if err != nil {
		return err
	}

	if len(args) > 0 {
		switch args[0] {
		case "login":
			if len(args) != 2 {
				return errors.New("使い方: bell login TOKEN")
			}
			return tokens.Set(args[1])
		case "logout":
			return tokens.Delete()
		default:
			return fmt.Errorf("未知のサブコマンド: %s", args[0])
		}
	}

	cfg, err := bell.LoadConfig(configPath)
	if err != nil {
		return err
	}

	token := os.Getenv("CREWLINK_TOKEN")
	if token == "" {
		token, err = tokens.Get()
		if errors.Is(err, bell.ErrNoToken) {
			return errors.New("トークンがありません。bell login TOKEN で保存してください")
		}
		if err != nil {
			return err
		}
	}

	client := bell.NewClient(cfg.ServerURL, token)
	p := tea.NewProgram(bell.NewModel(client, cfg), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("ベルの実行に失敗: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.CloseSession(ctx); err != nil {
		logging.Logger.WithError(err).Warn("セッションの破棄に失敗しました")
	}
	return nil
}
