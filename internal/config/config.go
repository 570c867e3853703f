// Package config は通知サービスの設定を環境変数から読み込む。
//
// カレントディレクトリに.envがあれば先に読み込む。すでに設定済みの環境変数は上書きしない。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config は通知サービスの設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `env:"PORT" envDefault:"8086"`
	// DatabasePath はイベントストアのSQLiteファイル。
	DatabasePath string `env:"DATABASE_PATH" envDefault:"/data/crewlink.db"`
	// ReadStatePath は既読キャッシュのSQLiteファイル。":memory:"ならプロセス内だけで保持する。
	ReadStatePath string `env:"READSTATE_PATH" envDefault:"/data/readstate.db"`
	// ReadStateLimit は既読キャッシュを半分に切り詰める件数の閾値。
	ReadStateLimit int `env:"READSTATE_LIMIT" envDefault:"50"`
	// JWTSecret はトークン検証に使う共有シークレット。
	JWTSecret string `env:"JWT_SECRET" envDefault:"dev-secret-key"`
	// ChangePollInterval は変更ログのポーリング間隔。
	ChangePollInterval time.Duration `env:"CHANGE_POLL_INTERVAL" envDefault:"1s"`
	// SessionIdleTimeout は操作のないセッションを破棄するまでの時間。
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"30m"`
	// LogLevel はログレベル。
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// LogFile はログファイルのパス。空なら標準出力。
	LogFile string `env:"LOG_FILE"`
	// FrontendURLs はCORSで許可するオリジン。カンマ区切り。
	FrontendURLs []string `env:"FRONTEND_URL" envSeparator:"," envDefault:"http://localhost:3000"`
}

// Load は.envファイル（任意）と環境変数から設定を読み込む。
// envFileが空なら".env"を使う。
func Load(envFile string) (Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("%sの読み込みに失敗: %w", envFile, err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("環境変数の解析に失敗: %w", err)
	}
	return cfg, cfg.validate()
}

// Parse は与えられた環境変数だけから設定を読み込む。
func Parse(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("環境変数の解析に失敗: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	var errs []error
	if strings.TrimSpace(c.Port) == "" {
		errs = append(errs, errors.New("PORTが空です"))
	}
	if c.ReadStateLimit <= 0 {
		errs = append(errs, fmt.Errorf("READSTATE_LIMITは正の数である必要があります: %d", c.ReadStateLimit))
	}
	if c.ChangePollInterval <= 0 {
		errs = append(errs, fmt.Errorf("CHANGE_POLL_INTERVALは正の値である必要があります: %s", c.ChangePollInterval))
	}
	if c.SessionIdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_IDLE_TIMEOUTは正の値である必要があります: %s", c.SessionIdleTimeout))
	}
	return errors.Join(errs...)
}
