package bell

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config はベルクライアントの設定。
type Config struct {
	// ServerURL は通知サービスのベースURL。
	ServerURL string `mapstructure:"server_url" yaml:"server_url"`
	// PollIntervalSec は一覧を取り直す間隔（秒）。
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
	// Width はドロップダウンの表示幅。
	Width int `mapstructure:"width" yaml:"width"`
}

// PollInterval はポーリング間隔をtime.Durationで返す。
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// DefaultConfigPath は ~/.config/crewlink/bell.yaml を返す。
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "bell.yaml")
	}
	return filepath.Join(home, ".config", "crewlink", "bell.yaml")
}

func defaultConfig() *Config {
	return &Config{
		ServerURL:       "http://localhost:8086",
		PollIntervalSec: 30,
		Width:           60,
	}
}

// LoadConfig はYAMLファイルから設定を読み込む。
// ファイルが存在しない場合はデフォルト値を返す。
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	def := defaultConfig()
	v.SetDefault("server_url", def.ServerURL)
	v.SetDefault("poll_interval_sec", def.PollIntervalSec)
	v.SetDefault("width", def.Width)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &pathErr) || errors.As(err, &notFound) {
			return def, nil
		}
		return nil, fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", path, err)
	}

	cfg := defaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("設定ファイル %s の解析に失敗: %w", path, err)
	}
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("設定ファイル %s: server_url が空です", path)
	}
	if cfg.PollIntervalSec <= 0 {
		cfg.PollIntervalSec = def.PollIntervalSec
	}
	if cfg.Width < 30 {
		cfg.Width = 30
	}
	return cfg, nil
}
