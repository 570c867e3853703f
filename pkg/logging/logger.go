// Package logging はサービス共通のlogrusロガーを提供する。
//
// LOG_FILEが指定された場合はlumberjackでローテーションされるファイルに出力し、
// 指定がなければ標準出力に出力する。
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger はサービス全体で共有するロガー。
var Logger = logrus.New()

// Options はロガーの初期化設定。
type Options struct {
	// Service はログに出力するサービス名。
	Service string
	// Level はログレベル（debug, info, warn, error）。
	Level string
	// File はログファイルのパス。空の場合は標準出力。
	File string
}

// Formatter はサービス名とフィールドを1行にまとめるlogrusフォーマッタ。
type Formatter struct {
	// Service はログに出力するサービス名。
	Service string
}

// Format はlogrus.Formatterを実装する。
func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := entry.Buffer
	if b == nil {
		b = &bytes.Buffer{}
	}

	fmt.Fprintf(b, "%s [%s] %s: %s",
		entry.Time.UTC().Format("2006-01-02T15:04:05.000Z"),
		f.Service,
		strings.ToUpper(entry.Level.String()),
		entry.Message,
	)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=%v", k, entry.Data[k])
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

// Init はロガーを初期化する。
func Init(opts Options) error {
	level := logrus.InfoLevel
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return fmt.Errorf("ログレベルの解析に失敗: %w", err)
		}
		level = parsed
	}

	var out io.Writer = os.Stdout
	if opts.File != "" {
		out = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28, // 日
			Compress:   true,
		}
	}

	Logger.SetOutput(out)
	Logger.SetFormatter(&Formatter{Service: opts.Service})
	Logger.SetLevel(level)
	return nil
}
