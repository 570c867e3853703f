package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New は新しい変更シグナルを生成する。
func New(table Table, op Op, userID string) *Signal {
	return &Signal{
		ID:        uuid.New().String(),
		Table:     table,
		Op:        op,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
}

// Parse は変更ログに記録された文字列からテーブルと変更種別を復元する。
// 購読対象外のテーブルや未知の変更種別はエラーになる。
func Parse(table, op string) (Table, Op, error) {
	t := Table(table)
	switch t {
	case TableNotifications, TableJobApplications:
	default:
		return "", "", fmt.Errorf("未知のテーブル: %q", table)
	}

	o := Op(op)
	switch o {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return "", "", fmt.Errorf("未知の変更種別: %q", op)
	}
	return t, o, nil
}
