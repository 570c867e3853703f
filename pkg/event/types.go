package event

import (
	"time"
)

// Table は変更シグナルの発生元となるテーブルを表す。
type Table string

const (
	// TableNotifications は永続化された通知テーブルを表す。
	TableNotifications Table = "notifications"
	// TableJobApplications は求人応募テーブルを表す。派生イベントの元データ。
	TableJobApplications Table = "job_applications"
)

// Op は変更の種類を表す。
type Op string

const (
	// OpInsert は行の挿入を表す。
	OpInsert Op = "INSERT"
	// OpUpdate は行の更新を表す。
	OpUpdate Op = "UPDATE"
	// OpDelete は行の削除を表す。
	OpDelete Op = "DELETE"
)

// Signal は「このユーザーに関する何かが変わった」ことだけを伝える変更シグナル。
// 差分情報は持たないため、受信側は常に全件を再取得する。
type Signal struct {
	// ID はシグナルの一意識別子。
	ID string `json:"id"`
	// Table は変更が発生したテーブル。
	Table Table `json:"table"`
	// Op は変更の種類。
	Op Op `json:"op"`
	// UserID は変更の影響を受けるユーザーのID。
	UserID string `json:"user_id"`
	// CreatedAt はシグナルが生成された日時。
	CreatedAt time.Time `json:"created_at"`
}
