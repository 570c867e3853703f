package notify

import (
	"errors"
	"strings"
	"time"
)

// ErrNotFound は指定された通知がユーザーの通知として存在しないことを表す。
var ErrNotFound = errors.New("通知が見つかりません")

// Role はダッシュボードを利用するユーザーのロール。
type Role string

const (
	// RoleManager は求人を掲載する船舶管理会社の担当者。
	RoleManager Role = "manager"
	// RoleSuperintendent は求人に応募する監督者。
	RoleSuperintendent Role = "superintendent"
)

// Type は通知の意味的な種類。
type Type string

const (
	// TypeProfileView はプロフィールが閲覧されたことを表す。両ロール共通。
	TypeProfileView Type = "profile_view"
	// TypeNewApplication は掲載した求人に新しい応募があったことを表す。
	TypeNewApplication Type = "new_application"
	// TypeApplicationAccepted は応募が承認されたことを表す。
	TypeApplicationAccepted Type = "application_accepted"
	// TypeApplicationRejected は応募が不採用になったことを表す。
	TypeApplicationRejected Type = "application_rejected"
)

// Origin は通知の出どころ。
type Origin string

const (
	// OriginPersisted はnotificationsテーブルに保存された通知。
	OriginPersisted Origin = "persisted"
	// OriginDerived は応募データから導出された通知。
	OriginDerived Origin = "derived"
)

// derivedIDPrefix は派生イベントIDの名前空間。
// 永続化通知のIDはUUIDなのでこの接頭辞と衝突しない。
const derivedIDPrefix = "application:"

// DerivedID は応募IDから派生イベントのIDを生成する。
func DerivedID(applicationID string) string {
	return derivedIDPrefix + applicationID
}

// IsDerivedID はIDが派生イベントの名前空間に属するかを返す。
func IsDerivedID(id string) bool {
	return strings.HasPrefix(id, derivedIDPrefix)
}

// Source は統合前の通知を表す閉じた直和型。
// PersistedNotificationとDerivedEventだけが実装する。
type Source interface {
	source()
}

// PersistedNotification はサーバーに永続化された通知。
type PersistedNotification struct {
	ID        string
	UserID    string
	Type      Type
	Title     string
	Message   string
	CreatedAt time.Time
	IsRead    bool
}

func (PersistedNotification) source() {}

// DerivedEvent は応募データから導出された通知。既読状態は持たない。
type DerivedEvent struct {
	ID            string
	ApplicationID string
	Type          Type
	Title         string
	Message       string
	CreatedAt     time.Time
}

func (DerivedEvent) source() {}

// ApplicationEvent はイベントストアが返す応募・求人・相手ユーザーの結合行。
// 結合先が欠けている場合、該当フィールドは空文字列になる。
type ApplicationEvent struct {
	// ApplicationID は応募の識別子。
	ApplicationID string
	// Status は応募の状態（pending, accepted, rejected など）。
	Status string
	// JobTitle は応募先求人のタイトル。
	JobTitle string
	// CounterpartyName は相手ユーザーの名前。
	CounterpartyName string
	// CounterpartyCompany は相手ユーザーの所属会社。
	CounterpartyCompany string
	// Timestamp は状態変更なら更新日時、新規応募なら作成日時。
	Timestamp time.Time
}

// Notification は表示面に渡す統合済みの通知。
type Notification struct {
	ID        string    `json:"id"`
	Origin    Origin    `json:"origin"`
	Type      Type      `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	Read      bool      `json:"read"`
}

// State はAggregatorの状態。
type State string

const (
	// StateIdle はまだ一度も取得していない状態。
	StateIdle State = "idle"
	// StateLoading は再取得中の状態。
	StateLoading State = "loading"
	// StateReady は取得が完了した状態。取得失敗時も部分データでこの状態になる。
	StateReady State = "ready"
)

// Snapshot は購読者に公開する一覧と件数。
type Snapshot struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unread_count"`
	IsLoading     bool           `json:"is_loading"`
	State         State          `json:"state"`
}
