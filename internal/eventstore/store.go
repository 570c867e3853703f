package eventstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nao1215/crewlink/internal/notify"
	"github.com/nao1215/crewlink/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound は対象の行が存在しないことを表す。
var ErrNotFound = errors.New("レコードが見つかりません")

// Store はSQLite上のイベントストア。notify.Storeを実装する。
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ notify.Store = (*Store)(nil)

// Open はSQLiteファイルを開き、マイグレーションを適用する。
// pathに":memory:"を渡すとインメモリDBになる。
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path + "?_time_format=sqlite"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if path == ":memory:" {
		// インメモリDBは接続ごとに別物になるため1接続に固定する
		db.SetMaxOpenConns(1)
	}

	if err := migration.Run(ctx, db.DB, migrationsFS, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("マイグレーションに失敗: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close はDB接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

type notificationRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Type      string    `db:"type"`
	Title     string    `db:"title"`
	Message   string    `db:"message"`
	IsRead    bool      `db:"is_read"`
	CreatedAt time.Time `db:"created_at"`
}

// FetchPersisted はユーザーの永続化通知を新しい順に返す。
// sinceがゼロ値なら全期間を対象にする。
func (s *Store) FetchPersisted(ctx context.Context, userID string, since time.Time) ([]notify.PersistedNotification, error) {
	query := `SELECT id, user_id, type, title, message, is_read, created_at
		FROM notifications WHERE user_id = ?`
	args := []any{userID}
	if !since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, since.UTC())
	}
	query += ` ORDER BY created_at DESC`

	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}

	out := make([]notify.PersistedNotification, 0, len(rows))
	for _, r := range rows {
		out = append(out, notify.PersistedNotification{
			ID:        r.ID,
			UserID:    r.UserID,
			Type:      notify.Type(r.Type),
			Title:     r.Title,
			Message:   r.Message,
			CreatedAt: r.CreatedAt,
			IsRead:    r.IsRead,
		})
	}
	return out, nil
}

type applicationEventRow struct {
	ApplicationID       string         `db:"application_id"`
	Status              string         `db:"status"`
	JobTitle            sql.NullString `db:"job_title"`
	CounterpartyName    sql.NullString `db:"counterparty_name"`
	CounterpartyCompany sql.NullString `db:"counterparty_company"`
	Timestamp           time.Time      `db:"ts"`
}

// 監督者: 自分の応募のうち承認・不採用になったもの。相手は求人の掲載者。
const outcomeQuery = `SELECT a.id AS application_id, a.status AS status,
		j.title AS job_title, u.name AS counterparty_name, u.company AS counterparty_company,
		a.updated_at AS ts
	FROM job_applications a
	LEFT JOIN jobs j ON j.id = a.job_id
	LEFT JOIN users u ON u.id = j.posted_by
	WHERE a.applicant_id = ? AND a.status IN ('accepted', 'rejected')`

// マネージャー: 自分が掲載した求人への応募。相手は応募者。
const receivedQuery = `SELECT a.id AS application_id, a.status AS status,
		j.title AS job_title, u.name AS counterparty_name, u.company AS counterparty_company,
		a.created_at AS ts
	FROM job_applications a
	JOIN jobs j ON j.id = a.job_id
	LEFT JOIN users u ON u.id = a.applicant_id
	WHERE j.posted_by = ?`

// FetchDerived はロールに応じた応募イベントを新しい順に返す。
// 結合先の求人やユーザーが消えている場合は該当フィールドを空文字列にする。
func (s *Store) FetchDerived(ctx context.Context, role notify.Role, userID string, since time.Time) ([]notify.ApplicationEvent, error) {
	var query, tsColumn string
	switch role {
	case notify.RoleSuperintendent:
		query, tsColumn = outcomeQuery, "a.updated_at"
	case notify.RoleManager:
		query, tsColumn = receivedQuery, "a.created_at"
	default:
		return nil, fmt.Errorf("未知のロール: %q", role)
	}

	args := []any{userID}
	if !since.IsZero() {
		query += ` AND ` + tsColumn + ` >= ?`
		args = append(args, since.UTC())
	}
	query += ` ORDER BY ts DESC`

	var rows []applicationEventRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("応募イベントの取得に失敗: %w", err)
	}

	out := make([]notify.ApplicationEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, notify.ApplicationEvent{
			ApplicationID:       r.ApplicationID,
			Status:              r.Status,
			JobTitle:            r.JobTitle.String,
			CounterpartyName:    r.CounterpartyName.String,
			CounterpartyCompany: r.CounterpartyCompany.String,
			Timestamp:           r.Timestamp,
		})
	}
	return out, nil
}

// SetPersistedRead はユーザーの通知1件を既読にする。
// 他ユーザーの通知や存在しないIDはnotify.ErrNotFoundになる。
func (s *Store) SetPersistedRead(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("通知の既読化に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("通知 %s: %w", id, notify.ErrNotFound)
	}
	return nil
}

// SetAllPersistedRead はユーザーの未読通知をすべて既読にする。
func (s *Store) SetAllPersistedRead(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE user_id = ? AND is_read = 0`, userID); err != nil {
		return fmt.Errorf("全通知の既読化に失敗: %w", err)
	}
	return nil
}

// CreateNotification は永続化通知を保存し、採番したIDを返す。
// IDとCreatedAtが空なら採番・現在時刻で補う。
func (s *Store) CreateNotification(ctx context.Context, n notify.PersistedNotification) (string, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, is_read, created_at)
		VALUES (:id, :user_id, :type, :title, :message, :is_read, :created_at)`,
		notificationRow{
			ID:        n.ID,
			UserID:    n.UserID,
			Type:      string(n.Type),
			Title:     n.Title,
			Message:   n.Message,
			IsRead:    n.IsRead,
			CreatedAt: n.CreatedAt.UTC(),
		})
	if err != nil {
		return "", fmt.Errorf("通知の作成に失敗: %w", err)
	}
	return n.ID, nil
}
