package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// 応募の状態。
const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// ValidStatus は応募の状態として有効な値かを返す。
func ValidStatus(status string) bool {
	switch status {
	case StatusPending, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

// User はプラットフォームのユーザー。
type User struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Company   string    `db:"company"`
	Role      string    `db:"role"`
	CreatedAt time.Time `db:"created_at"`
}

// Job は求人。
type Job struct {
	ID        string    `db:"id"`
	Title     string    `db:"title"`
	PostedBy  string    `db:"posted_by"`
	CreatedAt time.Time `db:"created_at"`
}

// Application は求人への応募。
type Application struct {
	ID          string    `db:"id"`
	JobID       string    `db:"job_id"`
	ApplicantID string    `db:"applicant_id"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// CreateUser はユーザーを保存する。
func (s *Store) CreateUser(ctx context.Context, u User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	u.CreatedAt = u.CreatedAt.UTC()

	if _, err := s.db.NamedExecContext(ctx, `
		INSERT INTO users (id, name, company, role, created_at)
		VALUES (:id, :name, :company, :role, :created_at)`, u); err != nil {
		return fmt.Errorf("ユーザーの作成に失敗: %w", err)
	}
	return nil
}

// UserRole はユーザーのロールを返す。存在しなければErrNotFound。
func (s *Store) UserRole(ctx context.Context, userID string) (string, error) {
	var role string
	err := s.db.GetContext(ctx, &role, `SELECT role FROM users WHERE id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("ユーザー %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	return role, nil
}

// CreateJob は求人を保存し、IDを返す。
func (s *Store) CreateJob(ctx context.Context, j Job) (string, error) {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = s.now()
	}
	j.CreatedAt = j.CreatedAt.UTC()

	if _, err := s.db.NamedExecContext(ctx, `
		INSERT INTO jobs (id, title, posted_by, created_at)
		VALUES (:id, :title, :posted_by, :created_at)`, j); err != nil {
		return "", fmt.Errorf("求人の作成に失敗: %w", err)
	}
	return j.ID, nil
}

// CreateApplication は応募を保存し、IDを返す。状態が空ならpendingになる。
func (s *Store) CreateApplication(ctx context.Context, a Application) (string, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = StatusPending
	}
	if !ValidStatus(a.Status) {
		return "", fmt.Errorf("応募の状態が不正です: %q", a.Status)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()

	if _, err := s.db.NamedExecContext(ctx, `
		INSERT INTO job_applications (id, job_id, applicant_id, status, created_at, updated_at)
		VALUES (:id, :job_id, :applicant_id, :status, :created_at, :updated_at)`, a); err != nil {
		return "", fmt.Errorf("応募の作成に失敗: %w", err)
	}
	return a.ID, nil
}

// UpdateApplicationStatus は応募の状態と更新日時を変更する。
func (s *Store) UpdateApplicationStatus(ctx context.Context, id, status string) error {
	if !ValidStatus(status) {
		return fmt.Errorf("応募の状態が不正です: %q", status)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE job_applications SET status = ?, updated_at = ? WHERE id = ?`,
		status, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("応募の状態更新に失敗: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("応募 %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteApplication は応募を削除する。派生イベントは次回の取得で消える。
func (s *Store) DeleteApplication(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM job_applications WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("応募の削除に失敗: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("応募 %s: %w", id, ErrNotFound)
	}
	return nil
}

// Change は変更ログの1行。
type Change struct {
	Seq       int64     `db:"seq"`
	Table     string    `db:"table_name"`
	Op        string    `db:"op"`
	UserID    string    `db:"user_id"`
	ChangedAt time.Time `db:"changed_at"`
}

// ChangesSince は指定した番号より後の変更ログを古い順に最大limit件返す。
func (s *Store) ChangesSince(ctx context.Context, after int64, limit int) ([]Change, error) {
	var changes []Change
	if err := s.db.SelectContext(ctx, &changes, `
		SELECT seq, table_name, op, user_id, changed_at
		FROM change_log WHERE seq > ? ORDER BY seq LIMIT ?`, after, limit); err != nil {
		return nil, fmt.Errorf("変更ログの取得に失敗: %w", err)
	}
	return changes, nil
}

// LatestChangeSeq は変更ログの最新番号を返す。ログが空なら0。
func (s *Store) LatestChangeSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.GetContext(ctx, &seq, `SELECT COALESCE(MAX(seq), 0) FROM change_log`); err != nil {
		return 0, fmt.Errorf("変更ログの最新番号の取得に失敗: %w", err)
	}
	return seq, nil
}
