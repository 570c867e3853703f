package notification

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/crewlink/internal/eventstore"
	"github.com/nao1215/crewlink/internal/notify"
	"github.com/nao1215/crewlink/pkg/logging"
)

// sendRequest は通知送信リクエストのJSON構造。
type sendRequest struct {
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id" binding:"required"`
	// Type は通知の種類。省略時はprofile_view。
	Type string `json:"type"`
	// Title は通知のタイトル。
	Title string `json:"title" binding:"required"`
	// Message は通知メッセージ。
	Message string `json:"message" binding:"required"`
}

// persistedTypes は内部APIで保存できる通知種別。
var persistedTypes = map[notify.Type]struct{}{
	notify.TypeProfileView:         {},
	notify.TypeNewApplication:      {},
	notify.TypeApplicationAccepted: {},
	notify.TypeApplicationRejected: {},
}

// handleSend は永続化通知を保存するハンドラ。
// 保存すると変更ログ経由で通知先ユーザーのセッションが再取得する。
func (s *Server) handleSend() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		typ := notify.TypeProfileView
		if req.Type != "" {
			typ = notify.Type(req.Type)
		}
		if _, ok := persistedTypes[typ]; !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("通知の種類が不正です: %q", req.Type)})
			return
		}

		// 登録済みのユーザーにはロールの一覧に出る種別だけを送る
		role, err := s.store.UserRole(c.Request.Context(), req.UserID)
		switch {
		case errors.Is(err, eventstore.ErrNotFound):
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知先ユーザーの取得に失敗しました"})
			logging.Logger.WithError(err).WithField("user_id", req.UserID).Error("ユーザー取得エラー")
			return
		default:
			if profile, err := notify.ProfileFor(notify.Role(role)); err == nil && !profile.Allows(typ) {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("ロール %q には送れない通知の種類です: %q", role, typ)})
				return
			}
		}

		id, err := s.store.CreateNotification(c.Request.Context(), notify.PersistedNotification{
			UserID:  req.UserID,
			Type:    typ,
			Title:   req.Title,
			Message: req.Message,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の作成に失敗しました"})
			logging.Logger.WithError(err).Error("通知作成エラー")
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"id":      id,
			"message": "通知を送信しました",
		})
	}
}

// createUserRequest はユーザー登録リクエストのJSON構造。
type createUserRequest struct {
	ID      string `json:"id" binding:"required"`
	Name    string `json:"name" binding:"required"`
	Company string `json:"company"`
	Role    string `json:"role" binding:"required,oneof=manager superintendent"`
}

// handleCreateUser は応募者名の解決に使うユーザーを登録するハンドラ。
func (s *Server) handleCreateUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if err := s.store.CreateUser(c.Request.Context(), eventstore.User{
			ID:      req.ID,
			Name:    req.Name,
			Company: req.Company,
			Role:    req.Role,
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの作成に失敗しました"})
			logging.Logger.WithError(err).Error("ユーザー作成エラー")
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": req.ID})
	}
}

// createJobRequest は求人登録リクエストのJSON構造。
type createJobRequest struct {
	Title    string `json:"title" binding:"required"`
	PostedBy string `json:"posted_by" binding:"required"`
}

// handleCreateJob は求人を登録するハンドラ。
func (s *Server) handleCreateJob() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createJobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		id, err := s.store.CreateJob(c.Request.Context(), eventstore.Job{Title: req.Title, PostedBy: req.PostedBy})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "求人の作成に失敗しました"})
			logging.Logger.WithError(err).Error("求人作成エラー")
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": id})
	}
}

// createApplicationRequest は応募登録リクエストのJSON構造。
type createApplicationRequest struct {
	JobID       string `json:"job_id" binding:"required"`
	ApplicantID string `json:"applicant_id" binding:"required"`
}

// handleCreateApplication は応募を登録するハンドラ。求人の掲載者に新規応募として通知される。
func (s *Server) handleCreateApplication() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createApplicationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		id, err := s.store.CreateApplication(c.Request.Context(), eventstore.Application{
			JobID:       req.JobID,
			ApplicantID: req.ApplicantID,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "応募の作成に失敗しました"})
			logging.Logger.WithError(err).Error("応募作成エラー")
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": id})
	}
}

// updateStatusRequest は応募状態の変更リクエストのJSON構造。
type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// handleUpdateApplicationStatus は応募の状態を変更するハンドラ。
// 承認・不採用にすると応募者に通知される。
func (s *Server) handleUpdateApplicationStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if !eventstore.ValidStatus(req.Status) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("応募の状態が不正です: %q", req.Status)})
			return
		}

		err := s.store.UpdateApplicationStatus(c.Request.Context(), c.Param("id"), req.Status)
		switch {
		case errors.Is(err, eventstore.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "応募が見つかりません"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "応募の状態更新に失敗しました"})
			logging.Logger.WithError(err).Error("応募状態更新エラー")
		default:
			c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": req.Status})
		}
	}
}

// handleDeleteApplication は応募を削除するハンドラ。派生した通知は次回の取得で消える。
func (s *Server) handleDeleteApplication() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := s.store.DeleteApplication(c.Request.Context(), c.Param("id"))
		switch {
		case errors.Is(err, eventstore.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "応募が見つかりません"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "応募の削除に失敗しました"})
			logging.Logger.WithError(err).Error("応募削除エラー")
		default:
			c.Status(http.StatusNoContent)
		}
	}
}
