package upload

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	uploadsvc "github.com/zhouzirui/recstream/backend/internal/service/upload"
	"github.com/zhouzirui/recstream/backend/pkg/utils"
)

// UploadService 抽象上传业务，便于测试与替换实现
type UploadService interface {
	Resolve(candidateID, sessionID string) (uploadsvc.Target, error)
	Run(ctx context.Context, conn uploadsvc.Conn, target uploadsvc.Target) uploadsvc.Result
	Deliver(ctx context.Context, res uploadsvc.Result) uploadsvc.Result
	Active() []uploadsvc.Snapshot
	Snapshot(id string) (uploadsvc.Snapshot, bool)
	Track() (done func())
	Writing(name string) bool
}

// Handler 上传进度的HTTP处理器
type Handler struct {
	uploadSvc        UploadService
	progressInterval time.Duration
}

// New 创建上传进度处理器
func New(uploadSvc UploadService) *Handler {
	return &Handler{
		uploadSvc:        uploadSvc,
		progressInterval: time.Second,
	}
}

// RegisterRoutes 注册上传进度相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/uploads", func(uploads chi.Router) {
		uploads.Get("/", h.handleListActive)
		uploads.Get("/{uploadID}", h.handleGetActive)
		uploads.Get("/{uploadID}/events", h.handleEvents)
	})
}

// handleListActive 列出正在接收的上传会话
func (h *Handler) handleListActive(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.uploadSvc.Active())
}

// handleGetActive 查询单个上传会话
func (h *Handler) handleGetActive(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.uploadSvc.Snapshot(chi.URLParam(r, "uploadID"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "upload not active")
		return
	}
	utils.RespondJSON(w, http.StatusOK, snap)
}

// handleEvents 以 SSE 推送上传进度，会话结束后发送 finished 事件
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadID")
	snap, ok := h.uploadSvc.Snapshot(uploadID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "upload not active")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	if err := utils.SendSSEEvent(w, flusher, "progress", snap); err != nil {
		return
	}

	ticker := time.NewTicker(h.progressInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, ok := h.uploadSvc.Snapshot(uploadID)
			if !ok {
				_ = utils.SendSSEEvent(w, flusher, "finished", map[string]string{"id": uploadID})
				return
			}
			if err := utils.SendSSEEvent(w, flusher, "progress", snap); err != nil {
				return
			}
		}
	}
}
