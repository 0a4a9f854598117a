package recording

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/recstream/backend/internal/model/recording"
	"github.com/zhouzirui/recstream/backend/pkg/utils"
)

// Handler 录像目录的HTTP处理器
type Handler struct {
	recordings recording.Store
	logger     *zap.Logger
}

// New 创建录像处理器
func New(recordings recording.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		recordings: recordings,
		logger:     logger,
	}
}

// RegisterRoutes 注册录像相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/recordings", h.handleListRecordings)
}

// handleListRecordings 列出已保存的录像，最新的在前
func (h *Handler) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	items, err := h.recordings.List()
	if err != nil {
		h.logger.Error("list recordings failed", zap.Error(err))
		utils.RespondInternalError(w)
		return
	}
	utils.RespondJSON(w, http.StatusOK, items)
}
