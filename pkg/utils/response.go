package utils

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// InternalErrorDetail 是所有未处理异常的统一响应内容
const InternalErrorDetail = "An internal server error occurred."

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}

// RespondInternalError 发送统一的 500 响应
func RespondInternalError(w http.ResponseWriter) {
	RespondJSON(w, http.StatusInternalServerError, map[string]string{"detail": InternalErrorDetail})
}
