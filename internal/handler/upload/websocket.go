package upload

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	uploadsvc "github.com/zhouzirui/recstream/backend/internal/service/upload"
	"github.com/zhouzirui/recstream/backend/pkg/utils"
)

const (
	writeWait      = 5 * time.Second
	pingInterval   = 30 * time.Second
	deliverTimeout = 2 * time.Minute
)

// forwardedHeaders are copied from the middleware-populated response headers
// onto the 101 response, which gorilla writes itself.
var forwardedHeaders = []string{
	"Access-Control-Allow-Origin",
	"Access-Control-Allow-Credentials",
	"Vary",
}

// WebSocketHandler WebSocket录像上传处理器
type WebSocketHandler struct {
	uploadSvc     UploadService
	upgrader      websocket.Upgrader
	maxFrameBytes int64
	logger        *zap.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(uploadSvc UploadService, maxFrameBytes int64, logger *zap.Logger) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketHandler{
		uploadSvc:     uploadSvc,
		maxFrameBytes: maxFrameBytes,
		logger:        logger,
		upgrader: websocket.Upgrader{
			// 跨域由 CORS 中间件处理，这里接受所有来源
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  32 << 10,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/", h.handleWebSocket)
	r.Get("/ws/{candidateID}", h.handleWebSocket)
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	target, err := h.uploadSvc.Resolve(chi.URLParam(r, "candidateID"), r.URL.Query().Get("sessionId"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// 关闭流程会等待文件落盘与投递完成
	done := h.uploadSvc.Track()
	defer done()

	conn, err := h.upgrader.Upgrade(w, r, upgradeHeader(w.Header()))
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if h.maxFrameBytes > 0 {
		conn.SetReadLimit(h.maxFrameBytes)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Shutdown unblocks the pending read; the session then finalizes its file.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	go h.pingLoop(ctx, conn)

	h.logger.Info("upload connection accepted",
		zap.String("upload_id", target.ID),
		zap.String("remote", r.RemoteAddr),
	)

	res := h.uploadSvc.Run(ctx, conn, target)

	stop()
	if code, text, ok := closeCode(res); ok {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
	}
	cancel()
	_ = conn.Close()

	deliverCtx, deliverCancel := context.WithTimeout(context.WithoutCancel(r.Context()), deliverTimeout)
	defer deliverCancel()
	h.uploadSvc.Deliver(deliverCtx, res)
}

func upgradeHeader(src http.Header) http.Header {
	out := http.Header{}
	for _, key := range forwardedHeaders {
		if values := src.Values(key); len(values) > 0 {
			out[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
		}
	}
	return out
}

// closeCode picks the close frame for a finished session. A peer that already
// went away gets nothing.
func closeCode(res uploadsvc.Result) (int, string, bool) {
	switch res.Status {
	case uploadsvc.StatusCompleted:
		return websocket.CloseNormalClosure, "upload complete", true
	case uploadsvc.StatusFailed:
		if errors.Is(res.Err, uploadsvc.ErrDestinationBusy) {
			return websocket.CloseTryAgainLater, "", true
		}
		return websocket.CloseInternalServerErr, "", true
	default:
		return 0, "", false
	}
}

// pingLoop 定期发送ping消息
func (h *WebSocketHandler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
