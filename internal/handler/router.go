package handler

import (
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/recstream/backend/internal/config"
	"github.com/zhouzirui/recstream/backend/internal/handler/recording"
	"github.com/zhouzirui/recstream/backend/internal/handler/upload"
	middlewarePkg "github.com/zhouzirui/recstream/backend/internal/middleware"
	recordingModel "github.com/zhouzirui/recstream/backend/internal/model/recording"
	"github.com/zhouzirui/recstream/backend/pkg/utils"
)

// RecordingsPath is where finished recordings are served from.
const RecordingsPath = "/recordings/"

// NewRouter wires HTTP routes to core services. metricsHandler may be nil.
func NewRouter(logger *zap.Logger, cfg *config.Config, uploadSvc upload.UploadService, recordings recordingModel.Store, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middlewarePkg.Recoverer(logger))
	r.Use(middlewarePkg.CORS(cfg.CORS.AllowedOrigins))
	r.Use(middlewarePkg.WebSocketOrigin)

	// Create handlers
	wsHandler := upload.NewWebSocketHandler(uploadSvc, cfg.Upload.MaxFrameBytes, logger)
	uploadHandler := upload.New(uploadSvc)
	recordingHandler := recording.New(recordings, logger)

	// 录像上传入口：根路径与 /ws/{candidateID}
	wsHandler.RegisterWebSocketRoutes(r)

	r.Route("/api", func(api chi.Router) {
		api.Get("/status", handleStatus)

		recordingHandler.RegisterRoutes(api)
		uploadHandler.RegisterRoutes(api)
	})

	r.Handle(RecordingsPath+"*", http.StripPrefix(RecordingsPath, fileServer(cfg.Upload.BaseDir, uploadSvc.Writing)))

	if metricsHandler != nil {
		r.Handle(cfg.Metrics.Path, metricsHandler)
	}

	return r
}

// handleStatus 健康检查
func handleStatus(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "Server is running"})
}

// fileServer serves files from dir without directory listings. Files for
// which writing reports true are still being received and stay hidden.
func fileServer(dir string, writing func(name string) bool) http.Handler {
	fs := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") || writing(path.Base(r.URL.Path)) {
			http.NotFound(w, r)
			return
		}
		fs.ServeHTTP(w, r)
	})
}
