package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zhouzirui/voicechat/internal/config"
	"github.com/zhouzirui/voicechat/internal/handler/chat"
	"github.com/zhouzirui/voicechat/internal/handler/speech"
	"github.com/zhouzirui/voicechat/internal/logging"
	middlewarePkg "github.com/zhouzirui/voicechat/internal/middleware"
	"github.com/zhouzirui/voicechat/internal/monitoring"
	aiService "github.com/zhouzirui/voicechat/internal/service/ai"
	chatService "github.com/zhouzirui/voicechat/internal/service/chat"
	speechService "github.com/zhouzirui/voicechat/internal/service/speech"
	"github.com/zhouzirui/voicechat/pkg/utils"
)

// Deps 路由依赖的服务
type Deps struct {
	Server      config.ServerConfig
	Chats       *chatService.Service
	Responder   aiService.Responder
	Synthesizer speechService.Synthesizer
	Transcriber speechService.Transcriber
	Metrics     *monitoring.ServerMetrics
	Gatherer    prometheus.Gatherer
	Logger      *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(d Deps) http.Handler {
	logger := logging.OrNop(d.Logger)
	auth := middlewarePkg.NewAuthenticator(d.Server.Token, d.Server.UserID)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)
	r.Use(monitoring.Middleware(d.Metrics))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok", "protocol": d.Server.Protocol})
	})
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	chatHandler := chat.New(d.Chats, d.Responder, logger)

	// 认证在 WebSocket 连接内完成
	chat.NewWebSocketHandler(chatHandler, chat.WebSocketOptions{
		Protocol:    d.Server.Protocol,
		ChunkDelay:  d.Server.ChunkDelay,
		Auth:        auth,
		Synthesizer: d.Synthesizer,
		Metrics:     d.Metrics,
		Logger:      logger,
	}).RegisterRoutes(r)

	r.Group(func(api chi.Router) {
		api.Use(auth.BearerAuth)
		chatHandler.RegisterRoutes(api)
		if d.Transcriber != nil {
			speech.New(d.Transcriber, logger).RegisterRoutes(api)
		}
	})

	return r
}
