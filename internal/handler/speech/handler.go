package speech

import (
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/voicechat/internal/logging"
	"github.com/zhouzirui/voicechat/internal/model/chat"
	speechsvc "github.com/zhouzirui/voicechat/internal/service/speech"
	"github.com/zhouzirui/voicechat/pkg/utils"
)

const maxUploadBytes = 25 << 20

// Handler 语音服务的HTTP处理器
type Handler struct {
	transcriber speechsvc.Transcriber
	logger      *zap.Logger
}

// New 创建语音处理器
func New(transcriber speechsvc.Transcriber, logger *zap.Logger) *Handler {
	return &Handler{
		transcriber: transcriber,
		logger:      logging.OrNop(logger).Named("speech"),
	}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/transcribe", h.handleTranscribe)
}

// handleTranscribe 上传音频（multipart 字段 audio）并返回转写文本
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	text, err := h.transcriber.Transcribe(r.Context(), filepath.Base(header.Filename), file)
	if err != nil {
		h.logger.Warn("transcription failed", zap.String("filename", header.Filename), zap.Error(err))
		utils.RespondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, chat.Transcription{Text: text})
}
