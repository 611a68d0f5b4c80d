package chat

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/voicechat/internal/logging"
	middlewarePkg "github.com/zhouzirui/voicechat/internal/middleware"
	"github.com/zhouzirui/voicechat/internal/model/chat"
	"github.com/zhouzirui/voicechat/internal/service/ai"
	chatService "github.com/zhouzirui/voicechat/internal/service/chat"
	"github.com/zhouzirui/voicechat/pkg/utils"
)

const maxBodyBytes = 1 << 20

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc   *chatService.Service
	responder ai.Responder
	logger    *zap.Logger
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, responder ai.Responder, logger *zap.Logger) *Handler {
	return &Handler{
		chatSvc:   chatSvc,
		responder: responder,
		logger:    logging.OrNop(logger).Named("chat"),
	}
}

// RegisterRoutes 注册聊天相关的路由，需要挂在 BearerAuth 之后
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chats", h.handleListChats)
	r.Get("/chats/{chatID}", h.handleGetChat)
	r.Post("/query", h.handleQuery)
	r.Get("/users/custom-prompt", h.handleGetCustomPrompt)
	r.Post("/users/custom-prompt", h.handleSetCustomPrompt)
}

func (h *Handler) handleListChats(w http.ResponseWriter, r *http.Request) {
	userID, _ := middlewarePkg.UserIDFrom(r.Context())
	utils.RespondJSON(w, http.StatusOK, h.chatSvc.ListChats(r.Context(), userID))
}

func (h *Handler) handleGetChat(w http.ResponseWriter, r *http.Request) {
	userID, _ := middlewarePkg.UserIDFrom(r.Context())

	detail, err := h.chatSvc.GetChat(r.Context(), userID, chi.URLParam(r, "chatID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, detail)
}

// handleQuery 非流式问答
func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	userID, _ := middlewarePkg.UserIDFrom(r.Context())

	var payload chat.QueryRequest
	if err := utils.DecodeJSON(w, r, maxBodyBytes, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.answer(r.Context(), userID, payload.ChatID, payload.Question)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, chat.QueryResponse{
		Answer:    result.Reply.Content,
		ChatID:    result.Chat.ID,
		MessageID: result.Reply.ID,
		Sources:   result.Reply.Sources,
	})
}

func (h *Handler) handleGetCustomPrompt(w http.ResponseWriter, r *http.Request) {
	userID, _ := middlewarePkg.UserIDFrom(r.Context())
	utils.RespondJSON(w, http.StatusOK, chat.CustomPrompt{CustomPrompt: h.chatSvc.CustomPrompt(r.Context(), userID)})
}

func (h *Handler) handleSetCustomPrompt(w http.ResponseWriter, r *http.Request) {
	userID, _ := middlewarePkg.UserIDFrom(r.Context())

	var payload chat.CustomPrompt
	if err := utils.DecodeJSON(w, r, maxBodyBytes, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.chatSvc.SetCustomPrompt(r.Context(), userID, payload.CustomPrompt); err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, chat.CustomPrompt{CustomPrompt: h.chatSvc.CustomPrompt(r.Context(), userID)})
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrChatNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chatService.ErrUserRequired):
		utils.RespondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrQuestionRequired):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("request failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
