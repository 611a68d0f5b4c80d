package chat

import (
	"context"
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/voicechat/internal/config"
	"github.com/zhouzirui/voicechat/internal/logging"
	middlewarePkg "github.com/zhouzirui/voicechat/internal/middleware"
	"github.com/zhouzirui/voicechat/internal/model/chat"
	"github.com/zhouzirui/voicechat/internal/monitoring"
	chatService "github.com/zhouzirui/voicechat/internal/service/chat"
	"github.com/zhouzirui/voicechat/internal/service/speech"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 << 10
	chunkRunes     = 8
)

// WebSocketOptions 桩 WebSocket 服务配置
type WebSocketOptions struct {
	Protocol    string
	ChunkDelay  time.Duration
	Auth        *middlewarePkg.Authenticator
	Synthesizer speech.Synthesizer
	Metrics     *monitoring.ServerMetrics
	Logger      *zap.Logger
}

// WebSocketHandler 以新旧两种协议之一回放一轮对话
type WebSocketHandler struct {
	turns    *Handler
	opts     WebSocketOptions
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(turns *Handler, opts WebSocketOptions) *WebSocketHandler {
	if opts.Protocol == "" {
		opts.Protocol = config.ProtocolPhased
	}
	return &WebSocketHandler{
		turns:  turns,
		opts:   opts,
		logger: logging.OrNop(opts.Logger).Named("websocket"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由；认证在连接内完成
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get(chat.EndpointPath, h.handleWebSocket)
}

// connection 单条连接的写入端，所有数据帧都在处理协程里写
type connection struct {
	conn     *websocket.Conn
	logger   *zap.Logger
	protocol string
}

func (c *connection) send(frame map[string]any) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	if err := c.conn.WriteJSON(frame); err != nil {
		c.logger.Debug("write frame failed", zap.Any("type", frame["type"]), zap.Error(err))
		return err
	}
	return nil
}

func (c *connection) sendError(message string) error {
	return c.send(map[string]any{"type": chat.TypeError, "error": message})
}

func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	protocol := h.opts.Protocol
	switch q := r.URL.Query().Get("protocol"); q {
	case config.ProtocolPhased, config.ProtocolLegacy:
		protocol = q
	case "":
	default:
		http.Error(w, "unknown protocol", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.opts.Metrics.ConnectionOpened()
	defer h.opts.Metrics.ConnectionClosed()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go h.pingLoop(ctx, conn)

	c := &connection{
		conn:     conn,
		logger:   h.logger.With(zap.String("protocol", protocol), zap.String("remote", r.RemoteAddr)),
		protocol: protocol,
	}

	userID, ok := h.authenticate(c)
	if !ok {
		return
	}
	c.logger = c.logger.With(zap.String("user_id", userID))

	for {
		var frame chat.ClientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("read failed", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		switch frame.Type {
		case chat.TypeChat:
			if err := h.runTurn(ctx, c, userID, frame); err != nil {
				return
			}
		case chat.TypeAuth:
			c.logger.Debug("ignoring repeated auth frame")
		default:
			_ = c.sendError("unsupported frame type: " + string(frame.Type))
		}
	}
}

// authenticate 第一帧必须是 auth
func (h *WebSocketHandler) authenticate(c *connection) (string, bool) {
	var frame chat.ClientFrame
	if err := c.conn.ReadJSON(&frame); err != nil {
		c.logger.Debug("read auth frame failed", zap.Error(err))
		return "", false
	}

	if frame.Type != chat.TypeAuth {
		h.reject(c, "authentication required")
		return "", false
	}

	userID, err := h.opts.Auth.UserID(frame.Token)
	if err != nil {
		h.reject(c, err.Error())
		return "", false
	}

	if err := c.send(map[string]any{"type": chat.TypeAuthSuccess, "user_id": userID}); err != nil {
		return "", false
	}
	return userID, true
}

func (h *WebSocketHandler) reject(c *connection, reason string) {
	c.logger.Info("rejecting connection", zap.String("reason", reason))
	_ = c.sendError(reason)
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second),
	)
}

// runTurn 回答一个问题。返回错误表示连接已不可写。
func (h *WebSocketHandler) runTurn(ctx context.Context, c *connection, userID string, frame chat.ClientFrame) error {
	result, err := h.turns.answer(ctx, userID, frame.ChatID, frame.Message)
	if err != nil {
		h.opts.Metrics.RecordTurn(c.protocol, monitoring.OutcomeError)
		c.logger.Info("turn failed", zap.Error(err))
		reason := err.Error()
		if !errors.Is(err, ErrQuestionRequired) && !errors.Is(err, chatService.ErrChatNotFound) {
			reason = "failed to generate answer"
		}
		return c.sendError(reason)
	}

	if c.protocol == config.ProtocolLegacy {
		err = h.streamLegacy(ctx, c, result)
	} else {
		err = h.streamPhased(ctx, c, result, frame.EnableVoice, frame.EnableImage)
	}
	if err != nil {
		h.opts.Metrics.RecordTurn(c.protocol, monitoring.OutcomeError)
		return err
	}
	h.opts.Metrics.RecordTurn(c.protocol, monitoring.OutcomeComplete)
	return nil
}

func (h *WebSocketHandler) streamPhased(ctx context.Context, c *connection, result turnResult, enableVoice, enableImage bool) error {
	chatID := result.Chat.ID
	voice := enableVoice && h.opts.Synthesizer != nil

	if err := c.send(map[string]any{
		"type":          chat.TypeChatStart,
		"chat_id":       chatID,
		"message_id":    result.Reply.ID,
		"voice_enabled": voice,
		"image_enabled": enableImage,
	}); err != nil {
		return err
	}

	if err := c.send(map[string]any{
		"type":          chat.TypeTextComplete,
		"chat_id":       chatID,
		"full_response": result.Reply.Content,
	}); err != nil {
		return err
	}

	if voice {
		delivered, err := h.streamVoice(ctx, c, chatID, result.Reply.Content)
		if err != nil {
			return err
		}
		voice = delivered
	}

	if enableImage {
		if err := h.streamImage(c, chatID, result.Question.Content); err != nil {
			return err
		}
	}

	return c.send(map[string]any{
		"type":          chat.TypeChatComplete,
		"chat_id":       chatID,
		"message_id":    result.Reply.ID,
		"voice_enabled": voice,
		"image_enabled": false,
	})
}

// streamVoice 合成失败不影响本轮，只是不带语音
func (h *WebSocketHandler) streamVoice(ctx context.Context, c *connection, chatID, text string) (bool, error) {
	if err := c.send(map[string]any{"type": chat.TypeVoiceStart, "chat_id": chatID}); err != nil {
		return false, err
	}

	chunks, err := h.opts.Synthesizer.Synthesize(ctx, text)
	if err != nil {
		c.logger.Warn("synthesis failed", zap.Error(err))
		return false, c.send(map[string]any{"type": chat.TypeVoiceComplete, "chat_id": chatID})
	}

	for _, chunk := range chunks {
		if err := h.pause(ctx); err != nil {
			return false, err
		}
		if err := c.send(map[string]any{
			"type":    chat.TypeVoiceChunk,
			"chat_id": chatID,
			"audio":   chunk.Audio,
			"format":  chunk.Format,
		}); err != nil {
			return false, err
		}
	}

	return true, c.send(map[string]any{"type": chat.TypeVoiceComplete, "chat_id": chatID})
}

func (h *WebSocketHandler) streamImage(c *connection, chatID, prompt string) error {
	if err := c.send(map[string]any{"type": chat.TypeImageStart, "chat_id": chatID, "prompt": prompt}); err != nil {
		return err
	}
	if err := c.send(map[string]any{"type": chat.TypeImageProgress, "chat_id": chatID, "message": "image generation requested"}); err != nil {
		return err
	}
	return c.send(map[string]any{
		"type":    chat.TypeImageError,
		"chat_id": chatID,
		"error":   "image generation is not available on this backend",
	})
}

func (h *WebSocketHandler) streamLegacy(ctx context.Context, c *connection, result turnResult) error {
	if err := c.send(map[string]any{
		"type":       chat.TypeStreamStart,
		"chat_id":    result.Chat.ID,
		"message_id": result.Reply.ID,
	}); err != nil {
		return err
	}

	for _, piece := range splitChunks(result.Reply.Content, chunkRunes) {
		if err := h.pause(ctx); err != nil {
			return err
		}
		if err := c.send(map[string]any{"type": chat.TypeChunk, "content": piece}); err != nil {
			return err
		}
	}

	frame := map[string]any{
		"type":          chat.TypeComplete,
		"chat_id":       result.Chat.ID,
		"message_id":    result.Reply.ID,
		"full_response": result.Reply.Content,
	}
	if len(result.Reply.Sources) > 0 {
		frame["context_chunks"] = result.Reply.Sources
	}
	return c.send(frame)
}

func (h *WebSocketHandler) pause(ctx context.Context) error {
	if h.opts.ChunkDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(h.opts.ChunkDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (h *WebSocketHandler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

// splitChunks 按字符数切分，不拆开多字节字符
func splitChunks(text string, size int) []string {
	if text == "" {
		return nil
	}
	var out []string
	for len(text) > 0 {
		n, i := 0, 0
		for i < len(text) && n < size {
			_, width := utf8.DecodeRuneInString(text[i:])
			i += width
			n++
		}
		out = append(out, text[:i])
		text = text[i:]
	}
	return out
}
