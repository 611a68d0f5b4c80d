package chatclient

import (
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/voicechat/internal/model/chat"
	"github.com/zhouzirui/voicechat/internal/monitoring"
)

const defaultVoiceFormat = "mp3"

// handleFrame 处理一帧入站消息。终止之后到达的帧直接丢弃。
func (s *Session) handleFrame(data []byte) {
	s.mu.Lock()
	drop := s.closed || s.terminal
	s.mu.Unlock()
	if drop {
		s.logger.Debug("dropping frame after turn ended", zap.Int("bytes", len(data)))
		return
	}

	// 回调执行期间不计入空闲时间，返回后重新计时
	if !s.idle.Pause() {
		s.logger.Debug("dropping frame after idle timeout", zap.Int("bytes", len(data)))
		return
	}
	defer s.idle.Reset()

	ev, err := chat.DecodeEvent(data)
	if err != nil {
		s.metrics.RecordFrame("invalid")
		s.fail(invalidFormatReason(data))
		return
	}
	s.metrics.RecordFrame(string(ev.Type()))
	s.dispatch(ev)
}

// dispatch 按事件类型分发，新旧两套协议共用同一入口
func (s *Session) dispatch(ev chat.Event) {
	switch e := ev.(type) {
	case chat.AuthSuccess:
		s.onAuthSuccess(e)

	case chat.ChatStart:
		s.mu.Lock()
		s.chatID = e.ChatID
		s.messageID = e.MessageID
		s.voiceEnabled = e.VoiceEnabled
		s.imageEnabled = e.ImageEnabled
		s.state = StateStreaming
		s.mu.Unlock()
		s.emit(func() { s.cb.OnChatStart(e.ChatID, e.MessageID, e.VoiceEnabled, e.ImageEnabled) })

	case chat.TextComplete:
		s.mu.Lock()
		s.answer = e.FullResponse
		chatID := s.resolveChatID(e.ChatID)
		s.mu.Unlock()
		s.emit(func() { s.cb.OnTextComplete(chatID, e.FullResponse) })

	case chat.VoiceStart:
		chatID := s.lockedChatID(e.ChatID)
		s.emit(func() { s.cb.OnVoiceStart(chatID) })

	case chat.VoiceChunk:
		s.mu.Lock()
		chatID := s.resolveChatID(e.ChatID)
		format := s.resolveVoiceFormat(e.Format)
		s.mu.Unlock()
		s.emit(func() { s.cb.OnVoiceChunk(chatID, e.Audio, format) })

	case chat.VoiceComplete:
		s.mu.Lock()
		chatID := s.resolveChatID(e.ChatID)
		format := s.resolveVoiceFormat(e.Format)
		s.mu.Unlock()
		// 个别服务端会把最后一段音频放在 voice_complete 里
		if e.Audio != "" {
			s.emit(func() { s.cb.OnVoiceChunk(chatID, e.Audio, format) })
		}
		s.emit(func() { s.cb.OnVoiceComplete(chatID) })

	case chat.ImageStart:
		chatID := s.lockedChatID(e.ChatID)
		s.emit(func() { s.cb.OnImageStart(chatID, e.Prompt) })

	case chat.ImageProgress:
		chatID := s.lockedChatID(e.ChatID)
		s.emit(func() { s.cb.OnImageProgress(chatID, e.Message) })

	case chat.ImageComplete:
		chatID := s.lockedChatID(e.ChatID)
		s.emit(func() { s.cb.OnImageComplete(chatID, e.ImageURL) })

	case chat.ImageError:
		chatID := s.lockedChatID(e.ChatID)
		s.logger.Info("image generation failed", zap.String("chat_id", chatID), zap.String("reason", e.Error))
		s.emit(func() { s.cb.OnImageError(chatID, e.Error) })

	case chat.ChatComplete:
		s.onChatComplete(e)

	case chat.ErrorEvent:
		s.fail(e.Error)

	case chat.StreamStart:
		s.mu.Lock()
		s.answer = ""
		if e.ChatID != "" {
			s.chatID = e.ChatID
		}
		if e.MessageID != "" {
			s.messageID = e.MessageID
		}
		s.state = StateStreaming
		s.mu.Unlock()

	case chat.Chunk:
		s.mu.Lock()
		s.answer += e.Content
		answer := s.answer
		if s.state < StateStreaming {
			s.state = StateStreaming
		}
		s.mu.Unlock()
		s.emit(func() { s.cb.SetAnswer(answer) })

	case chat.Complete:
		s.onLegacyComplete(e)

	case chat.SourcesEvent:
		sources := slices.Clone(e.Sources)
		s.emit(func() { s.cb.SetSources(sources) })

	case chat.UnknownEvent:
		s.logger.Info("ignoring unknown frame type", zap.String("type", string(e.Kind)))

	default:
		s.logger.Info("ignoring unhandled event", zap.String("type", string(ev.Type())))
	}
}

func (s *Session) onAuthSuccess(e chat.AuthSuccess) {
	s.mu.Lock()
	if s.authenticated {
		s.mu.Unlock()
		s.logger.Debug("duplicate auth_success ignored")
		return
	}
	s.authenticated = true
	s.state = StateAwaitingResponse
	s.mu.Unlock()

	s.logger.Debug("authenticated", zap.String("user_id", e.UserID))
	s.emit(func() { s.cb.OnAuthenticated() })

	frame := chat.NewChatFrame(s.req.Question, s.req.ChatID, s.req.EnableVoice, s.req.EnableImage)
	if err := s.send(frame); err != nil {
		s.writeFailed(err)
	}
}

func (s *Session) onChatComplete(e chat.ChatComplete) {
	if !s.finish(StateCompleted, monitoring.OutcomeComplete) {
		return
	}

	s.mu.Lock()
	chatID := s.resolveChatID(e.ChatID)
	if e.MessageID != "" {
		s.messageID = e.MessageID
	}
	if s.messageID == "" {
		s.messageID = uuid.NewString()
	}
	if e.VoiceEnabled != nil {
		s.voiceEnabled = *e.VoiceEnabled
	}
	if e.ImageEnabled != nil {
		s.imageEnabled = *e.ImageEnabled
	}
	messageID, answer := s.messageID, s.answer
	voice, image := s.voiceEnabled, s.imageEnabled
	s.mu.Unlock()

	s.logger.Debug("chat complete", zap.String("chat_id", chatID), zap.String("message_id", messageID))
	s.emit(func() { s.cb.OnChatComplete(chatID, messageID, answer, voice, image) })
	s.scheduleAutoClose()
}

func (s *Session) onLegacyComplete(e chat.Complete) {
	if !s.finish(StateCompleted, monitoring.OutcomeComplete) {
		return
	}

	s.mu.Lock()
	if e.FullResponse != "" {
		s.answer = e.FullResponse
	}
	chatID := s.resolveChatID(e.ChatID)
	if e.MessageID != "" {
		s.messageID = e.MessageID
	}
	if s.messageID == "" {
		s.messageID = uuid.NewString()
	}
	messageID, answer := s.messageID, s.answer
	voice, image := s.voiceEnabled, s.imageEnabled
	s.mu.Unlock()

	s.emit(func() { s.cb.SetAnswer(answer) })
	if len(e.ContextChunks) > 0 {
		sources := slices.Clone(e.ContextChunks)
		s.emit(func() { s.cb.SetSources(sources) })
	}
	s.logger.Debug("legacy stream complete", zap.String("chat_id", chatID), zap.Int("length", len(answer)))
	s.emit(func() { s.cb.OnChatComplete(chatID, messageID, answer, voice, image) })
	s.scheduleAutoClose()
}

// resolveChatID 优先使用帧内的 ID 并记住它。调用方需持有 s.mu。
func (s *Session) resolveChatID(frameChatID string) string {
	if frameChatID != "" {
		s.chatID = frameChatID
	}
	return s.chatID
}

// resolveVoiceFormat 帧内未给出格式时沿用上一次的格式，默认 mp3。调用方需持有 s.mu。
func (s *Session) resolveVoiceFormat(frameFormat string) string {
	if frameFormat != "" {
		s.voiceFormat = frameFormat
	}
	if s.voiceFormat == "" {
		return defaultVoiceFormat
	}
	return s.voiceFormat
}

func (s *Session) lockedChatID(frameChatID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveChatID(frameChatID)
}
