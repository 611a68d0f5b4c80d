package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/voicechat/internal/model/chat"
	"github.com/zhouzirui/voicechat/internal/service/ai"
)

// ErrQuestionRequired 问题为空
var ErrQuestionRequired = errors.New("question is required")

const maxContextSources = 3

type turnResult struct {
	Chat     chat.Chat
	Question chat.Message
	Reply    chat.Message
}

// answer 完成一轮问答：确保对话存在、保存问题、生成并保存回答。
// /query 与 /ws/chat 共用。
func (h *Handler) answer(ctx context.Context, userID, chatID, question string) (turnResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return turnResult{}, ErrQuestionRequired
	}

	c, err := h.chatSvc.EnsureChat(ctx, userID, chatID, question)
	if err != nil {
		return turnResult{}, err
	}

	history, err := h.chatSvc.LoadTranscript(ctx, c.ID)
	if err != nil {
		return turnResult{}, err
	}

	asked, err := h.chatSvc.SaveMessage(ctx, chat.Message{ChatID: c.ID, Role: chat.RoleUser, Content: question})
	if err != nil {
		return turnResult{}, err
	}

	text, err := h.responder.Respond(ctx, ai.Request{
		ChatID:       c.ID,
		CustomPrompt: h.chatSvc.CustomPrompt(ctx, userID),
		History:      history,
		Question:     question,
	})
	if err != nil {
		return turnResult{}, fmt.Errorf("generate answer: %w", err)
	}

	reply, err := h.chatSvc.SaveMessage(ctx, chat.Message{
		ChatID:  c.ID,
		Role:    chat.RoleAssistant,
		Content: text,
		Sources: contextSources(history),
	})
	if err != nil {
		return turnResult{}, err
	}

	h.logger.Debug("turn answered",
		zap.String("chat_id", c.ID),
		zap.String("message_id", reply.ID),
		zap.Int("history", len(history)),
	)
	return turnResult{Chat: c, Question: asked, Reply: reply}, nil
}

// contextSources 把最近几条历史消息作为回答引用的上下文
func contextSources(history []chat.Message) []chat.Source {
	if len(history) == 0 {
		return nil
	}
	start := max(0, len(history)-maxContextSources)

	sources := make([]chat.Source, 0, len(history)-start)
	for _, msg := range history[start:] {
		sources = append(sources, chat.Source{
			ID:      msg.ID,
			Title:   msg.Role,
			Content: msg.Content,
		})
	}
	return sources
}
