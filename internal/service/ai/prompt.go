package ai

import (
	"context"
	"fmt"
	"strings"
)

// DefaultSystemPrompt 未设置自定义提示词时使用
const DefaultSystemPrompt = "你是一个友好、简洁的语音助手。回答适合朗读，避免使用复杂的 Markdown 格式。"

// BuildSystemPrompt 合并默认提示词与用户自定义提示词
func BuildSystemPrompt(custom string) string {
	custom = strings.TrimSpace(custom)
	if custom == "" {
		return DefaultSystemPrompt
	}

	var builder strings.Builder
	builder.WriteString(DefaultSystemPrompt)
	builder.WriteString("\n\n用户的额外要求：\n")
	builder.WriteString(custom)
	return builder.String()
}

// CannedResponder 未配置大模型时的确定性回答
type CannedResponder struct{}

// Respond 复述问题，便于联调客户端
func (CannedResponder) Respond(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return "I did not catch a question.", nil
	}
	if len(req.History) > 0 {
		return fmt.Sprintf("You said: %s (message %d in this chat)", question, len(req.History)+1), nil
	}
	return "You said: " + question, nil
}
