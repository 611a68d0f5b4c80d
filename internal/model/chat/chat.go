package chat

import "time"

// Chat captures one conversation thread owned by a user.
type Chat struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatDetail is the GET /chats/{id} payload: the chat plus its ordered messages.
type ChatDetail struct {
	Chat     Chat      `json:"chat"`
	Messages []Message `json:"messages"`
}

// QueryRequest 非流式问答请求
type QueryRequest struct {
	Question string `json:"question"`
	ChatID   string `json:"chat_id,omitempty"`
}

// QueryResponse 非流式问答响应
type QueryResponse struct {
	Answer    string   `json:"answer"`
	ChatID    string   `json:"chat_id"`
	MessageID string   `json:"message_id"`
	Sources   []Source `json:"sources,omitempty"`
}

// Transcription 语音转写结果
type Transcription struct {
	Text string `json:"text"`
}

// CustomPrompt 用户自定义系统提示词
type CustomPrompt struct {
	CustomPrompt string `json:"custom_prompt"`
}
