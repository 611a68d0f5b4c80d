package chat

// EventType 是线上 JSON 帧的 type 字段，也是唯一的分发键
type EventType string

// 客户端 -> 服务端
const (
	TypeAuth EventType = "auth"
	TypeChat EventType = "chat"
)

// 服务端 -> 客户端（语音优先的分阶段协议）
const (
	TypeAuthSuccess   EventType = "auth_success"
	TypeChatStart     EventType = "chat_start"
	TypeTextComplete  EventType = "text_complete"
	TypeVoiceStart    EventType = "voice_start"
	TypeVoiceChunk    EventType = "voice_chunk"
	TypeVoiceComplete EventType = "voice_complete"
	TypeImageStart    EventType = "image_start"
	TypeImageProgress EventType = "image_progress"
	TypeImageComplete EventType = "image_complete"
	TypeImageError    EventType = "image_error"
	TypeChatComplete  EventType = "chat_complete"
	TypeError         EventType = "error"
)

// 服务端 -> 客户端（旧版单阶段流式协议）
const (
	TypeStreamStart EventType = "stream_start"
	TypeChunk       EventType = "chunk"
	TypeComplete    EventType = "complete"
)

// TypeSources marks a bare JSON array of sources; it never appears as a type tag on the wire.
const TypeSources EventType = "sources"

// EndpointPath 聊天 WebSocket 固定路径
const EndpointPath = "/ws/chat"

// AuthFrame 握手阶段发送的认证帧
type AuthFrame struct {
	Type  EventType `json:"type"`
	Token string    `json:"token"`
}

// NewAuthFrame 构建认证帧
func NewAuthFrame(token string) AuthFrame {
	return AuthFrame{Type: TypeAuth, Token: token}
}

// ChatFrame 认证成功后发送的对话请求帧
type ChatFrame struct {
	Type        EventType `json:"type"`
	Message     string    `json:"message"`
	ChatID      string    `json:"chat_id,omitempty"`
	EnableVoice bool      `json:"enable_voice"`
	EnableImage bool      `json:"enable_image"`
}

// NewChatFrame 构建对话请求帧
func NewChatFrame(message, chatID string, enableVoice, enableImage bool) ChatFrame {
	return ChatFrame{
		Type:        TypeChat,
		Message:     message,
		ChatID:      chatID,
		EnableVoice: enableVoice,
		EnableImage: enableImage,
	}
}

// ClientFrame is the server-side view of any client frame; absent flags decode as false.
type ClientFrame struct {
	Type        EventType `json:"type"`
	Token       string    `json:"token,omitempty"`
	Message     string    `json:"message,omitempty"`
	ChatID      string    `json:"chat_id,omitempty"`
	EnableVoice bool      `json:"enable_voice,omitempty"`
	EnableImage bool      `json:"enable_image,omitempty"`
}
