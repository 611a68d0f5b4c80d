package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedFrame 表示收到了无法解析为 JSON 的帧
var ErrMalformedFrame = errors.New("malformed frame")

// Event 服务端事件的封闭联合类型，每个 type 对应一个具体结构体
type Event interface {
	Type() EventType
}

// AuthSuccess 认证通过
type AuthSuccess struct {
	UserID string `json:"user_id"`
}

// ChatStart 服务端已创建本轮对话，ID 在本轮内保持稳定
type ChatStart struct {
	ChatID       string `json:"chat_id"`
	MessageID    string `json:"message_id"`
	VoiceEnabled bool   `json:"voice_enabled"`
	ImageEnabled bool   `json:"image_enabled,omitempty"`
}

// TextComplete 完整文本回答，一次性下发
type TextComplete struct {
	ChatID       string `json:"chat_id"`
	FullResponse string `json:"full_response"`
}

// VoiceStart 语音合成流开始
type VoiceStart struct {
	ChatID string `json:"chat_id"`
}

// VoiceChunk 一段 base64 音频
type VoiceChunk struct {
	ChatID string `json:"chat_id"`
	Audio  string `json:"audio"`
	Format string `json:"format"`
}

// VoiceComplete 语音流结束；部分服务端会在此帧附带最后一段音频
type VoiceComplete struct {
	ChatID string `json:"chat_id"`
	Audio  string `json:"audio,omitempty"`
	Format string `json:"format,omitempty"`
}

// ImageStart 图片生成开始
type ImageStart struct {
	ChatID string `json:"chat_id"`
	Prompt string `json:"prompt"`
}

// ImageProgress 图片生成进度
type ImageProgress struct {
	ChatID  string `json:"chat_id"`
	Message string `json:"message"`
}

// ImageComplete 图片生成完成
type ImageComplete struct {
	ChatID   string `json:"chat_id"`
	ImageURL string `json:"image_url"`
}

// ImageError 图片生成失败，不影响本轮对话
type ImageError struct {
	ChatID string `json:"chat_id"`
	Error  string `json:"error"`
}

// ChatComplete 本轮对话结束（分阶段协议的终止帧）
type ChatComplete struct {
	ChatID       string `json:"chat_id"`
	MessageID    string `json:"message_id,omitempty"`
	VoiceEnabled *bool  `json:"voice_enabled,omitempty"`
	ImageEnabled *bool  `json:"image_enabled,omitempty"`
}

// ErrorEvent 服务端错误；既可能是 {type:"error"} 也可能是旧版的裸 {error}
type ErrorEvent struct {
	Error string `json:"error"`
}

// StreamStart 旧协议的流开始帧
type StreamStart struct {
	ChatID    string `json:"chat_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// Chunk 旧协议的增量文本片段
type Chunk struct {
	Content string `json:"content"`
}

// Complete 旧协议的终止帧，携带权威的完整文本
type Complete struct {
	ChatID        string   `json:"chat_id,omitempty"`
	MessageID     string   `json:"message_id,omitempty"`
	FullResponse  string   `json:"full_response"`
	ContextChunks []Source `json:"context_chunks,omitempty"`
}

// SourcesEvent 旧协议的裸数组形式参考来源
type SourcesEvent struct {
	Sources []Source
}

// UnknownEvent carries a frame whose type tag this client does not know.
type UnknownEvent struct {
	Kind EventType
	Raw  json.RawMessage
}

func (AuthSuccess) Type() EventType   { return TypeAuthSuccess }
func (ChatStart) Type() EventType     { return TypeChatStart }
func (TextComplete) Type() EventType  { return TypeTextComplete }
func (VoiceStart) Type() EventType    { return TypeVoiceStart }
func (VoiceChunk) Type() EventType    { return TypeVoiceChunk }
func (VoiceComplete) Type() EventType { return TypeVoiceComplete }
func (ImageStart) Type() EventType    { return TypeImageStart }
func (ImageProgress) Type() EventType { return TypeImageProgress }
func (ImageComplete) Type() EventType { return TypeImageComplete }
func (ImageError) Type() EventType    { return TypeImageError }
func (ChatComplete) Type() EventType  { return TypeChatComplete }
func (ErrorEvent) Type() EventType    { return TypeError }
func (StreamStart) Type() EventType   { return TypeStreamStart }
func (Chunk) Type() EventType         { return TypeChunk }
func (Complete) Type() EventType      { return TypeComplete }
func (SourcesEvent) Type() EventType  { return TypeSources }
func (e UnknownEvent) Type() EventType {
	return e.Kind
}

type envelope struct {
	Type  EventType       `json:"type"`
	Error json.RawMessage `json:"error"`
}

// DecodeEvent 解析一帧服务端消息。非 JSON 载荷返回包装了 ErrMalformedFrame 的错误。
func DecodeEvent(data []byte) (Event, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var sources []Source
		if err := json.Unmarshal(trimmed, &sources); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return SourcesEvent{Sources: sources}, nil
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch env.Type {
	case "":
		if len(env.Error) > 0 && string(env.Error) != "null" {
			return ErrorEvent{Error: errorText(env.Error)}, nil
		}
		return UnknownEvent{Raw: json.RawMessage(trimmed)}, nil
	case TypeError:
		return ErrorEvent{Error: errorText(env.Error)}, nil
	case TypeAuthSuccess:
		return decodeAs[AuthSuccess](trimmed)
	case TypeChatStart:
		return decodeAs[ChatStart](trimmed)
	case TypeTextComplete:
		return decodeAs[TextComplete](trimmed)
	case TypeVoiceStart:
		return decodeAs[VoiceStart](trimmed)
	case TypeVoiceChunk:
		return decodeAs[VoiceChunk](trimmed)
	case TypeVoiceComplete:
		return decodeAs[VoiceComplete](trimmed)
	case TypeImageStart:
		return decodeAs[ImageStart](trimmed)
	case TypeImageProgress:
		return decodeAs[ImageProgress](trimmed)
	case TypeImageComplete:
		return decodeAs[ImageComplete](trimmed)
	case TypeImageError:
		return decodeAs[ImageError](trimmed)
	case TypeChatComplete:
		return decodeAs[ChatComplete](trimmed)
	case TypeStreamStart:
		return decodeAs[StreamStart](trimmed)
	case TypeChunk:
		return decodeAs[Chunk](trimmed)
	case TypeComplete:
		return decodeAs[Complete](trimmed)
	default:
		return UnknownEvent{Kind: env.Type, Raw: json.RawMessage(trimmed)}, nil
	}
}

func decodeAs[T Event](data []byte) (Event, error) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return ev, nil
}

// errorText 兼容 error 字段为字符串或对象两种形态
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return "unknown error"
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}
