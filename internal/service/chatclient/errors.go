package chatclient

import "errors"

// 通过 OnError 交给调用方的固定原因
const (
	ReasonConnection = "WebSocket connection error"
	ReasonTimeout    = "timeout"
)

// ErrSessionClosed 会话已关闭，无法再写入
var ErrSessionClosed = errors.New("chat session closed")

// invalidFormatReason 非 JSON 帧的诊断信息，附带原始载荷
func invalidFormatReason(payload []byte) string {
	return "Invalid message format: " + string(payload)
}
