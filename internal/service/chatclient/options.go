package chatclient

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/voicechat/internal/model/chat"
	"github.com/zhouzirui/voicechat/internal/monitoring"
)

const (
	defaultTimeout          = 30 * time.Second
	defaultAutoCloseDelay   = time.Second
	defaultHandshakeTimeout = 10 * time.Second
	writeWait               = 10 * time.Second
)

// Options 连接参数与会话行为配置
type Options struct {
	Host   string
	Secure bool

	// Timeout 空闲超时，每收到一帧重新计时
	Timeout time.Duration
	// AutoCloseDelay 对话完成后延迟关闭连接的时长
	AutoCloseDelay   time.Duration
	HandshakeTimeout time.Duration

	// ReportTimeout 为 true 时空闲超时以 OnError("timeout") 通知调用方，否则静默关闭
	ReportTimeout bool

	Logger  *zap.Logger
	Metrics *monitoring.ClientMetrics
	Dialer  *websocket.Dialer
}

// TurnRequest 一轮对话的不可变输入
type TurnRequest struct {
	Question    string
	ChatID      string
	Token       string
	EnableVoice bool
	EnableImage bool
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.AutoCloseDelay <= 0 {
		o.AutoCloseDelay = defaultAutoCloseDelay
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: o.HandshakeTimeout,
		}
	}
	return o
}

// URL 返回聊天端点地址，TLS 时使用 wss
func (o Options) URL() string {
	scheme := "ws"
	if o.Secure {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: o.Host, Path: chat.EndpointPath}
	return u.String()
}
