package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/kelseyhightower/envconfig"
)

// Config 聚合客户端、桩服务端与大模型的配置项。
type Config struct {
	Client  ClientConfig
	API     APIConfig
	Server  ServerConfig
	AI      AIConfig
	Logging LogConfig
}

// ClientConfig 描述聊天 WebSocket 客户端配置。
type ClientConfig struct {
	Host           string        `envconfig:"CHAT_HOST" default:"localhost:8000"`
	Secure         bool          `envconfig:"CHAT_SECURE" default:"false"`
	Token          string        `envconfig:"CHAT_TOKEN"`
	Timeout        time.Duration `envconfig:"CHAT_TIMEOUT" default:"30s"`
	AutoCloseDelay time.Duration `envconfig:"CHAT_AUTO_CLOSE_DELAY" default:"1s"`
	EnableVoice    bool          `envconfig:"CHAT_ENABLE_VOICE" default:"false"`
	EnableImage    bool          `envconfig:"CHAT_ENABLE_IMAGE" default:"false"`
	ReportTimeout  bool          `envconfig:"CHAT_REPORT_TIMEOUT" default:"false"`
}

// APIConfig 描述 REST 接口客户端配置。
type APIConfig struct {
	BaseURL   string        `envconfig:"API_BASE_URL" default:"http://localhost:8000"`
	Timeout   time.Duration `envconfig:"API_TIMEOUT" default:"30s"`
	RetryMax  int           `envconfig:"API_RETRY_MAX" default:"3"`
	RateLimit float64       `envconfig:"API_RATE_LIMIT" default:"0"`
}

// 桩服务端支持的协议版本
const (
	ProtocolPhased = "phased"
	ProtocolLegacy = "legacy"
)

// ServerConfig 描述桩服务端配置。
type ServerConfig struct {
	Port       string        `envconfig:"PORT" default:"8000"`
	Addr       string        `ignored:"true"`
	Protocol   string        `envconfig:"STUB_PROTOCOL" default:"phased"`
	Token      string        `envconfig:"STUB_TOKEN"`
	UserID     string        `envconfig:"STUB_USER_ID" default:"local-user"`
	ChunkDelay time.Duration `envconfig:"STUB_CHUNK_DELAY" default:"50ms"`
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey    string `envconfig:"ARK_API_KEY"`
	AccessKey string `envconfig:"ARK_ACCESS_KEY"`
	SecretKey string `envconfig:"ARK_SECRET_KEY"`
	Model     string `envconfig:"ARK_MODEL"`
	BaseURL   string `envconfig:"ARK_BASE_URL" default:"https://ark.cn-beijing.volces.com/api/v3"`
	Region    string `envconfig:"ARK_REGION" default:"cn-beijing"`
}

// LogConfig 描述日志配置。
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	addr, err := resolveAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Server.Protocol {
	case ProtocolPhased, ProtocolLegacy:
	default:
		return fmt.Errorf("invalid STUB_PROTOCOL value %q", c.Server.Protocol)
	}
	if c.Client.Timeout <= 0 {
		return fmt.Errorf("invalid CHAT_TIMEOUT value %s", c.Client.Timeout)
	}
	if c.API.RetryMax < 0 {
		return fmt.Errorf("invalid API_RETRY_MAX value %d", c.API.RetryMax)
	}
	return nil
}

// resolveAddr 解析服务器监听地址。
func resolveAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8000"
	}

	if strings.Contains(port, ":") {
		// 允许直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:   c.BaseURL,
		Region:    c.Region,
		APIKey:    c.APIKey,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Model:     c.Model,
	})
}
