package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/zhouzirui/voicechat/internal/logging"
	"github.com/zhouzirui/voicechat/internal/model/chat"
)

const userAgent = "voicechat-client/1.0"

// Options REST 客户端配置
type Options struct {
	BaseURL      string
	Token        string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// RateLimit 每秒请求数，<=0 表示不限速
	RateLimit float64
	Logger    *zap.Logger
}

// Client 调用聊天后端的 HTTP 接口
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	mu      sync.RWMutex
}

// NewClient 创建带重试与限速的客户端
func NewClient(opts Options) *Client {
	logger := logging.OrNop(opts.Logger).Named("api")

	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = 500 * time.Millisecond
	}
	if opts.RetryWaitMax <= 0 {
		opts.RetryWaitMax = 10 * time.Second
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = opts.RetryWaitMin
	retryClient.RetryWaitMax = opts.RetryWaitMax
	retryClient.Logger = retryLogger{logger.Sugar()}
	retryClient.CheckRetry = retryPolicy
	// 重试用尽后返回最后一次响应，交给 resty 判定状态码
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	restyClient := resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json")
	if opts.Token != "" {
		restyClient.SetAuthToken(opts.Token)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &Client{
		resty:   restyClient,
		limiter: limiter,
		logger:  logger,
	}
}

// SetToken 更新 Bearer 令牌，空字符串表示不带认证头
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resty.SetAuthToken(token)
}

// ListChats GET /chats
func (c *Client) ListChats(ctx context.Context) ([]chat.Chat, error) {
	var chats []chat.Chat
	if _, err := c.execute(ctx, c.request().SetResult(&chats), http.MethodGet, "/chats"); err != nil {
		return nil, err
	}
	return chats, nil
}

// GetChat GET /chats/{id}，返回对话及按时间排序的消息
func (c *Client) GetChat(ctx context.Context, chatID string) (*chat.ChatDetail, error) {
	if chatID == "" {
		return nil, fmt.Errorf("chat id is required")
	}
	var detail chat.ChatDetail
	req := c.request().SetPathParam("chatID", chatID).SetResult(&detail)
	if _, err := c.execute(ctx, req, http.MethodGet, "/chats/{chatID}"); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Query POST /query，非流式问答
func (c *Client) Query(ctx context.Context, in chat.QueryRequest) (*chat.QueryResponse, error) {
	var out chat.QueryResponse
	req := c.request().SetBody(in).SetResult(&out)
	if _, err := c.execute(ctx, req, http.MethodPost, "/query"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transcribe POST /transcribe，以 multipart 字段 audio 上传音频
func (c *Client) Transcribe(ctx context.Context, filename string, audio io.Reader) (*chat.Transcription, error) {
	if filename == "" {
		filename = "audio.webm"
	}
	var out chat.Transcription
	req := c.request().
		SetFileReader("audio", filename, audio).
		SetResult(&out)
	if _, err := c.execute(ctx, req, http.MethodPost, "/transcribe"); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCustomPrompt GET /users/custom-prompt
func (c *Client) GetCustomPrompt(ctx context.Context) (string, error) {
	var out chat.CustomPrompt
	if _, err := c.execute(ctx, c.request().SetResult(&out), http.MethodGet, "/users/custom-prompt"); err != nil {
		return "", err
	}
	return out.CustomPrompt, nil
}

// SetCustomPrompt POST /users/custom-prompt
func (c *Client) SetCustomPrompt(ctx context.Context, prompt string) error {
	req := c.request().SetBody(chat.CustomPrompt{CustomPrompt: prompt})
	_, err := c.execute(ctx, req, http.MethodPost, "/users/custom-prompt")
	return err
}

func (c *Client) request() *resty.Request {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resty.R().SetError(&errorBody{})
}

func (c *Client) execute(ctx context.Context, req *resty.Request, method, path string) (*resty.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	if !idempotent(method) {
		ctx = context.WithValue(ctx, noRetryKey{}, true)
	}

	start := time.Now()
	resp, err := req.SetContext(ctx).Execute(method, path)
	if err != nil {
		c.logger.Warn("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	c.logger.Debug("request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.IsError() {
		return resp, newError(resp)
	}
	return resp, nil
}

type noRetryKey struct{}

// retryPolicy 非幂等请求不重试
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if noRetry, _ := ctx.Value(noRetryKey{}).(bool); noRetry {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// retryLogger 把 retryablehttp 的日志接到 zap
type retryLogger struct {
	l *zap.SugaredLogger
}

func (r retryLogger) Error(msg string, kv ...interface{}) { r.l.Errorw(msg, kv...) }
func (r retryLogger) Info(msg string, kv ...interface{})  { r.l.Debugw(msg, kv...) }
func (r retryLogger) Debug(msg string, kv ...interface{}) { r.l.Debugw(msg, kv...) }
func (r retryLogger) Warn(msg string, kv ...interface{})  { r.l.Warnw(msg, kv...) }
