package chatclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/voicechat/internal/logging"
	"github.com/zhouzirui/voicechat/internal/model/chat"
	"github.com/zhouzirui/voicechat/internal/monitoring"
)

// Session 持有一轮对话的 WebSocket 连接。
// 创建即连接：认证、发送问题、分发服务端事件，直到完成、出错、超时或被关闭。
type Session struct {
	opts    Options
	req     TurnRequest
	cb      Callbacks
	url     string
	logger  *zap.Logger
	metrics *monitoring.ClientMetrics

	ctx     context.Context
	cancel  context.CancelFunc
	idle    *idleTimer
	done    chan struct{}
	started time.Time

	writeMu sync.Mutex

	mu            sync.Mutex
	conn          *websocket.Conn
	state         State
	authenticated bool
	terminal      bool
	closed        bool
	outcome       string
	answer        string
	chatID        string
	messageID     string
	voiceEnabled  bool
	imageEnabled  bool
	voiceFormat   string
	autoClose     *time.Timer
}

// New 创建会话并立即在后台建立连接，不会阻塞。
// 连接失败通过 OnError 通知。
func New(opts Options, req TurnRequest, cb Callbacks) *Session {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		opts:         opts,
		req:          req,
		cb:           cb.withDefaults(),
		url:          opts.URL(),
		metrics:      opts.Metrics,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		started:      time.Now(),
		state:        StateConnecting,
		chatID:       req.ChatID,
		voiceEnabled: req.EnableVoice,
		imageEnabled: req.EnableImage,
	}
	s.logger = logging.OrNop(opts.Logger).Named("chatclient").With(zap.String("url", s.url))
	s.idle = newIdleTimer(opts.Timeout, s.onIdleTimeout)
	s.idle.Reset()

	go s.run()
	return s
}

// State 当前阶段
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ChatID 服务端分配的对话 ID，未知时为请求中的 ID
func (s *Session) ChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatID
}

// MessageID 本轮回答的消息 ID
func (s *Session) MessageID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageID
}

// Done 会话关闭后返回的通道被关闭
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close 关闭会话，可重复调用。关闭后不再触发任何回调。
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = StateClosed
	if s.outcome == "" {
		s.outcome = monitoring.OutcomeClosed
	}
	outcome := s.outcome
	conn := s.conn
	if s.autoClose != nil {
		s.autoClose.Stop()
	}
	s.mu.Unlock()

	s.idle.Stop()
	s.cancel()

	if conn != nil {
		s.writeMu.Lock()
		err := conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.writeMu.Unlock()
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			s.logger.Debug("write close frame failed", zap.Error(err))
		}
		_ = conn.Close()
	}

	s.metrics.RecordTurn(outcome, time.Since(s.started))
	s.logger.Debug("session closed", zap.String("outcome", outcome))
	close(s.done)
}

func (s *Session) run() {
	conn, _, err := s.opts.Dialer.DialContext(s.ctx, s.url, nil)
	if err != nil {
		if s.isClosed() {
			return
		}
		s.logger.Warn("dial failed", zap.Error(err))
		s.fail(ReasonConnection)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.state = StateAuthenticating
	s.mu.Unlock()

	s.metrics.SessionOpened()
	defer s.metrics.SessionClosed()

	s.logger.Debug("connected")
	s.emit(func() { s.cb.OnConnect() })

	if err := s.send(chat.NewAuthFrame(s.req.Token)); err != nil {
		s.writeFailed(err)
		return
	}

	s.readLoop(conn)
}

func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.readFailed(err)
			return
		}
		s.handleFrame(data)
	}
}

func (s *Session) readFailed(err error) {
	s.mu.Lock()
	quiet := s.closed || s.terminal
	s.mu.Unlock()
	if quiet {
		return
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.logger.Info("server closed connection before turn completed", zap.Error(err))
		s.Close()
		return
	}

	s.logger.Warn("read failed", zap.Error(err))
	s.fail(ReasonConnection)
}

func (s *Session) writeFailed(err error) {
	if errors.Is(err, ErrSessionClosed) {
		return
	}
	s.logger.Warn("write failed", zap.Error(err))
	s.fail(ReasonConnection)
}

func (s *Session) send(v any) error {
	s.mu.Lock()
	conn := s.conn
	closed := s.closed
	s.mu.Unlock()
	if closed || conn == nil {
		return ErrSessionClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// emit 仅在会话未关闭时调用回调
func (s *Session) emit(fn func()) {
	if s.isClosed() {
		return
	}
	fn()
}

// finish 抢占终止状态，返回 false 表示本轮已终止或已关闭
func (s *Session) finish(state State, outcome string) bool {
	s.mu.Lock()
	if s.terminal || s.closed {
		s.mu.Unlock()
		return false
	}
	s.terminal = true
	s.state = state
	s.outcome = outcome
	s.mu.Unlock()

	s.idle.Stop()
	return true
}

// fail 以错误结束本轮并关闭连接
func (s *Session) fail(reason string) {
	if !s.finish(StateErrored, monitoring.OutcomeError) {
		return
	}
	s.logger.Warn("chat turn failed", zap.String("reason", reason))
	s.emit(func() { s.cb.OnError(reason) })
	s.Close()
}

func (s *Session) onIdleTimeout() {
	s.mu.Lock()
	if s.terminal || s.closed {
		s.mu.Unlock()
		return
	}
	s.outcome = monitoring.OutcomeTimeout
	report := s.opts.ReportTimeout
	if report {
		s.terminal = true
		s.state = StateErrored
	}
	s.mu.Unlock()

	s.logger.Warn("idle timeout, closing", zap.Duration("timeout", s.opts.Timeout))
	if report {
		s.emit(func() { s.cb.OnError(ReasonTimeout) })
	}
	s.Close()
}

func (s *Session) scheduleAutoClose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.autoClose = time.AfterFunc(s.opts.AutoCloseDelay, s.Close)
}
