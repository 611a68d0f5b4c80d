package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/zhouzirui/voicechat/pkg/utils"
)

// ErrInvalidToken 令牌缺失或不匹配
var ErrInvalidToken = errors.New("invalid token")

type contextKey struct{}

// Authenticator 校验 Bearer 令牌并映射到用户 ID。
// 配置了固定令牌时只接受该令牌；否则任何非空令牌都对应一个稳定的用户 ID。
type Authenticator struct {
	token  string
	userID string
}

// NewAuthenticator 创建认证器
func NewAuthenticator(token, userID string) *Authenticator {
	if userID == "" {
		userID = "local-user"
	}
	return &Authenticator{token: token, userID: userID}
}

// UserID 返回令牌对应的用户
func (a *Authenticator) UserID(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}
	if a.token != "" {
		if subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) != 1 {
			return "", ErrInvalidToken
		}
		return a.userID, nil
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(token)).String(), nil
}

// BearerAuth 校验 Authorization 头并把用户 ID 放入请求上下文
func (a *Authenticator) BearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, err := a.UserID(token)
		if err != nil {
			utils.RespondError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// WithUserID 把用户 ID 写入上下文
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserIDFrom 读取 BearerAuth 写入的用户 ID
func UserIDFrom(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(contextKey{}).(string)
	return userID, ok && userID != ""
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
