package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"surplus_market/internal/access"
	"surplus_market/internal/apperr"
	"surplus_market/internal/httpx"
	"surplus_market/internal/logging"
)

const actorKey = "actor"

// Claims 身份服务签发的 HS256 令牌：sub 为用户 id，role 为 buyer/seller/admin。
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticate 解析 Authorization: Bearer <jwt>，把 Actor 写入上下文。
// 核心逻辑完全信任这里解析出的身份。
func Authenticate(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			httpx.Fail(c, apperr.Unauthenticated("missing Authorization header"))
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			httpx.Fail(c, apperr.Unauthenticated("invalid Authorization header format"))
			return
		}

		actor, err := ParseToken(secret, strings.TrimSpace(parts[1]))
		if err != nil {
			logging.FromGin(c).WithError(err).Warn("token validation failed")
			httpx.Fail(c, apperr.Unauthenticated("invalid or expired token"))
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

// ParseToken 校验签名与有效期，返回 Actor。
func ParseToken(secret []byte, token string) (access.Actor, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return access.Actor{}, err
	}
	role := access.Role(claims.Role)
	if claims.Subject == "" || !role.Valid() {
		return access.Actor{}, jwt.ErrTokenInvalidClaims
	}
	return access.Actor{UserID: claims.Subject, Role: role}, nil
}

// IssueToken 签发令牌，供 loadtest 与测试使用。
func IssueToken(secret []byte, actor access.Actor, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = actor.UserID
	return jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             string(actor.Role),
		RegisteredClaims: claims,
	}).SignedString(secret)
}

// ActorFrom 取出 Authenticate 写入的 Actor。
func ActorFrom(c *gin.Context) (access.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return access.Actor{}, false
	}
	a, ok := v.(access.Actor)
	return a, ok
}
