// Package token 负责校验外部签发的 JSON Web Tokens (JWT)。
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"netsight-go/internal/model"
)

// JWTManager 负责 JWT 的验证，签发只用于测试和本地调试。
type JWTManager struct {
	secretKey []byte
}

// CustomClaims 定义了 JWT 中携带的身份信息。
type CustomClaims struct {
	IdentityID string `json:"sub_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// NewJWTManager 创建一个新的 JWTManager 实例。
func NewJWTManager(secret string) *JWTManager {
	return &JWTManager{secretKey: []byte(secret)}
}

// GenerateToken 为给定身份签发一个 HS256 token。
func (m *JWTManager) GenerateToken(identity model.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := CustomClaims{
		IdentityID: identity.ID,
		Name:       identity.Name,
		Email:      identity.Email,
		Role:       identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
}

// VerifyToken 验证 token 并返回其中的身份。
// 签名不匹配、已过期或缺少身份 ID 时返回错误。
func (m *JWTManager) VerifyToken(tokenString string) (*model.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.IdentityID == "" {
		return nil, errors.New("token carries no identity")
	}
	return &model.Identity{
		ID:    claims.IdentityID,
		Name:  claims.Name,
		Email: claims.Email,
		Role:  claims.Role,
	}, nil
}
