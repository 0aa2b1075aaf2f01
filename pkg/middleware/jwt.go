package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType はJWTの用途を表す。
type TokenType string

const (
	// TokenTypeAccess はAPI呼び出しに使うアクセストークン。
	TokenTypeAccess TokenType = "access"
	// TokenTypeRefresh はアクセストークンの再発行に使うリフレッシュトークン。
	TokenTypeRefresh TokenType = "refresh"
)

// Issuer は開発用バックエンドが発行するトークンのiss。
const Issuer = "storefront-devbackend"

// ErrTokenType はトークンの用途が期待と異なることを表す。
var ErrTokenType = errors.New("トークンの種別が不正です")

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"user_id"`
	// Username はログインに使うユーザー名。
	Username string `json:"username"`
	// TokenType はアクセストークンかリフレッシュトークンか。
	TokenType TokenType `json:"token_type"`
}

// headerKeyUserID はユーザーIDを伝播するためのHTTPヘッダーキー。
const headerKeyUserID = "X-User-ID"

// GenerateJWT はユーザー情報から指定種別のJWTトークンを生成する。
// トークンと、失効管理に使うjtiを返す。
func GenerateJWT(secret string, tokenType TokenType, userID, username string, ttl time.Duration) (string, string, error) {
	now := time.Now()
	jti := uuid.NewString()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    Issuer,
		},
		UserID:    userID,
		Username:  username,
		TokenType: tokenType,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, jti, nil
}

// ParseJWT は署名と有効期限を検証し、種別がwantであることを確かめる。
func ParseJWT(secret, tokenString string, want TokenType) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, fmt.Errorf("JWTトークンの検証に失敗: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("JWTトークンが無効です")
	}
	if claims.TokenType != want {
		return nil, fmt.Errorf("%w: got=%s, want=%s", ErrTokenType, claims.TokenType, want)
	}
	return claims, nil
}

// JWTAuth はアクセストークンを検証するGinミドルウェアを返す。
// リフレッシュトークンをBearerとして提示された場合も401を返す。
// 検証に成功した場合、コンテキストに "user_id" と "username" を設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorizationヘッダーが必要です",
			})
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer トークン形式が不正です",
			})
			return
		}

		claims, err := ParseJWT(secret, tokenString, TokenTypeAccess)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Header(headerKeyUserID, claims.UserID)
		c.Next()
	}
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}
