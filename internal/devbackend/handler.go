package devbackend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nao1215/storefront/pkg/middleware"
	"golang.org/x/crypto/bcrypt"
)

// loginRequest はログインのリクエストボディ。
type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// registerRequest は会員登録のリクエストボディ。
type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
	Email    string `json:"email" binding:"omitempty,email"`
}

// refreshRequest はリフレッシュとログアウトのリクエストボディ。
type refreshRequest struct {
	Refresh string `json:"refresh" binding:"required"`
}

// tokenPair はトークンを返すエンドポイントのレスポンスボディ。
type tokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// handleLogin はユーザー名とパスワードを検証してトークンを発行するハンドラを返す。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です"})
			return
		}

		u, err := s.getUserByUsername(c.Request.Context(), req.Username)
		if errors.Is(err, errUserNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザー名またはパスワードが違います"})
			return
		}
		if err != nil {
			log.Printf("[DevBackend] ユーザー取得エラー: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザー取得に失敗しました"})
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザー名またはパスワードが違います"})
			return
		}

		if err := s.touchLastLogin(c.Request.Context(), u.ID); err != nil {
			log.Printf("[DevBackend] %v", err)
		}

		pair, err := s.issuePair(c.Request.Context(), u)
		if err != nil {
			log.Printf("[DevBackend] トークン発行エラー: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			return
		}
		log.Printf("[DevBackend] ログイン: user_id=%s", u.ID)
		c.JSON(http.StatusOK, pair)
	}
}

// handleRegister は会員登録を行いトークンを発行するハンドラを返す。
func (s *Server) handleRegister() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です"})
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cfg.BcryptCost)
		if err != nil {
			log.Printf("[DevBackend] パスワードハッシュ生成エラー: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "会員登録に失敗しました"})
			return
		}

		u := user{
			ID:           uuid.NewString(),
			Username:     req.Username,
			Email:        req.Email,
			PasswordHash: string(hash),
		}
		if err := s.createUser(c.Request.Context(), u); err != nil {
			if errors.Is(err, errUsernameTaken) {
				c.JSON(http.StatusConflict, gin.H{"error": errUsernameTaken.Error()})
				return
			}
			log.Printf("[DevBackend] ユーザー作成エラー: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "会員登録に失敗しました"})
			return
		}

		pair, err := s.issuePair(c.Request.Context(), u)
		if err != nil {
			log.Printf("[DevBackend] トークン発行エラー: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			return
		}
		log.Printf("[DevBackend] 会員登録: user_id=%s", u.ID)
		c.JSON(http.StatusCreated, pair)
	}
}

// handleRefresh はリフレッシュトークンからアクセストークンを再発行するハンドラを返す。
// ローテーションが有効な場合は提示されたトークンを失効させ、新しいリフレッシュトークンも返す。
func (s *Server) handleRefresh() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です"})
			return
		}

		claims, err := middleware.ParseJWT(s.cfg.JWTSecret, req.Refresh, middleware.TokenTypeRefresh)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "トークンが無効です"})
			return
		}

		ctx := c.Request.Context()
		if s.cfg.RotateRefresh {
			err = s.revokeRefreshToken(ctx, claims.ID)
		} else {
			err = s.checkRefreshToken(ctx, claims.ID)
		}
		if errors.Is(err, errTokenRevoked) {
			log.Printf("[DevBackend] 失効済みのリフレッシュトークンが提示されました: user_id=%s", claims.UserID)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "トークンが無効です"})
			return
		}
		if err != nil {
			log.Printf("[DevBackend] %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンの再発行に失敗しました"})
			return
		}

		u := user{ID: claims.UserID, Username: claims.Username}
		var pair tokenPair
		if s.cfg.RotateRefresh {
			pair, err = s.issuePair(ctx, u)
		} else {
			pair.Access, err = s.issueAccess(u)
		}
		if err != nil {
			log.Printf("[DevBackend] トークン発行エラー: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, pair)
	}
}

// handleLogout はリフレッシュトークンを失効させるハンドラを返す。
func (s *Server) handleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です"})
			return
		}

		claims, err := middleware.ParseJWT(s.cfg.JWTSecret, req.Refresh, middleware.TokenTypeRefresh)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "トークンが無効です"})
			return
		}

		// 失効済みのトークンでのログアウトも成功扱いにする
		if err := s.revokeRefreshToken(c.Request.Context(), claims.ID); err != nil && !errors.Is(err, errTokenRevoked) {
			log.Printf("[DevBackend] %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ログアウトに失敗しました"})
			return
		}
		log.Printf("[DevBackend] ログアウト: user_id=%s", claims.UserID)
		c.Status(http.StatusResetContent)
	}
}

// handleGetCurrentUser は認証済みユーザーの情報を返すハンドラを返す。
func (s *Server) handleGetCurrentUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		u, err := s.getUserByID(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "ユーザーが見つかりません"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"id":         u.ID,
			"username":   u.Username,
			"email":      u.Email,
			"created_at": u.CreatedAt,
		})
	}
}

// issueAccess はアクセストークンを発行する。
func (s *Server) issueAccess(u user) (string, error) {
	access, _, err := middleware.GenerateJWT(s.cfg.JWTSecret, middleware.TokenTypeAccess, u.ID, u.Username, s.cfg.AccessTTL)
	if err != nil {
		return "", err
	}
	return access, nil
}

// issuePair はアクセストークンとリフレッシュトークンを発行し、リフレッシュトークンを記録する。
func (s *Server) issuePair(ctx context.Context, u user) (tokenPair, error) {
	access, err := s.issueAccess(u)
	if err != nil {
		return tokenPair{}, err
	}

	refresh, jti, err := middleware.GenerateJWT(s.cfg.JWTSecret, middleware.TokenTypeRefresh, u.ID, u.Username, s.cfg.RefreshTTL)
	if err != nil {
		return tokenPair{}, err
	}
	if err := s.recordRefreshToken(ctx, jti, u.ID, time.Now().Add(s.cfg.RefreshTTL)); err != nil {
		return tokenPair{}, fmt.Errorf("トークンの発行に失敗: %w", err)
	}
	return tokenPair{Access: access, Refresh: refresh}, nil
}
