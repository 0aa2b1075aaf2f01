package devbackend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// errUserNotFound はユーザーが存在しないことを表す。
	errUserNotFound = errors.New("ユーザーが見つかりません")
	// errUsernameTaken はユーザー名が登録済みであることを表す。
	errUsernameTaken = errors.New("ユーザー名は既に使われています")
	// errTokenRevoked はリフレッシュトークンが失効済みか未登録であることを表す。
	errTokenRevoked = errors.New("リフレッシュトークンは失効しています")
)

// user はusersテーブルの1行。
type user struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    string
}

// getUserByUsername はユーザー名でユーザーを取得する。
func (s *Server) getUserByUsername(ctx context.Context, username string) (user, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, created_at FROM users WHERE username = ?", username))
}

// getUserByID はIDでユーザーを取得する。
func (s *Server) getUserByID(ctx context.Context, id string) (user, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, created_at FROM users WHERE id = ?", id))
}

func (s *Server) scanUser(row *sql.Row) (user, error) {
	var u user
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return user{}, errUserNotFound
	}
	if err != nil {
		return user{}, fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	return u, nil
}

// createUser はユーザーを登録する。ユーザー名が重複する場合はerrUsernameTakenを返す。
func (s *Server) createUser(ctx context.Context, u user) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, username, email, password_hash) VALUES (?, ?, ?, ?)",
		u.ID, u.Username, u.Email, u.PasswordHash)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return errUsernameTaken
		}
		return fmt.Errorf("ユーザーの登録に失敗: %w", err)
	}
	return nil
}

// touchLastLogin は最終ログイン日時を更新する。
func (s *Server) touchLastLogin(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE users SET last_login_at = datetime('now') WHERE id = ?", id); err != nil {
		return fmt.Errorf("最終ログイン日時の更新に失敗: %w", err)
	}
	return nil
}

// recordRefreshToken は発行したリフレッシュトークンのjtiを記録する。
func (s *Server) recordRefreshToken(ctx context.Context, jti, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO refresh_tokens (jti, user_id, expires_at) VALUES (?, ?, ?)",
		jti, userID, expiresAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("リフレッシュトークンの記録に失敗: %w", err)
	}
	return nil
}

// checkRefreshToken はjtiが記録済みかつ未失効であることを確かめる。
func (s *Server) checkRefreshToken(ctx context.Context, jti string) error {
	var revoked bool
	err := s.db.QueryRowContext(ctx,
		"SELECT revoked_at IS NOT NULL FROM refresh_tokens WHERE jti = ?", jti).Scan(&revoked)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && revoked) {
		return errTokenRevoked
	}
	if err != nil {
		return fmt.Errorf("リフレッシュトークンの確認に失敗: %w", err)
	}
	return nil
}

// revokeRefreshToken はjtiを失効させる。
// 既に失効済みか未登録の場合はerrTokenRevokedを返すため、同じトークンの二重使用を検出できる。
func (s *Server) revokeRefreshToken(ctx context.Context, jti string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at = datetime('now') WHERE jti = ? AND revoked_at IS NULL", jti)
	if err != nil {
		return fmt.Errorf("リフレッシュトークンの失効に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("リフレッシュトークンの失効に失敗: %w", err)
	}
	if n == 0 {
		return errTokenRevoked
	}
	return nil
}

// purgeExpiredRefreshTokens は有効期限切れのリフレッシュトークンを削除し、削除件数を返す。
func (s *Server) purgeExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE expires_at < ?", now.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("期限切れリフレッシュトークンの削除に失敗: %w", err)
	}
	return res.RowsAffected()
}
