package event

import (
	"encoding/json"
	"time"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeSessionStarted はログインまたは登録で認証情報が保存されたことを表す。
	TypeSessionStarted Type = "SessionStarted"
	// TypeTokenRefreshed はアクセストークンが再発行されたことを表す。
	TypeTokenRefreshed Type = "TokenRefreshed"
	// TypeSessionEnded は認証情報が破棄され、再ログインが必要になったことを表す。
	TypeSessionEnded Type = "SessionEnded"
)

// セッション終了の理由。
const (
	// ReasonLogout は利用者によるログアウト。
	ReasonLogout = "logout"
	// ReasonRefreshFailed はリフレッシュエンドポイントがトークンを拒否したか、通信に失敗したこと。
	ReasonRefreshFailed = "refresh_failed"
	// ReasonNoRefreshToken はリフレッシュトークンが保存されていなかったこと。
	ReasonNoRefreshToken = "no_refresh_token"
)

// Event はセッションに関して発生した出来事を表す。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// Type はイベントの種類。
	Type Type `json:"type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// SessionStartedData はSessionStartedイベントのデータ。
type SessionStartedData struct {
	// Username はログインしたユーザー名。
	Username string `json:"username"`
}

// TokenRefreshedData はTokenRefreshedイベントのデータ。
type TokenRefreshedData struct {
	// Rotated はリフレッシュトークンも新しいものに置き換わったかどうか。
	Rotated bool `json:"rotated"`
}

// SessionEndedData はSessionEndedイベントのデータ。
type SessionEndedData struct {
	// Reason はセッションが終了した理由。
	Reason string `json:"reason"`
	// Error は終了の原因となったエラーメッセージ。ログアウト時は空。
	Error string `json:"error,omitempty"`
}
