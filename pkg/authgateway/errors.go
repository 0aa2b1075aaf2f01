package authgateway

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRefresh はトークンの再発行に失敗したことを表す。
	// *RefreshErrorはerrors.Is(err, ErrRefresh)を満たす。
	ErrRefresh = errors.New("トークンの再発行に失敗しました")
	// ErrNoRefreshToken はリフレッシュトークンが保存されていないことを表す。
	ErrNoRefreshToken = errors.New("リフレッシュトークンが保存されていません")
	// ErrUnauthorized は再送後も401が返ったことを表す。
	// StatusCodeが401の*StatusErrorはerrors.Is(err, ErrUnauthorized)を満たす。
	ErrUnauthorized = errors.New("認証に失敗しました")
	// errMissingAccessToken はトークンを返すはずのレスポンスにaccessが含まれていないことを表す。
	errMissingAccessToken = errors.New("レスポンスにアクセストークンが含まれていません")
)

// RequestError はネットワーク障害などでレスポンスを得られなかったことを表す。
// 呼び出し元にそのまま返し、ゲートウェイは再送しない。
type RequestError struct {
	// Method はHTTPメソッド。
	Method string
	// Path はリクエストパス。
	Path string
	// Err は元のエラー。
	Err error
}

// Error implements error.
func (e *RequestError) Error() string {
	return fmt.Sprintf("HTTPリクエストの送信に失敗: %s %s: %v", e.Method, e.Path, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *RequestError) Unwrap() error { return e.Err }

// RefreshError はリフレッシュエンドポイントの呼び出しが失敗したか、
// リフレッシュトークンが無かったことを表す。セッションにとって致命的で、
// 再発行を待っていたすべてのリクエストが同じ値を受け取る。
type RefreshError struct {
	// StatusCode はリフレッシュエンドポイントが返したステータスコード。
	// レスポンスを得られなかった場合は0。
	StatusCode int
	// Err は失敗の原因。
	Err error
}

// Error implements error.
func (e *RefreshError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%v: status=%d: %v", ErrRefresh, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%v: %v", ErrRefresh, e.Err)
}

// Unwrap は失敗の原因を返す。
func (e *RefreshError) Unwrap() error { return e.Err }

// Is はtargetがErrRefreshの場合にtrueを返す。
func (e *RefreshError) Is(target error) bool { return target == ErrRefresh }

// StatusError は呼び出し元が失敗として扱うHTTPステータスを表す。
type StatusError struct {
	// Method はHTTPメソッド。
	Method string
	// Path はリクエストパス。
	Path string
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Body はレスポンスボディ。
	Body []byte
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTPエラー: %s %s: status=%d, body=%s", e.Method, e.Path, e.StatusCode, string(e.Body))
}

// Is はStatusCodeが401でtargetがErrUnauthorizedの場合にtrueを返す。
func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}
