// Package middleware は開発用バックエンドで使用するGinミドルウェアを提供する。
//
// アクセストークンとリフレッシュトークンの発行と検証、リクエストIDの採番、
// パニックリカバリ、CORS設定を含む。
package middleware
