// Package devbackend は開発・結合テスト用のトークン発行バックエンドを提供する。
//
// ログイン、会員登録、リフレッシュ、ログアウトの各トークンエンドポイントと、
// アクセストークンで保護された /api/v1/me を持つ。認証ゲートウェイが
// 前提とするトークン契約だけを実装し、ストアフロントの業務APIは持たない。
// リフレッシュトークンはjti単位でSQLiteに記録し、ローテーション時と
// ログアウト時に失効させる。
package devbackend
