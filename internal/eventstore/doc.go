// Package eventstore はセッションイベントの追記専用ストアを提供する。
//
// 認証ゲートウェイがevent.Busに配信したSessionStarted、TokenRefreshed、
// SessionEndedを発生順にSQLiteへ記録し、後から履歴として参照できるようにする。
// イベントは追記のみで、更新も削除もしない。
package eventstore
