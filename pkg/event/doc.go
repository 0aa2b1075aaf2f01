// Package event はセッションのライフサイクルを表すイベントと、その配信を提供する。
//
// authgatewayはログイン、トークンの再発行、セッション終了のたびに
// イベントを発行する。アプリケーション側のセッション層はBusを購読し、
// SessionEndedを受け取ったら再ログインの導線に切り替える。
package event
