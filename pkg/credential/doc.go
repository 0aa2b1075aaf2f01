// Package credential はアクセストークンとリフレッシュトークンの組を保持する。
//
// 認証情報は単一のキー（StorageKey）の下にJSONとして保存される。
// 読み書きはauthgatewayとセッション層だけが行い、他のコンポーネントは
// ストレージを直接解析しない。
package credential
