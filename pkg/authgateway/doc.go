// Package authgateway は認証付きHTTPリクエストの送信口を提供する。
//
// すべてのリクエストに現在のアクセストークンをBearerヘッダーとして付与し、
// 401が返った場合はトークンの再発行を1回だけ行って、同時に失敗した
// リクエストをまとめて再送する。再発行中に401を受け取ったリクエストは
// 進行中の再発行の結果を待ち、2本目の再発行リクエストは決して発行されない。
//
// 再発行に失敗した場合はセッションの終了として扱う。待機中のすべての
// リクエストに同じRefreshErrorを返し、保存済みの認証情報を削除して
// event.TypeSessionEndedを発行する。以降の再発行はログインで新しい
// 認証情報が保存されるまで成功しない。
package authgateway
