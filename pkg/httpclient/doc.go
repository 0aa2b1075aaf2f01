// Package httpclient はストアフロントの各画面がバックエンドのREST APIを
// JSONで呼び出すためのクライアントを提供する。
//
// 送信はauthgateway.Gatewayに委ねるため、アクセストークンの付与と
// 401時の再発行は呼び出し元から見えない。2xx以外のステータスは
// *authgateway.StatusErrorとして返す。
package httpclient
