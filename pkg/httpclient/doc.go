// Package httpclient はJSONを送受信するHTTPクライアントを提供する。
//
// 通知サービスではWebhookの配信に使用する。タイムアウト、Transportの差し替え、
// リクエスト単位のヘッダー付与、2xx以外のレスポンスの StatusError への変換を扱う。
package httpclient
