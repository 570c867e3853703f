// Package httpclient は通知APIを呼び出すJSON HTTPクライアントを提供する。
//
// ベルクライアントが通知一覧の取得や既読化を行う際に使用する。
package httpclient
