// Package bell はターミナルで動く通知ベルのクライアントを提供する。
//
// 未読件数のバッジとドロップダウンをbubbleteaで描画し、通知サービスのAPIを呼び出す。
// 通知の統合や既読判定はサーバー側のセッションが行い、ここでは表示とキー操作だけを扱う。
package bell
