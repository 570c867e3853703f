// Package notification は通知サービスのHTTP APIを提供する。
//
// ユーザーとロールの組ごとにnotify.Aggregatorのセッションを保持し、
// 統合済みの通知一覧をJSONとServer-Sent Eventsで返す。
// プラットフォームの他の部分から呼ばれる内部APIで通知や応募を書き込むと、
// 変更ログ経由で該当セッションが再取得する。
package notification
