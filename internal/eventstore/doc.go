// Package eventstore は通知集約が読み書きするリレーショナルストアへのアダプタを提供する。
//
// 主な機能:
//   - 永続化通知の取得と既読化（1件・ユーザー単位の一括）
//   - 応募・求人・ユーザーを結合した応募イベントの取得（ロールごと）
//   - 変更ログの取得（トリガーで記録され、変更シグナルの元になる）
//   - 応募や通知の書き込み（内部APIとテストから使う）
//
// 通知の内容は書き換えない。書き換えるのは既読フラグだけ。
package eventstore
