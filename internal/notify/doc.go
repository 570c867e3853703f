// Package notify は通知ベルに表示する一覧を組み立てる集約エンジンを提供する。
//
// 2種類の通知元を1つの時系列リストに統合する。
//   - 永続化通知: notificationsテーブルの行。既読フラグはサーバーが保持する。
//   - 派生イベント: 求人応募の状態から都度導出する通知。行としては保存されず、
//     既読状態はユーザーごとのローカル既読キャッシュだけが持つ。
//
// Aggregatorはロールごとの導出規則（Profile）で特殊化される。
// 変更シグナルを受けるたびに差分ではなく全件を再導出する。
package notify
