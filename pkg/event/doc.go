// Package event は通知の再取得を促す変更シグナルの型を提供する。
//
// シグナルはペイロードを保証しない。どのテーブルで、誰に関わる変更が起きたかだけを運ぶ。
package event
