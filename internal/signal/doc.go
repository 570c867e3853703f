// Package signal はユーザー単位の変更シグナルを配送する。
//
// Watcherがイベントストアの変更ログをポーリングし、Brokerが該当ユーザーの購読者へ配る。
// シグナルは「何かが変わった」ことしか伝えないので、受信側は全件を取り直す。
package signal
