// Package readstate は派生イベントの既読IDを保持するローカル既読キャッシュを提供する。
//
// ブラウザのlocalStorageと同じく、ユーザーごとに1つのキーへID配列をJSONで保存する。
// 権威あるストレージではなくベストエフォートの保存先であり、
// 件数が上限を超えたら先頭の半分だけを残して切り詰める。
package readstate
