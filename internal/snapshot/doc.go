// Package snapshot はオープン中カメラの定期スナップショット保存を担う
//
// # 責務
// - 登録済みカメラからの定期的な単発キャプチャ
// - JPEGファイルのカメラ別・日付別保存
// - 保持期間を超えた古いスナップショットの削除
//
// # 仕様
// - キャプチャはカメラのステートマシン経由で発行され、オープン中の
//   カメラのみが対象になる（オープンされていないカメラはスキップ）
// - ファイル名は snapshot_20060102_150405.jpg 形式
// - 保持期間の掃除は日次で実行される
package snapshot
