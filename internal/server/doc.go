// Package server はHTTP APIとストリーミング配信を管理する
//
// # 責務
// - HTTPサーバーの起動とグレースフルシャットダウン
// - カメラのライフサイクル操作（オープン/クローズ/解放）のAPI公開
// - 単発キャプチャとMJPEGストリーミングの配信
// - WebSocketによるカメラ公開状態のリアルタイム配信
//
// # 仕様
// - ルーティングはgin-gonic/ginを使用
// - WebSocketはgorilla/websocketを使用
// - グレースフルシャットダウンに対応（SIGINT/SIGTERM）
// - 複数クライアントの同時接続をサポート
package server
