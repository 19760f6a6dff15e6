// Package camera カメラデバイスのライフサイクル管理を担う
//
// # 責務
// - デバイスのオープン/クローズ/再オープン/エラーのライフサイクル制御
// - ステートマシンによる遷移管理とキャプチャセッションの生成・破棄
// - 再オープン予算の追跡と制限時間内のリトライ
// - デバイス空き状態の受動的な観測
// - エラーの分類（回復可能/致命的）とリスナーへの通知
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - バックグラウンドのハードウェアサービスと共有されるカメラ資源を
//   安全に取得・解放したい
// - 資源が非同期に奪われたり失敗したりする環境で自動回復させたい
// - カメラの公開状態をリアルタイムで購読したい
//
// # 仕様
// - Controller: カメラ識別子ごとに1つのステートマシン本体
// - 遷移ロジックは純粋関数 (machine, event) -> (machine, []effect) で
//   定義し、I/Oはエフェクト解釈器が実行する
// - 全ての公開操作とハードウェアコールバックはカメラごとの
//   シリアライズドエグゼキュータ上で直列実行される（明示的ロック不要）
// - ReopenMonitor: 初回失敗から5秒の固定窓で再オープン試行を制限
// - Manager: 複数カメラのコントローラ統合管理とデバイス自動検出
// - V4L2 Connector/Session: ffmpeg経由での実デバイス制御
//
// # 前提要件
//   - v4l-utils: カメラ名の取得とデバイス制御に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - ffmpeg: 画像キャプチャとストリーミングに使用
//     Ubuntu/Debian: sudo apt install ffmpeg
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
