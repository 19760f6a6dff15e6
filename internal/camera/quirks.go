package camera

import (
	"strings"
)

// CloseQuirk は特定のベンダー/ドライバ組み合わせで発生する
// クローズ時の異常動作を検出する述語
// 一部のUVCファームウェアではエラー後のクローズがエラーコールバックを
// 呼ばずに失敗として返るため、文字列照合で検出して回復可能エラーと同じ
// 再オープン経路へ流す
type CloseQuirk interface {
	// Name は既知問題の識別名を返す
	Name() string
	// Matches はクローズ失敗がこの既知問題に該当するか判定する
	Matches(err error) bool
}

// textMatchQuirk はエラーメッセージの部分一致で検出する実装
// メッセージ照合は本質的に脆いため、遷移ロジックから隔離してここに閉じ込める
type textMatchQuirk struct {
	name   string
	substr string
}

// Name は既知問題の識別名を返す
func (q *textMatchQuirk) Name() string {
	return q.name
}

// Matches はエラーメッセージに対象文字列が含まれるか判定する
func (q *textMatchQuirk) Matches(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), q.substr)
}

// NewTextMatchQuirk は部分一致型の CloseQuirk を作成する
func NewTextMatchQuirk(name, substr string) CloseQuirk {
	return &textMatchQuirk{name: name, substr: substr}
}

// DefaultCloseQuirks は既定の既知問題一覧を返す
func DefaultCloseQuirks() []CloseQuirk {
	return []CloseQuirk{
		// 一部のUVCファームウェアはエラー発生後のクローズで
		// EBUSY を返し、エラーコールバックを呼ばない
		NewTextMatchQuirk("uvc-close-ebusy", "Device or resource busy"),
	}
}

// matchesAnyQuirk はいずれかの既知問題に該当するか判定する
func matchesAnyQuirk(quirks []CloseQuirk, err error) (CloseQuirk, bool) {
	for _, q := range quirks {
		if q.Matches(err) {
			return q, true
		}
	}
	return nil, false
}
