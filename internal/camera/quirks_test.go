package camera

import (
	"errors"
	"fmt"
	"testing"
)

// TestTextMatchQuirk はエラーメッセージの部分一致検出をテストする
func TestTextMatchQuirk(t *testing.T) {
	quirk := NewTextMatchQuirk("uvc-close-ebusy", "Device or resource busy")

	if quirk.Name() != "uvc-close-ebusy" {
		t.Errorf("識別名が一致しません: got %s", quirk.Name())
	}

	testCases := []struct {
		err  error
		want bool
	}{
		{errors.New("ioctl failed: Device or resource busy"), true},
		{fmt.Errorf("close: %w", errors.New("Device or resource busy")), true},
		{errors.New("permission denied"), false},
		{nil, false},
	}

	for _, tc := range testCases {
		if got := quirk.Matches(tc.err); got != tc.want {
			t.Errorf("判定が一致しません: err=%v got=%v want=%v", tc.err, got, tc.want)
		}
	}
}

// TestMatchesAnyQuirk は既知問題一覧からの検出をテストする
func TestMatchesAnyQuirk(t *testing.T) {
	quirks := DefaultCloseQuirks()

	matched, ok := matchesAnyQuirk(quirks, errors.New("uvcvideo: Device or resource busy"))
	if !ok {
		t.Fatal("既知問題が検出されませんでした")
	}
	if matched.Name() != "uvc-close-ebusy" {
		t.Errorf("検出された既知問題が一致しません: got %s", matched.Name())
	}

	if _, ok := matchesAnyQuirk(quirks, errors.New("no such device")); ok {
		t.Error("該当しないエラーが検出されました")
	}

	if _, ok := matchesAnyQuirk(nil, errors.New("anything")); ok {
		t.Error("空の一覧で検出されました")
	}
}
