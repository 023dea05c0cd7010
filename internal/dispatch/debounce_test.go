package dispatch

import (
	"testing"
	"time"
)

func TestDebounceSuppressesInsideWindow(t *testing.T) {
	d := NewDebounce(50 * time.Millisecond)

	d.Mark("conn-1", "5511999999999")
	if !d.Suppressed("conn-1", "5511999999999") {
		t.Error("pair not suppressed right after a mark")
	}
	if d.Suppressed("conn-1", "5511888888888") {
		t.Error("different contact suppressed")
	}
	if d.Suppressed("conn-2", "5511999999999") {
		t.Error("different connection suppressed")
	}

	time.Sleep(80 * time.Millisecond)
	if d.Suppressed("conn-1", "5511999999999") {
		t.Error("suppression did not expire")
	}
}
