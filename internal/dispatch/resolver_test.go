package dispatch

import "testing"

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		real    string
		want    string
		ok      bool
	}{
		{"plain jid", "5511999999999@s.whatsapp.net", "", "5511999999999", true},
		{"bare number", "5511999999999", "", "5511999999999", true},
		{"device suffix", "5511999999999:27@s.whatsapp.net", "", "5511999999999", true},
		{"lid with real number", "98765432109876@lid", "5511999999999@s.whatsapp.net", "5511999999999", true},
		{"lid without real number", "98765432109876@lid", "", "", false},
		{"group", "123456789-987@g.us", "", "", false},
		{"status broadcast", "status@broadcast", "", "", false},
		{"broadcast list", "123@broadcast", "", "", false},
		{"empty", "", "", "", false},
		{"only suffix", "@s.whatsapp.net", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeAddress(tt.address, tt.real)
			if ok != tt.ok || got != tt.want {
				t.Errorf("NormalizeAddress(%q, %q) = (%q, %v), want (%q, %v)",
					tt.address, tt.real, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestSameNumber(t *testing.T) {
	if !sameNumber("5511999999999@s.whatsapp.net", "5511999999999") {
		t.Error("jid and bare number should match")
	}
	if sameNumber("5511999999999", "5511888888888") {
		t.Error("different numbers must not match")
	}
	if sameNumber("", "5511999999999") {
		t.Error("empty must not match")
	}
}
