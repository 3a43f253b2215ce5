package validation

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"10", "10", false},
		{"10.50", "10.5", false},
		{"1,00", "1", false},
		{" +1,00 ", "1", false},
		{"1 000,25", "1000.25", false},
		{"-5", "-5", false},
		{"", "", true},
		{"abc", "", true},
		{"1.2.3", "", true},
	}

	for _, tt := range tests {
		got, err := ParseAmount(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseAmount(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAmount(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("ParseAmount(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestToMinor(t *testing.T) {
	v, ok := ToMinor(decimal.RequireFromString("10.25"), 2)
	if !ok || v != 1025 {
		t.Fatalf("ToMinor(10.25, 2) = %d, %v; want 1025, true", v, ok)
	}

	if _, ok := ToMinor(decimal.RequireFromString("10.255"), 2); ok {
		t.Fatalf("ToMinor must reject sub-minor precision")
	}

	v, ok = ToMinor(decimal.RequireFromString("12.5"), 6)
	if !ok || v != 12500000 {
		t.Fatalf("ToMinor(12.5, 6) = %d, %v; want 12500000, true", v, ok)
	}

	if got := FromMinor(1025, 2); !got.Equal(decimal.RequireFromString("10.25")) {
		t.Fatalf("FromMinor(1025, 2) = %s", got)
	}
}

func TestIsValidTxHash(t *testing.T) {
	valid := "a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90"
	if !IsValidTxHash(valid) {
		t.Fatalf("expected %q to be valid", valid)
	}
	if IsValidTxHash(valid[:63]) {
		t.Fatalf("short hash must be invalid")
	}
	if IsValidTxHash(valid[:63] + "z") {
		t.Fatalf("non-hex hash must be invalid")
	}
}
