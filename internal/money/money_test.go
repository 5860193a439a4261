package money

import "testing"

func TestNewCurrency(t *testing.T) {
	tests := []struct {
		name          string
		code          string
		decimalPlaces int
		wantErr       bool
	}{
		{name: "valid USD", code: "USD", decimalPlaces: 2, wantErr: false},
		{name: "valid JPY zero decimals", code: "JPY", decimalPlaces: 0, wantErr: false},
		{name: "max decimal places", code: "BHD", decimalPlaces: 4, wantErr: false},
		{name: "empty code", code: "", decimalPlaces: 2, wantErr: true},
		{name: "wrong length code", code: "US", decimalPlaces: 2, wantErr: true},
		{name: "negative decimal places", code: "USD", decimalPlaces: -1, wantErr: true},
		{name: "too many decimal places", code: "USD", decimalPlaces: 5, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCurrency(tt.code, tt.decimalPlaces, false)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NewCurrency(%q, %d) error = nil, want error", tt.code, tt.decimalPlaces)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewCurrency(%q, %d) unexpected error: %v", tt.code, tt.decimalPlaces, err)
			}
			if c.Code != tt.code || c.DecimalPlaces != tt.decimalPlaces {
				t.Errorf("NewCurrency() = %+v, want code=%s decimalPlaces=%d", c, tt.code, tt.decimalPlaces)
			}
		})
	}
}

func TestLineTotal(t *testing.T) {
	if got := LineTotal(3, 850); got != 2550 {
		t.Errorf("LineTotal(3, 850) = %d, want 2550", got)
	}
	if got := LineTotal(0, 100); got != 0 {
		t.Errorf("LineTotal(0, 100) = %d, want 0", got)
	}
}

func TestChange(t *testing.T) {
	tests := []struct {
		tendered, total, want Minor
	}{
		{500, 350, 150},
		{350, 350, 0},
		{100, 350, 0}, // insufficient tender never yields negative change
	}
	for _, tt := range tests {
		if got := Change(tt.tendered, tt.total); got != tt.want {
			t.Errorf("Change(%d, %d) = %d, want %d", tt.tendered, tt.total, got, tt.want)
		}
	}
}
