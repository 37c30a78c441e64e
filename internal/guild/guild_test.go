package guild

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{name: "simple", input: "Gophers", want: "Gophers"},
		{name: "trimmed", input: "  Gophers  ", want: "Gophers"},
		{name: "single rune", input: "G", want: "G"},
		{name: "maximum length", input: strings.Repeat("g", 100), want: strings.Repeat("g", 100)},
		{name: "unicode counted as runes", input: strings.Repeat("ü", 100), want: strings.Repeat("ü", 100)},
		{name: "empty", input: "", wantErr: ErrNameLength},
		{name: "whitespace only", input: "   ", wantErr: ErrNameLength},
		{name: "too long", input: strings.Repeat("g", 101), wantErr: ErrNameLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ValidateName(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateName(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ValidateName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
