package channel

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
		{name: "simple", input: "general", want: "general"},
		{name: "trimmed", input: "  general  ", want: "general"},
		{name: "maximum length", input: strings.Repeat("c", 100), want: strings.Repeat("c", 100)},
		{name: "empty", input: "", wantErr: ErrNameLength},
		{name: "whitespace only", input: " \t ", wantErr: ErrNameLength},
		{name: "too long", input: strings.Repeat("c", 101), wantErr: ErrNameLength},
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

func TestValidateTopic(t *testing.T) {
	t.Parallel()

	if err := ValidateTopic(nil); err != nil {
		t.Errorf("ValidateTopic(nil) error = %v", err)
	}

	short := "talk about anything"
	if err := ValidateTopic(&short); err != nil {
		t.Errorf("ValidateTopic() error = %v", err)
	}

	long := strings.Repeat("t", 1025)
	if err := ValidateTopic(&long); !errors.Is(err, ErrTopicLength) {
		t.Errorf("ValidateTopic() error = %v, want ErrTopicLength", err)
	}
}
