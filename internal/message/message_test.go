package message

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateContent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{name: "plain text", input: "hello world", want: "hello world"},
		{name: "trimmed", input: "  hello  ", want: "hello"},
		{name: "html stripped", input: `<script>alert("x")</script>hello`, want: "hello"},
		{name: "tags stripped keeps text", input: "<b>bold</b> words", want: "bold words"},
		{name: "empty", input: "", wantErr: ErrEmptyContent},
		{name: "whitespace only", input: "   \n\t ", wantErr: ErrEmptyContent},
		{name: "only markup", input: "<img src=x>", wantErr: ErrEmptyContent},
		{name: "too long", input: strings.Repeat("a", 4001), wantErr: ErrContentTooLong},
		{name: "maximum length", input: strings.Repeat("a", 4000), want: strings.Repeat("a", 4000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ValidateContent(tt.input, 4000)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateContent(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ValidateContent(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateContentRuneLimit(t *testing.T) {
	t.Parallel()

	// The limit counts runes, not bytes.
	content := strings.Repeat("ü", 10)
	if _, err := ValidateContent(content, 10); err != nil {
		t.Errorf("ValidateContent() error = %v, want 10 runes within a 10-rune limit", err)
	}
	if _, err := ValidateContent(content, 9); !errors.Is(err, ErrContentTooLong) {
		t.Errorf("ValidateContent() error = %v, want ErrContentTooLong", err)
	}
}

func TestClampLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input int
		want  int
	}{
		{0, DefaultLimit},
		{-5, DefaultLimit},
		{1, 1},
		{50, 50},
		{100, 100},
		{101, MaxLimit},
		{10000, MaxLimit},
	}
	for _, tt := range tests {
		if got := ClampLimit(tt.input); got != tt.want {
			t.Errorf("ClampLimit(%d) = %d, want %d", tt.input, got, tt.want)
		}
	}
}
