package ui

import (
	"strings"
	"testing"
)

func TestBold_ContainsText(t *testing.T) {
	Init(false)
	result := Bold("hello")
	if !strings.Contains(result, "hello") {
		t.Errorf("Bold output should contain 'hello', got %q", result)
	}
}

func TestColorDisabled_PlainText(t *testing.T) {
	Init(true) // no color
	defer Init(false)

	if Bold("hello") != "hello" {
		t.Errorf("expected plain text when color disabled, got %q", Bold("hello"))
	}
	if Red("error") != "error" {
		t.Errorf("expected plain text, got %q", Red("error"))
	}
	if Green("ok") != "ok" {
		t.Errorf("expected plain text, got %q", Green("ok"))
	}
}

func TestLoggerInitialized(t *testing.T) {
	Init(false)
	if Logger == nil {
		t.Error("Logger should be initialized after Init()")
	}
}

func TestLogo_NoErrors(t *testing.T) {
	Init(false)
	// Logo writes to stderr; just verify no panic
	Logo()
	LogoWithTagline("test tagline")
}

func TestTagList(t *testing.T) {
	Init(true)
	defer Init(false)

	if got := TagList(nil); got != "(none)" {
		t.Errorf("empty tag list = %q", got)
	}
	if got := TagList([]string{"a", "b"}); got != "a, b" {
		t.Errorf("tag list = %q", got)
	}
}
