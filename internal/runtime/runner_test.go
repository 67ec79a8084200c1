package runtime

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func TestAllowed(t *testing.T) {
	cases := []struct {
		command string
		ok      bool
	}{
		{"php -l test.php", true},
		{"composer validate", true},
		{"git diff --stat", true},
		{"go vet ./...", true},
		{`php -r "echo 1;"`, true}, // metacharacter inside quotes
		{"ls -la", true},

		{"rm -rf /", false},
		{"php -r `id`", false},
		{"php test.php; rm -rf", false},
		{"curl http://x", false},
		{"php -l a.php && php -l b.php", false},
		{"cat a.php | grep foo", false},
		{"php script.php > out.txt", false},
		{"php $(whoami).php", false},
		{"php $HOME/x.php", false},
		{"", false},
		{"   ", false},
	}
	for _, c := range cases {
		err := Allowed(c.command)
		if c.ok && err != nil {
			t.Errorf("Allowed(%q) = %v, want nil", c.command, err)
		}
		if !c.ok {
			if err == nil {
				t.Errorf("Allowed(%q) = nil, want rejection", c.command)
			} else if !errors.Is(err, ErrNotAllowed) {
				t.Errorf("Allowed(%q) = %v, want ErrNotAllowed", c.command, err)
			}
		}
	}
}

func TestRunRejectsBeforeExecuting(t *testing.T) {
	_, err := Run(context.Background(), "rm -rf /")
	if !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("err = %v, want ErrNotAllowed", err)
	}
}

func TestRunCapturesOutput(t *testing.T) {
	res, err := Run(context.Background(), "ls "+t.TempDir())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit = %d, output %q", res.ExitCode, res.Output)
	}
	if res.TimedOut {
		t.Error("unexpected timeout")
	}
}

func TestRunNonZeroExitIsData(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.txt")
	res, err := Run(context.Background(), "cat "+missing)
	if err != nil {
		t.Fatalf("non-zero exit should not be an error: %v", err)
	}
	if res.ExitCode == 0 {
		t.Error("expected non-zero exit")
	}
	if res.Output == "" {
		t.Error("stderr should be captured in output")
	}
}

func TestSplitArgsHonorsQuotes(t *testing.T) {
	got := splitArgs(`php -r "echo 'hi there';" --no-php-ini`)
	want := []string{"php", "-r", "echo 'hi there';", "--no-php-ini"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitArgs = %q, want %q", got, want)
	}
}

func TestStripQuoted(t *testing.T) {
	got := stripQuoted(`php -r "echo 1; system('x')" -v`)
	if got != `php -r  -v` {
		t.Errorf("stripQuoted = %q", got)
	}
}
