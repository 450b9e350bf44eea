package builderr

import (
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{Config("bad include %q", "*.txt"), KindConfiguration},
		{fmt.Errorf("module app: %w", &CompileError{Count: 2}), KindCompilation},
		{&EnvError{Msg: "javac not found"}, KindEnvironment},
		{fmt.Errorf("fork: %w", &ProcessError{Cmd: "javac-worker", ExitCode: 3}), KindProcess},
		{IO("write", "/tmp/x", os.ErrPermission), KindIO},
		{errors.New("plain"), KindUnknown},
		{nil, KindUnknown},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Fatalf("KindOf(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestIOKeepsClassification(t *testing.T) {
	inner := Config("broken")
	if got := IO("read", "x", inner); got != inner {
		t.Fatalf("expected classified error to pass through, got %v", got)
	}
	if IO("read", "x", nil) != nil {
		t.Fatalf("nil must stay nil")
	}
	if !errors.Is(IO("read", "x", os.ErrNotExist), os.ErrNotExist) {
		t.Fatalf("IOError must unwrap")
	}
}

func TestCompileErrorMessage(t *testing.T) {
	err := &CompileError{Count: 1}
	want := "1 error(s) encountered, see previous message(s) for details"
	if err.Error() != want {
		t.Fatalf("got %q", err.Error())
	}
	if KindCompilation.ExitCode() != 1 || KindConfiguration.ExitCode() != 2 {
		t.Fatalf("unexpected exit codes")
	}
}
