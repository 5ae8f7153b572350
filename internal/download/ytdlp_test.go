package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOptionsValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts Options
		want string
	}{
		{name: "mark watched default", opts: Options{Mode: ModeMarkWatched}},
		{name: "browser cookies", opts: Options{Mode: ModeMarkWatched, CookiesFromBrowser: "firefox"}},
		{name: "cookie file", opts: Options{Mode: ModeMarkWatched, CookieFile: "cookies.txt"}},
		{name: "download", opts: Options{Mode: ModeDownload, OutputDir: "videos"}},
		{name: "unknown mode", opts: Options{Mode: "stream"}, want: "unknown download mode"},
		{name: "download without dir", opts: Options{Mode: ModeDownload}, want: "output_dir"},
		{
			name: "both cookie sources",
			opts: Options{Mode: ModeMarkWatched, CookiesFromBrowser: "chrome", CookieFile: "c.txt"},
			want: "mutually exclusive",
		},
		{name: "unknown browser", opts: Options{Mode: ModeMarkWatched, CookiesFromBrowser: "netscape"}, want: "unsupported browser"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.opts.Validate()
			if tt.want == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestYTDLPArgsFollowCommand(t *testing.T) {
	t.Parallel()

	exe := fakeExecutable(t, 0)

	mark, err := NewYTDLP(Options{Mode: ModeMarkWatched, CookiesFromBrowser: "chrome", Executable: exe}, nil)
	require.NoError(t, err)
	args := mark.Args()
	require.Contains(t, args, "--mark-watched")
	require.Contains(t, args, "--simulate")
	require.Contains(t, args, "--quiet")
	require.Equal(t, "worstaudio", flagValue(args, "--format"))
	require.Equal(t, "chrome", flagValue(args, "--cookies-from-browser"))
	require.NotContains(t, args, "--cookies")

	// A cookie file takes precedence over a browser.
	withFile, err := NewYTDLP(Options{Mode: ModeMarkWatched, CookieFile: "cookies.txt", Executable: exe}, nil)
	require.NoError(t, err)
	require.Equal(t, "cookies.txt", flagValue(withFile.Args(), "--cookies"))
	require.NotContains(t, withFile.Args(), "--cookies-from-browser")

	dl, err := NewYTDLP(Options{
		Mode:           ModeDownload,
		OutputDir:      "out",
		Format:         "best",
		OutputTemplate: "%(id)s.%(ext)s",
		Executable:     exe,
	}, nil)
	require.NoError(t, err)
	args = dl.Args()
	require.Equal(t, "best", flagValue(args, "--format"))
	require.Equal(t, "out", flagValue(args, "--paths"))
	require.Equal(t, "%(id)s.%(ext)s", flagValue(args, "--output"))
	require.Contains(t, args, "--no-playlist")
	require.NotContains(t, args, "--mark-watched")
}

func TestNewYTDLPDefaultsToMarkWatched(t *testing.T) {
	t.Parallel()

	exe := fakeExecutable(t, 0)
	op, err := NewYTDLP(Options{Executable: exe}, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, ModeMarkWatched, op.opts.Mode)
	require.Equal(t, exe, op.Executable())
	require.Contains(t, op.Args(), "--mark-watched")

	_, err = NewYTDLP(Options{Mode: ModeDownload, Executable: exe}, nil)
	require.ErrorContains(t, err, "output_dir")
}

func TestNewYTDLPRejectsMissingExecutable(t *testing.T) {
	t.Parallel()

	_, err := NewYTDLP(Options{
		Mode:       ModeMarkWatched,
		Executable: filepath.Join(t.TempDir(), "missing-yt-dlp"),
	}, nil)
	require.ErrorIs(t, err, ErrExecutableNotFound)

	notExecutable := filepath.Join(t.TempDir(), "yt-dlp")
	require.NoError(t, os.WriteFile(notExecutable, []byte("#!/bin/sh\n"), 0o600))
	_, err = NewYTDLP(Options{Executable: notExecutable}, nil)
	require.ErrorIs(t, err, ErrExecutableNotFound)
}

func TestYTDLPAttempt(t *testing.T) {
	t.Parallel()

	ok, err := NewYTDLP(Options{Executable: fakeExecutable(t, 0)}, nil)
	require.NoError(t, err)
	require.NoError(t, ok.Attempt(context.Background(), "https://www.youtube.com/watch?v=abc"))
	require.ErrorContains(t, ok.Attempt(context.Background(), " "), "video url is required")

	broken, err := NewYTDLP(Options{Executable: fakeExecutable(t, 1)}, nil)
	require.NoError(t, err)
	require.ErrorContains(t, broken.Attempt(context.Background(), "https://www.youtube.com/watch?v=abc"), "yt-dlp")
}

func TestFuncAdapter(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	var got string
	op := Func(func(_ context.Context, url string) error {
		got = url
		return boom
	})
	require.ErrorIs(t, op.Attempt(context.Background(), "u"), boom)
	require.Equal(t, "u", got)
}

// fakeExecutable writes a shell script standing in for yt-dlp that exits
// with code.
func fakeExecutable(t *testing.T, code int) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script executables need a unix shell")
	}
	path := filepath.Join(t.TempDir(), "yt-dlp")
	script := fmt.Sprintf("#!/bin/sh\nexit %d\n", code)
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755)) //nolint:gosec // test executable
	return path
}

func flagValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
