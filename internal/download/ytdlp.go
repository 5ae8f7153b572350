package download

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"

	"github.com/lrstanley/go-ytdlp"
	"go.uber.org/zap"

	"github.com/JakeFAU/yt-history-sync/internal/history"
)

// Mode selects what the operation does with each URL.
type Mode string

// Supported modes.
const (
	ModeMarkWatched Mode = "mark_watched"
	ModeDownload    Mode = "download"
)

// Browsers yt-dlp can read cookies from.
var Browsers = []string{
	"brave",
	"chrome",
	"chromium",
	"edge",
	"firefox",
	"opera",
	"safari",
	"vivaldi",
}

const (
	defaultMarkFormat     = "worstaudio"
	defaultDownloadFormat = "bestvideo*+bestaudio/best"
	defaultOutputTemplate = "%(uploader)s/%(upload_date)s_%(title).200B_[%(id)s].%(ext)s"
)

// Options configures the yt-dlp invocation.
type Options struct {
	Mode Mode `mapstructure:"mode"`
	// Format overrides the yt-dlp format selector for the mode.
	Format string `mapstructure:"format"`
	// CookiesFromBrowser and CookieFile are mutually exclusive.
	CookiesFromBrowser string `mapstructure:"cookies_from_browser"`
	CookieFile         string `mapstructure:"cookie_file"`
	OutputDir          string `mapstructure:"output_dir"`
	OutputTemplate     string `mapstructure:"output_template"`
	// Executable is the yt-dlp binary; empty resolves it from PATH.
	Executable string `mapstructure:"executable"`
}

// Validate checks the options before any dispatch.
func (o Options) Validate() error {
	switch o.Mode {
	case ModeMarkWatched:
	case ModeDownload:
		if strings.TrimSpace(o.OutputDir) == "" {
			return fmt.Errorf("download.output_dir is required in %s mode", ModeDownload)
		}
	default:
		return fmt.Errorf("unknown download mode %q (expected %s or %s)", o.Mode, ModeMarkWatched, ModeDownload)
	}
	if o.CookiesFromBrowser != "" && o.CookieFile != "" {
		return fmt.Errorf("cookies_from_browser and cookie_file are mutually exclusive")
	}
	if o.CookiesFromBrowser != "" && !slices.Contains(Browsers, o.CookiesFromBrowser) {
		return fmt.Errorf("unsupported browser %q (expected one of %s)",
			o.CookiesFromBrowser, strings.Join(Browsers, ", "))
	}
	return nil
}

func (o Options) format() string {
	if o.Format != "" {
		return o.Format
	}
	if o.Mode == ModeDownload {
		return defaultDownloadFormat
	}
	return defaultMarkFormat
}

func (o Options) outputTemplate() string {
	if o.OutputTemplate != "" {
		return o.OutputTemplate
	}
	return defaultOutputTemplate
}

// DefaultExecutable is looked up on PATH when Options.Executable is empty.
const DefaultExecutable = "yt-dlp"

// ErrExecutableNotFound reports that the yt-dlp binary could not be resolved.
var ErrExecutableNotFound = errors.New("yt-dlp executable not found")

// YTDLP runs yt-dlp once per attempt.
type YTDLP struct {
	opts       Options
	executable string
	logger     *zap.Logger
}

var _ history.Operation = (*YTDLP)(nil)

// NewYTDLP validates opts and returns the operation.
func NewYTDLP(opts Options, logger *zap.Logger) (*YTDLP, error) {
	if opts.Mode == "" {
		opts.Mode = ModeMarkWatched
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	executable, err := resolveExecutable(opts.Executable)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	y := &YTDLP{opts: opts, executable: executable, logger: logger}
	logger.Info("yt-dlp operation configured",
		zap.String("executable", executable),
		zap.Strings("args", y.Args()),
	)
	return y, nil
}

// resolveExecutable looks name up on PATH, or checks it directly when it
// contains a separator.
func resolveExecutable(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultExecutable
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrExecutableNotFound, name, err)
	}
	return path, nil
}

// Executable returns the resolved yt-dlp path.
func (y *YTDLP) Executable() string {
	return y.executable
}

// Args lists the flags passed to yt-dlp before the URL.
func (y *YTDLP) Args() []string {
	var args []string
	for _, f := range y.command().GetFlagConfig().ToFlags() {
		args = append(args, f.Raw()...)
	}
	return args
}

// Attempt invokes yt-dlp for url. Any failure is returned as-is.
func (y *YTDLP) Attempt(ctx context.Context, url string) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("video url is required")
	}
	if _, err := y.command().Run(ctx, url); err != nil {
		return fmt.Errorf("yt-dlp %s: %w", url, err)
	}
	return nil
}

func (y *YTDLP) command() *ytdlp.Command {
	cmd := ytdlp.New().
		SetExecutable(y.executable).
		Format(y.opts.format())
	switch y.opts.Mode {
	case ModeDownload:
		cmd = cmd.
			Paths(y.opts.OutputDir).
			Output(y.opts.outputTemplate()).
			NoPlaylist()
	default:
		cmd = cmd.
			MarkWatched().
			Simulate().
			Quiet()
	}
	switch {
	case y.opts.CookieFile != "":
		cmd = cmd.Cookies(y.opts.CookieFile)
	case y.opts.CookiesFromBrowser != "":
		cmd = cmd.CookiesFromBrowser(y.opts.CookiesFromBrowser)
	}
	return cmd
}

// Func adapts a plain function to history.Operation.
type Func func(ctx context.Context, url string) error

// Attempt calls f.
func (f Func) Attempt(ctx context.Context, url string) error {
	return f(ctx, url)
}
