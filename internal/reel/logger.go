package reel

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// InitLogger는 tint 핸들러로 기본 slog 로거를 설정합니다.
func InitLogger(config *Config) {
	slog.SetDefault(NewLogger(os.Stdout, config.GetSlogLevel()))
}

// NewLogger builds the colored text logger used by the server and tools
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := getProjectRoot(filename)

	// source 경로를 프로젝트 루트 기준 상대 경로로 줄인다
	replaceAttr := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key != slog.SourceKey {
			return a
		}
		source, ok := a.Value.Any().(*slog.Source)
		if !ok {
			return a
		}
		if projectRoot != "" && strings.HasPrefix(source.File, projectRoot+string(os.PathSeparator)) {
			source.File = source.File[len(projectRoot)+1:]
		}
		return slog.Any(a.Key, source)
	}

	handler := tint.NewHandler(w, &tint.Options{
		Level:       level,
		AddSource:   true,
		NoColor:     !isTerminal(w),
		TimeFormat:  time.RFC3339,
		ReplaceAttr: replaceAttr,
	})
	return slog.New(handler)
}

// getProjectRoot walks up from this file to the directory holding go.mod.
// Outside a source checkout it returns "".
func getProjectRoot(file string) string {
	dir := filepath.Dir(file)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
