package report

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// ColorMode selects when TextWriter emits ANSI colors.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

// ParseColorMode parses "auto", "always" or "never".
func ParseColorMode(s string) (ColorMode, error) {
	switch m := ColorMode(s); m {
	case ColorAuto, ColorAlways, ColorNever:
		return m, nil
	case "":
		return ColorAuto, nil
	}
	return "", fmt.Errorf("report: unknown color mode %q", s)
}

// Enabled resolves the mode for output going to f. Auto means colors only
// when f is a terminal.
func (m ColorMode) Enabled(f *os.File) bool {
	switch m {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}
	return f != nil && term.IsTerminal(int(f.Fd()))
}

type painter func(...any) string

func color(format string, on bool) painter {
	return func(args ...any) string {
		if on {
			return fmt.Sprintf(format, fmt.Sprint(args...))
		}
		return fmt.Sprint(args...)
	}
}

type palette struct {
	bold, faint, red, yellow, cyan painter
}

func newPalette(on bool) palette {
	return palette{
		bold:   color("\033[1m%s\033[0m", on),
		faint:  color("\033[2m%s\033[0m", on),
		red:    color("\033[1;31m%s\033[0m", on),
		yellow: color("\033[1;33m%s\033[0m", on),
		cyan:   color("\033[1;36m%s\033[0m", on),
	}
}
