package cli

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	errorTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
	dimStyle        = lipgloss.NewStyle().Faint(true)
	successStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
)

// Terminal is the user-facing logger. It owns stderr: lines, the status grid,
// and screen clearing all go through it. Two regimes exist: fancy (ANSI colors,
// emoji, cursor-relative redraws) and plain (append-only lines). Fancy is
// enabled when stderr is a TTY, NO_COLOR is unset, and the platform is not
// Windows.
type Terminal struct {
	mu         sync.Mutex
	raw        io.Writer
	out        *termenv.Output
	fd         uintptr
	isTTY      bool
	fancy      bool
	gridHeight int
}

// NewTerminal creates a Terminal writing to the given file (normally os.Stderr).
func NewTerminal(f *os.File) *Terminal {
	tty := isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	fancy := tty && os.Getenv("NO_COLOR") == "" && runtime.GOOS != "windows"

	profile := termenv.Ascii
	if fancy {
		profile = termenv.ANSI256
	}

	return &Terminal{
		raw:   f,
		out:   termenv.NewOutput(f, termenv.WithProfile(profile)),
		fd:    f.Fd(),
		isTTY: tty,
		fancy: fancy,
	}
}

// NewTerminalWriter creates a plain-regime Terminal over any writer. Used by
// tests and by callers that captured output.
func NewTerminalWriter(w io.Writer) *Terminal {
	return &Terminal{
		raw: w,
		out: termenv.NewOutput(w, termenv.WithProfile(termenv.Ascii)),
	}
}

// IsTTY reports whether the output is an interactive terminal.
func (t *Terminal) IsTTY() bool { return t.isTTY }

// Fancy reports whether the fancy rendering regime is active.
func (t *Terminal) Fancy() bool { return t.fancy }

// Width returns the terminal width, or 80 when it cannot be determined.
func (t *Terminal) Width() int {
	if t.isTTY {
		if w, _, err := term.GetSize(int(t.fd)); err == nil && w > 0 {
			return w
		}
	}
	return 80
}

// WriteLine writes one line below the status grid. Any currently drawn grid is
// erased first and must be redrawn by the caller.
func (t *Terminal) WriteLine(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.eraseGridLocked()
	fmt.Fprintln(t.raw, line)
}

// ClearScreen clears the whole screen and homes the cursor (fancy only; in the
// plain regime it prints a separator instead).
func (t *Terminal) ClearScreen() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gridHeight = 0
	if t.fancy {
		t.out.ClearScreen()
		return
	}
	fmt.Fprintln(t.raw)
}

// DrawStatusGrid redraws the fixed status grid using cursor-relative moves.
// The grid is always drawn with the same number of lines between redraws; the
// line count only changes when the previous grid has been erased.
func (t *Terminal) DrawStatusGrid(lines []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.fancy {
		for _, line := range lines {
			fmt.Fprintln(t.raw, line)
		}
		return
	}

	t.eraseGridLocked()
	width := t.widthLocked()
	for _, line := range lines {
		t.out.ClearLine()
		fmt.Fprintln(t.raw, truncateTo(line, width))
	}
	t.gridHeight = len(lines)
}

// EraseStatusGrid removes the currently drawn grid, if any.
func (t *Terminal) EraseStatusGrid() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.eraseGridLocked()
}

func (t *Terminal) eraseGridLocked() {
	if !t.fancy || t.gridHeight == 0 {
		return
	}
	t.out.CursorUp(t.gridHeight)
	for i := 0; i < t.gridHeight; i++ {
		t.out.ClearLine()
		t.out.CursorDown(1)
	}
	t.out.CursorUp(t.gridHeight)
	t.gridHeight = 0
}

func (t *Terminal) widthLocked() int {
	if t.isTTY {
		if w, _, err := term.GetSize(int(t.fd)); err == nil && w > 0 {
			return w
		}
	}
	return 80
}

// ErrorTitle styles an error report heading.
func (t *Terminal) ErrorTitle(s string) string {
	if t.fancy {
		return errorTitleStyle.Render(s)
	}
	return s
}

// Success styles a success line.
func (t *Terminal) Success(s string) string {
	if t.fancy {
		return successStyle.Render(s)
	}
	return s
}

// Dim styles a timeline / not-interesting line.
func (t *Terminal) Dim(s string) string {
	if t.fancy {
		return dimStyle.Render(s)
	}
	return s
}

// Emoji returns the emoji in the fancy regime and the fallback otherwise.
func (t *Terminal) Emoji(emoji, fallback string) string {
	if t.fancy {
		return emoji
	}
	return fallback
}

// truncateTo cuts on rune boundaries; target names are user-controlled and
// may be multi-byte.
func truncateTo(s string, width int) string {
	if width <= 0 || utf8.RuneCountInString(s) <= width {
		return s
	}
	return string([]rune(s)[:width])
}
