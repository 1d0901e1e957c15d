package errors

import (
	"fmt"
	"strings"
)

// Render turns a WatchError into terminal-ready text: a title rule followed by
// the message and any rendered detail the compiler or a worker produced.
func Render(e *WatchError) string {
	var b strings.Builder

	title := strings.ToUpper(strings.ReplaceAll(string(e.Code), "_", " "))
	fmt.Fprintf(&b, "-- %s %s\n", title, strings.Repeat("-", max(0, 60-len(title))))
	b.WriteString(e.Message)
	b.WriteString("\n")

	if msg, ok := e.Detail("renderedMessage").(string); ok && msg != "" {
		b.WriteString("\n")
		b.WriteString(msg)
		b.WriteString("\n")
	}
	if thrown, ok := e.Detail("error").(string); ok && thrown != "" {
		b.WriteString("\n")
		b.WriteString(thrown)
		b.WriteString("\n")
	}
	if stderr, ok := e.Detail("stderr").(string); ok && stderr != "" {
		b.WriteString("\n")
		b.WriteString(stderr)
		b.WriteString("\n")
	}

	return b.String()
}

// Flatten expands an error into its individual rendered reports. Compile
// errors carry one rendering per problem; everything else renders as one.
func Flatten(e *WatchError) []string {
	if e.Code == ErrCodeElmMakeCompileErrors {
		if renderings, ok := e.Detail("renderings").([]string); ok {
			return renderings
		}
	}
	return []string{Render(e)}
}

// Dedup removes reports whose fully rendered text is identical, preserving
// first-seen order. The reported error count is the length of the result.
func Dedup(renderings []string) []string {
	seen := make(map[string]bool, len(renderings))
	out := make([]string, 0, len(renderings))
	for _, r := range renderings {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
