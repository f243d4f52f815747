package main

import (
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
)

// renderer shows a growing answer. Each increment carries the whole answer
// so far, so it replaces what is on screen; when the new text extends the
// old one only the new suffix is written. Answer text is left unstyled
// since lipgloss pads multi-line blocks.
type renderer struct {
	w     io.Writer
	shown string
}

func (r *renderer) Update(text string) {
	if strings.HasPrefix(text, r.shown) {
		fmt.Fprint(r.w, text[len(r.shown):])
	} else {
		fmt.Fprint(r.w, "\n"+text)
	}
	r.shown = text
}

func (r *renderer) Finish() {
	if r.shown != "" {
		fmt.Fprintln(r.w)
	}
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// plainText turns a display-ready error message into terminal text.
func plainText(markup string) string {
	return strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(markup, "")))
}
