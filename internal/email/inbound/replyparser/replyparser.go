// Package replyparser splits a plain-text email reply into fragments and
// keeps only the text the sender actually wrote: quoted history, quote
// headers ("On ... wrote:") and signature blocks are dropped.
package replyparser

import (
	"regexp"
	"strings"
)

var (
	quoteLinePattern   = regexp.MustCompile(`^>+`)
	quoteHeaderPattern = regexp.MustCompile(`^On\s.+wrote:\s*$`)
	signaturePattern   = regexp.MustCompile(`^(--|__|-\w)|^Sent from my (\w+\s*){1,3}$`)
	forwardPattern     = regexp.MustCompile(`^-{2,}\s*(Original Message|Forwarded message)\s*-{2,}$`)
)

// Fragment is a contiguous block of lines sharing the same quoting state.
type Fragment struct {
	Content   string
	Quoted    bool
	Signature bool
	Hidden    bool

	lines []string
}

// Email is the parsed form of a reply body.
type Email struct {
	Fragments []*Fragment
}

type parser struct {
	fragments    []*Fragment
	current      *Fragment
	foundVisible bool
}

// Parse splits text into fragments, top to bottom.
func Parse(text string) *Email {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := joinQuoteHeaders(strings.Split(text, "\n"))

	p := &parser{}
	// Walk bottom-up: everything below the first visible block is trailing
	// quote/signature noise and gets hidden.
	for i := len(lines) - 1; i >= 0; i-- {
		p.scanLine(lines[i])
	}
	p.finishFragment()

	out := make([]*Fragment, len(p.fragments))
	for i, f := range p.fragments {
		out[len(p.fragments)-1-i] = f
	}
	return &Email{Fragments: out}
}

// VisibleText returns the text written by the sender.
func (e *Email) VisibleText() string {
	if e == nil {
		return ""
	}
	var parts []string
	for _, f := range e.Fragments {
		if f.Hidden || f.Quoted || f.Signature {
			continue
		}
		parts = append(parts, f.Content)
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// VisibleText is shorthand for Parse(text).VisibleText().
func VisibleText(text string) string {
	return Parse(text).VisibleText()
}

func (p *parser) scanLine(line string) {
	line = strings.TrimRight(line, "\n")
	if !signaturePattern.MatchString(strings.TrimLeft(line, " \t")) {
		line = strings.TrimLeft(line, " \t")
	}

	isQuoted := quoteLinePattern.MatchString(line)
	isQuoteHeader := quoteHeaderPattern.MatchString(line) || forwardPattern.MatchString(strings.TrimSpace(line))

	// A blank line above a block that starts with a signature marker closes
	// that block as a signature.
	if p.current != nil && strings.TrimSpace(line) == "" {
		if top := p.current.topLine(); signaturePattern.MatchString(top) {
			p.current.Signature = true
			p.finishFragment()
		}
	}

	// Everything below a quote header is history, even when the client did
	// not prefix it with ">" (Outlook "-----Original Message-----").
	if isQuoteHeader {
		if p.current == nil {
			p.current = &Fragment{}
		}
		p.current.Quoted = true
		p.current.lines = append(p.current.lines, line)
		return
	}

	if p.current != nil && (p.current.Quoted == isQuoted || (p.current.Quoted && strings.TrimSpace(line) == "")) {
		p.current.lines = append(p.current.lines, line)
		return
	}

	p.finishFragment()
	p.current = &Fragment{Quoted: isQuoted, lines: []string{line}}
}

func (p *parser) finishFragment() {
	f := p.current
	if f == nil {
		return
	}
	p.current = nil

	// lines were collected bottom-up
	for i, j := 0, len(f.lines)-1; i < j; i, j = i+1, j-1 {
		f.lines[i], f.lines[j] = f.lines[j], f.lines[i]
	}
	f.Content = strings.Trim(strings.Join(f.lines, "\n"), "\n")
	f.lines = nil

	if !p.foundVisible {
		if f.Quoted || f.Signature || strings.TrimSpace(f.Content) == "" {
			f.Hidden = true
		} else {
			p.foundVisible = true
		}
	}
	p.fragments = append(p.fragments, f)
}

func (f *Fragment) topLine() string {
	if len(f.lines) == 0 {
		return ""
	}
	return f.lines[len(f.lines)-1]
}

// joinQuoteHeaders collapses "On <date>, <name>\n<addr> wrote:" headers that
// mail clients wrap over several lines into a single line.
func joinQuoteHeaders(lines []string) []string {
	out := make([]string, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "On ") && !strings.HasSuffix(trimmed, "wrote:") {
			joined := trimmed
			matched := false
			for j := i + 1; j < len(lines) && j <= i+2; j++ {
				next := strings.TrimSpace(lines[j])
				if next == "" {
					break
				}
				joined += " " + next
				if strings.HasSuffix(next, "wrote:") {
					out = append(out, joined)
					i = j
					matched = true
					break
				}
			}
			if matched {
				continue
			}
		}
		out = append(out, line)
	}
	return out
}
