package testutils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TestingT is the subset of testing.T used by the asserters
type TestingT interface {
	Errorf(format string, args ...interface{})
}

// TextAssertOptions controls how CLI output is normalized before comparison
type TextAssertOptions struct {
	TrimSpace          bool `default:"true"`
	TrimLineEnds       bool `default:"true"`
	SkipEmptyLines     bool `default:"false"`
	StripTerminalCodes bool `default:"true"`
	MaskClock          bool `default:"false"`
	ColorDiff          bool `default:"false"`
}

// TextOption configures a TextAsserter
type TextOption func(*TextAssertOptions)

// ClockMask replaces wall-clock stamps when MaskClock is set
const ClockMask = "<clock>"

var (
	// color escapes and the progress line's "\r\033[K"
	terminalCodes = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]|\r`)
	// RFC3339 stamps first so their time part is not matched on its own
	clockStamps = regexp.MustCompile(`\d{4}-\d\d-\d\dT\d\d:\d\d:\d\d(\.\d+)?(Z|[+-]\d\d:\d\d)|\b\d\d:\d\d:\d\d\b`)
)

// TextAsserter compares CLI output line by line and reports a unified diff
type TextAsserter struct {
	t    TestingT
	opts TextAssertOptions
}

func NewTextAsserter(t TestingT) *TextAsserter {
	ta := &TextAsserter{t: t}
	defaults.SetDefaults(&ta.opts)
	return ta
}

func (ta *TextAsserter) WithOptions(opts ...TextOption) *TextAsserter {
	for _, opt := range opts {
		opt(&ta.opts)
	}
	return ta
}

// Assert fails the test when normalized actual output differs from expected
func (ta *TextAsserter) Assert(actual, expected string) {
	want, got := ta.normalize(expected), ta.normalize(actual)
	if want == got {
		return
	}

	edits := myers.ComputeEdits("", want, got)
	diff := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", want, edits))
	if ta.opts.ColorDiff {
		diff = paintDiff(diff)
	}
	ta.t.Errorf("Text assertion failed:\n%s", diff)
}

func (ta *TextAsserter) normalize(text string) string {
	if ta.opts.StripTerminalCodes {
		text = terminalCodes.ReplaceAllString(text, "")
	}
	if ta.opts.MaskClock {
		text = clockStamps.ReplaceAllString(text, ClockMask)
	}
	if ta.opts.TrimSpace {
		text = strings.TrimSpace(text)
	}

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if ta.opts.TrimLineEnds {
			line = strings.TrimRight(line, " \t")
		}
		if ta.opts.SkipEmptyLines && line == "" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// paintDiff colors hunk headers and shows whitespace in changed lines
func paintDiff(diff string) string {
	header := color.New(color.FgCyan)
	removed := color.New(color.FgRed)
	added := color.New(color.FgGreen)
	for _, c := range []*color.Color{header, removed, added} {
		c.EnableColor()
	}
	ws := strings.NewReplacer(" ", "·", "\t", "→")

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "@@"):
			lines[i] = header.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = removed.Sprint(ws.Replace(line))
		case strings.HasPrefix(line, "+"):
			lines[i] = added.Sprint(ws.Replace(line))
		}
	}
	return strings.Join(lines, "\n")
}

func WithTrimSpace(trim bool) TextOption {
	return func(o *TextAssertOptions) { o.TrimSpace = trim }
}

func WithSkipEmptyLines(skip bool) TextOption {
	return func(o *TextAssertOptions) { o.SkipEmptyLines = skip }
}

// WithMaskClock replaces HH:MM:SS and RFC3339 stamps with ClockMask on both sides
func WithMaskClock(mask bool) TextOption {
	return func(o *TextAssertOptions) { o.MaskClock = mask }
}

func WithColorDiff(enable bool) TextOption {
	return func(o *TextAssertOptions) { o.ColorDiff = enable }
}
