// Package terminal renders runs and reports for people at a terminal.
package terminal

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/Harsh-BH/gauntlet/internal/domain"
	"github.com/Harsh-BH/gauntlet/internal/sandbox"
)

// Printer writes human-readable output.
type Printer struct {
	w                     io.Writer
	pass, fail, dim, bold *color.Color
}

// NewPrinter creates a Printer. Colours are off when plain is set.
func NewPrinter(w io.Writer, plain bool) *Printer {
	p := &Printer{
		w:    w,
		pass: color.New(color.FgGreen, color.Bold),
		fail: color.New(color.FgRed, color.Bold),
		dim:  color.New(color.Faint),
		bold: color.New(color.Bold),
	}
	if plain {
		for _, c := range []*color.Color{p.pass, p.fail, p.dim, p.bold} {
			c.DisableColor()
		}
	}
	return p
}

// Result prints a single sandbox run.
func (p *Printer) Result(res *sandbox.Result) {
	status := p.pass.Sprint("OK")
	switch {
	case res.TimedOut:
		status = p.fail.Sprint("TIMEOUT")
	case res.ExitCode != 0:
		status = p.fail.Sprint("EXIT ", res.ExitCode)
	}
	fmt.Fprintf(p.w, "%s %s\n", status, p.dim.Sprintf("(%s)", res.Duration.Round(time.Millisecond)))
	p.section("stdout", res.Stdout)
	p.section("stderr", res.Stderr)
}

// Report prints a graded test run.
func (p *Printer) Report(r *domain.TestReport) {
	if !r.IsCompiled {
		fmt.Fprintln(p.w, p.fail.Sprint("== Compilation failed =="))
	}
	for _, t := range r.TestResults {
		verdict := p.pass.Sprint("PASS")
		if !t.Passed {
			verdict = p.fail.Sprint("FAIL")
		}
		fmt.Fprintf(p.w, "%s test %d %s\n", verdict, t.TestIndex, p.dim.Sprintf("exit=%d %dms", t.ExitCode, t.ExecutionTimeMs))
		if t.Passed {
			continue
		}
		fmt.Fprintf(p.w, "  expected: %s\n", render(t.ExpectedOutput))
		fmt.Fprintf(p.w, "  actual:   %s\n", render(t.ActualOutput))
		if t.Error != "" {
			fmt.Fprintf(p.w, "  error:    %s\n", firstLine(t.Error))
		} else if s := strings.TrimSpace(t.Stderr); s != "" {
			fmt.Fprintf(p.w, "  stderr:   %s\n", firstLine(s))
		}
	}

	s := r.Summary
	line := fmt.Sprintf("%d/%d passed", s.Passed, s.Total)
	if r.IsPassed {
		fmt.Fprintln(p.w, p.pass.Sprint(line))
	} else {
		fmt.Fprintln(p.w, p.fail.Sprint(line))
	}
}

// Languages prints one language per line, marking those with a wrapper.
func (p *Printer) Languages(names []string, wrapped func(string) bool) {
	for _, name := range names {
		if wrapped != nil && wrapped(name) {
			fmt.Fprintf(p.w, "%s %s\n", p.bold.Sprint(name), p.dim.Sprint("(function wrapper)"))
			continue
		}
		fmt.Fprintln(p.w, p.bold.Sprint(name))
	}
}

func (p *Printer) section(name, body string) {
	if body == "" {
		return
	}
	fmt.Fprintln(p.w, p.dim.Sprintf("-- %s --", name))
	fmt.Fprint(p.w, body)
	if !strings.HasSuffix(body, "\n") {
		fmt.Fprintln(p.w)
	}
}

func render(v any) string {
	if v == nil {
		return "null"
	}
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprint(v)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
