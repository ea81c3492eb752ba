package sandbox

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/shlex"
)

// Layout describes where things live from the point of view of the sandboxed process.
type Layout struct {
	Dir         string // writable scratch area
	Src         string // source file inside Dir
	Bin         string // compiled artifact inside Dir
	Input       string // stdin file inside Dir
	StagedCode  string // read-only location the code file is copied from
	StagedInput string // read-only location the input file is copied from, empty if none
}

// plan is a command variant expanded against a layout.
type plan struct {
	env     [][2]string
	compile [][]string
	run     []string
}

// Command is a tagged variant: Interpreted, Compiled or Custom.
type Command interface {
	expand(l Layout) (*plan, error)
	override(compile, run string) Command
}

// Interpreted runs the source file directly.
type Interpreted struct {
	Run string
}

// Compiled compiles the source file once, then runs the artifact.
type Compiled struct {
	Compile string
	Run     string
}

// Custom runs build steps under a fixed environment before running.
type Custom struct {
	Env   map[string]string
	Steps []string
	Run   string
}

func (c Interpreted) expand(l Layout) (*plan, error) {
	run, err := expandTemplate(c.Run, l)
	if err != nil {
		return nil, err
	}
	return &plan{run: run}, nil
}

func (c Interpreted) override(compile, run string) Command {
	if run != "" {
		c.Run = run
	}
	if compile != "" {
		return Compiled{Compile: compile, Run: c.Run}
	}
	return c
}

func (c Compiled) expand(l Layout) (*plan, error) {
	compile, err := expandTemplate(c.Compile, l)
	if err != nil {
		return nil, err
	}
	run, err := expandTemplate(c.Run, l)
	if err != nil {
		return nil, err
	}
	return &plan{compile: [][]string{compile}, run: run}, nil
}

func (c Compiled) override(compile, run string) Command {
	if compile != "" {
		c.Compile = compile
	}
	if run != "" {
		c.Run = run
	}
	return c
}

var envName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (c Custom) expand(l Layout) (*plan, error) {
	p := &plan{}
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		if !envName.MatchString(k) {
			return nil, fmt.Errorf("invalid environment variable name %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.env = append(p.env, [2]string{k, substitute(c.Env[k], l)})
	}
	for _, step := range c.Steps {
		argv, err := expandTemplate(step, l)
		if err != nil {
			return nil, err
		}
		p.compile = append(p.compile, argv)
	}
	run, err := expandTemplate(c.Run, l)
	if err != nil {
		return nil, err
	}
	p.run = run
	return p, nil
}

func (c Custom) override(compile, run string) Command {
	if compile != "" {
		c.Steps = []string{compile}
	}
	if run != "" {
		c.Run = run
	}
	return c
}

func substitute(s string, l Layout) string {
	return strings.NewReplacer("{src}", l.Src, "{bin}", l.Bin, "{dir}", l.Dir).Replace(s)
}

// expandTemplate splits a template into argv first and substitutes placeholders per field,
// so paths never get re-split.
func expandTemplate(tmpl string, l Layout) ([]string, error) {
	fields, err := shlex.Split(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse command template %q: %w", tmpl, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty command template")
	}
	for i, f := range fields {
		fields[i] = substitute(f, l)
	}
	return fields, nil
}

// Profile is everything the runner needs to know about one language.
type Profile struct {
	Name       string
	Extension  string
	SourceName string // fixed file name required by the toolchain, e.g. Main.java
	Timeout    time.Duration
	Command    Command
}

// FileName is the name the source file takes inside the scratch area.
func (p *Profile) FileName() string {
	if p.SourceName != "" {
		return p.SourceName
	}
	return "main" + p.Extension
}

// LayoutIn places the profile's files inside dir. Paths use forward slashes because
// dir is a path inside the sandbox, not necessarily on the host.
func (p *Profile) LayoutIn(dir string) Layout {
	return Layout{
		Dir:   dir,
		Src:   path.Join(dir, p.FileName()),
		Bin:   path.Join(dir, "main"),
		Input: path.Join(dir, "input.txt"),
	}
}

// Profiles maps canonical language names to profiles.
type Profiles map[string]*Profile

var aliases = map[string]string{
	"py":      "python",
	"python3": "python",
	"js":      "javascript",
	"node":    "javascript",
	"c++":     "cpp",
	"golang":  "go",
	"rb":      "ruby",
}

// DefaultProfiles returns the built-in language profiles.
func DefaultProfiles() Profiles {
	return Profiles{
		"python": {
			Name: "python", Extension: ".py", Timeout: 10 * time.Second,
			Command: Interpreted{Run: "python3 -u {src}"},
		},
		"javascript": {
			Name: "javascript", Extension: ".js", Timeout: 10 * time.Second,
			Command: Interpreted{Run: "node {src}"},
		},
		"ruby": {
			Name: "ruby", Extension: ".rb", Timeout: 10 * time.Second,
			Command: Interpreted{Run: "ruby {src}"},
		},
		"c": {
			Name: "c", Extension: ".c", Timeout: 15 * time.Second,
			Command: Compiled{Compile: "gcc -O2 -std=c11 -o {bin} {src} -lm", Run: "{bin}"},
		},
		"cpp": {
			Name: "cpp", Extension: ".cpp", Timeout: 15 * time.Second,
			Command: Compiled{Compile: "g++ -std=c++17 -O2 -o {bin} {src}", Run: "{bin}"},
		},
		"java": {
			Name: "java", Extension: ".java", SourceName: "Main.java", Timeout: 20 * time.Second,
			Command: Compiled{Compile: "javac -d {dir} {src}", Run: "java -cp {dir} Main"},
		},
		"go": {
			Name: "go", Extension: ".go", Timeout: 30 * time.Second,
			Command: Custom{
				Env: map[string]string{
					"GOCACHE":     "{dir}/.cache",
					"HOME":        "{dir}",
					"GO111MODULE": "off",
				},
				Steps: []string{"go build -o {bin} {src}"},
				Run:   "{bin}",
			},
		},
	}
}

// WithTemplates returns a copy with "<lang>.compile" / "<lang>.run" template overrides applied.
// Overrides for unknown languages are ignored.
func (ps Profiles) WithTemplates(templates map[string]string) Profiles {
	out := make(Profiles, len(ps))
	for name, p := range ps {
		cp := *p
		compile, run := templates[name+".compile"], templates[name+".run"]
		if compile != "" || run != "" {
			cp.Command = p.Command.override(compile, run)
		}
		out[name] = &cp
	}
	return out
}

// Lookup resolves a language name or alias, case-insensitively.
func (ps Profiles) Lookup(language string) (*Profile, bool) {
	name := strings.ToLower(strings.TrimSpace(language))
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	p, ok := ps[name]
	return p, ok
}

// Languages returns the supported language names, sorted.
func (ps Profiles) Languages() []string {
	names := make([]string, 0, len(ps))
	for name := range ps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
