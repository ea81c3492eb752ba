package orchestrator

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/Harsh-BH/gauntlet/internal/domain"
)

func TestNormalizeOutput(t *testing.T) {
	if !OutputsEqual(NormalizeOutput("[1,2]"), NormalizeOutput([]any{float64(1), float64(2)})) {
		t.Error("'[1,2]' and [1,2] should normalize to the same value")
	}
	if got := NormalizeOutput("  hello world \n"); got != "hello world" {
		t.Errorf("non-JSON strings should be trimmed, got %q", got)
	}
	if got := NormalizeOutput(" 42\n"); got != float64(42) {
		t.Errorf("numeric output should parse, got %#v", got)
	}
	if got := NormalizeOutput(true); got != true {
		t.Errorf("non-strings pass through, got %#v", got)
	}
	if !reflect.DeepEqual(NormalizeOutput([]int{1, 2}), NormalizeOutput("[1,2]")) {
		t.Error("typed slices should normalize like their JSON text")
	}
	if !reflect.DeepEqual(NormalizeOutput(map[string]int{"a": 1}), NormalizeOutput(`{"a":1}`)) {
		t.Error("typed maps should normalize like their JSON text")
	}
}

func TestOutputsEqual(t *testing.T) {
	tests := []struct {
		a, b any
		want bool
	}{
		{map[string]any{"a": 1.0, "b": 2.0}, map[string]any{"b": 2.0, "a": 1.0}, true},
		{[]any{1.0, 2.0}, []any{2.0, 1.0}, false},
		{"1", 1.0, false},
		{nil, nil, true},
		{[]any{}, "", false},
		{"abc", "abc", true},
		{[]int{1}, []int{1}, true},
		{[]int{1, 2}, []any{1.0, 2.0}, true},
		{[]string{"a"}, []int{1}, false},
		{3, 3.0, true},
		{func() {}, nil, false},
	}
	for _, tt := range tests {
		if got := OutputsEqual(tt.a, tt.b); got != tt.want {
			t.Errorf("OutputsEqual(%#v, %#v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestGrade_RequiresZeroExit(t *testing.T) {
	tc := domain.TestCase{Output: json.RawMessage(`[0,1]`)}
	st := &domain.JobStatus{Status: domain.StatusCompleted, Result: &domain.JobResult{Stdout: "[0,1]", ExitCode: 3}}

	if r := grade(0, tc, st, 10); r.Passed {
		t.Error("a non-zero exit must fail even with matching output")
	}
	st.Result.ExitCode = 0
	if r := grade(0, tc, st, 10); !r.Passed {
		t.Error("matching output with exit 0 should pass")
	}
}

func TestGrade_SyntheticFailures(t *testing.T) {
	tc := domain.TestCase{Output: json.RawMessage(`1`)}
	for _, st := range []*domain.JobStatus{
		nil,
		{Status: domain.StatusCancelled},
		{Status: domain.StatusNotFound},
		{Status: domain.StatusFailed, Error: "boom", Result: &domain.JobResult{ExitCode: -1, Stderr: "boom"}},
	} {
		r := grade(2, tc, st, 5)
		if r.Passed || r.Error == "" || r.TestIndex != 2 {
			t.Errorf("status %+v: expected a described failure, got %+v", st, r)
		}
	}
}

func TestCompiledHeuristic(t *testing.T) {
	tests := []struct {
		name    string
		results []domain.TestResult
		want    bool
	}{
		{"any stdout", []domain.TestResult{{Stderr: "error: x", ExitCode: 1}, {Stdout: "1"}}, true},
		{"gcc error", []domain.TestResult{{Stderr: "main.cpp:3:5: error: expected ';'", ExitCode: 1}}, false},
		{"linker error", []domain.TestResult{{Stderr: "undefined reference to `foo'", ExitCode: 1}}, false},
		{"javac", []domain.TestResult{{Stderr: "Main.java:1: error: cannot find symbol", ExitCode: 1}}, false},
		{"stderr only with nonzero exit", []domain.TestResult{{Stderr: "SyntaxError: invalid syntax", ExitCode: 1}}, false},
		{"silent success", []domain.TestResult{{ExitCode: 0}}, true},
		{"warning on clean exit", []domain.TestResult{{Stderr: "DeprecationWarning", ExitCode: 0}}, true},
		{"only first test inspected", []domain.TestResult{{ExitCode: 0}, {Stderr: "fatal error: x.h", ExitCode: 1}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := compiled(tt.results); got != tt.want {
				t.Errorf("compiled = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSummarize_Counts(t *testing.T) {
	results := []domain.TestResult{
		{TestIndex: 0, Passed: true, Stdout: "1"},
		{TestIndex: 1, Stdout: "2", Stderr: "trace", ExitCode: 1},
		{TestIndex: 2, Stdout: "x", Error: "explicit"},
	}
	report := summarize(results)

	s := report.Summary
	if s.Total != 3 || s.Passed != 1 || s.Failed != 2 || s.AllPassed {
		t.Errorf("unexpected summary: %+v", s)
	}
	if !report.IsCompiled || report.IsPassed {
		t.Errorf("expected compiled but not passed: %+v", report)
	}
	if report.Errors[0].Error != "trace" || report.Errors[1].Error != "explicit" {
		t.Errorf("unexpected error messages: %+v", report.Errors)
	}

	// A compile failure overrides individually passing tests.
	report = summarize([]domain.TestResult{{Passed: true, Stderr: "fatal error: bits/stdc++.h", ExitCode: 0}})
	if report.IsCompiled || report.IsPassed || !report.Summary.AllPassed {
		t.Errorf("compile failure must force isPassed=false: %+v", report)
	}
}
