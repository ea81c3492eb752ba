package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/Harsh-BH/gauntlet/internal/domain"
	"github.com/Harsh-BH/gauntlet/internal/sandbox"
)

// compilerMarkers are stderr fragments typical of a failed build.
var compilerMarkers = []string{
	"error:",
	"undefined reference",
	"cannot find",
	"no such file",
	"compilation terminated",
	"fatal error",
}

// serializeInput passes a JSON string through as its raw text and compacts any other value.
func serializeInput(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// NormalizeOutput parses strings as JSON when possible and otherwise returns
// them trimmed. Other values are brought to their JSON-decoded form, so
// []int{1, 2} and "[1,2]" normalize alike.
func NormalizeOutput(v any) any {
	s, ok := v.(string)
	if !ok {
		out, _ := canonical(v)
		return out
	}
	s = strings.TrimSpace(s)
	var parsed any
	if err := json.Unmarshal([]byte(s), &parsed); err == nil {
		return parsed
	}
	return s
}

func normalizeRaw(raw json.RawMessage) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return NormalizeOutput(string(raw))
	}
	return NormalizeOutput(v)
}

// canonical re-decodes v through JSON unless it already holds decoded JSON.
// It reports false when v cannot be represented as JSON.
func canonical(v any) (any, bool) {
	switch v.(type) {
	case nil, bool, float64, string, map[string]any, []any:
		return v, true
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v, false
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v, false
	}
	return out, true
}

// OutputsEqual compares objects and arrays by their serialized form and everything else exactly.
func OutputsEqual(a, b any) bool {
	ca, okA := canonical(a)
	cb, okB := canonical(b)
	if !okA || !okB {
		return reflect.DeepEqual(a, b)
	}
	if structured(ca) || structured(cb) {
		ja, errA := json.Marshal(ca)
		jb, errB := json.Marshal(cb)
		return errA == nil && errB == nil && bytes.Equal(ja, jb)
	}
	return ca == cb
}

func structured(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

// grade turns the terminal status of one test's job into its verdict. A nil
// status means the poll budget ran out.
func grade(index int, tc domain.TestCase, status *domain.JobStatus, attempts int) domain.TestResult {
	r := domain.TestResult{
		TestIndex:      index,
		ExpectedOutput: normalizeRaw(tc.Output),
	}

	switch {
	case status == nil:
		r.ExitCode = sandbox.ExitTimeout
		r.Stderr = fmt.Sprintf("Execution timeout: no result after %d status checks", attempts)
		r.Error = r.Stderr
		return r
	case status.Status == domain.StatusCompleted && status.Result != nil:
	case status.Status == domain.StatusCancelled:
		r.ExitCode = sandbox.ExitSpawnFailure
		r.Error = "job was cancelled"
		return r
	case status.Status == domain.StatusNotFound:
		r.ExitCode = sandbox.ExitSpawnFailure
		r.Error = "job not found; it may have been purged"
		return r
	default:
		r.ExitCode = sandbox.ExitSpawnFailure
		r.Error = status.Error
		if res := status.Result; res != nil {
			r.ExitCode, r.Stdout, r.Stderr, r.ExecutionTimeMs = res.ExitCode, res.Stdout, res.Stderr, res.ExecutionTimeMs
		}
		if r.Error == "" {
			r.Error = "job failed"
		}
		return r
	}

	res := status.Result
	r.Stdout, r.Stderr, r.ExitCode = res.Stdout, res.Stderr, res.ExitCode
	r.ExecutionTimeMs = res.ExecutionTimeMs
	r.Error = res.Error
	r.ActualOutput = NormalizeOutput(res.Stdout)
	r.Passed = res.ExitCode == 0 && OutputsEqual(r.ActualOutput, r.ExpectedOutput)
	return r
}

// compiled reports whether the code built. Any stdout proves it did, since every
// test runs the same program; otherwise the first test's stderr decides.
// A correct program that prints nothing is misread as a build failure.
func compiled(results []domain.TestResult) bool {
	if len(results) == 0 {
		return true
	}
	for _, r := range results {
		if strings.TrimSpace(r.Stdout) != "" {
			return true
		}
	}
	first := results[0]
	for _, marker := range compilerMarkers {
		if strings.Contains(first.Stderr, marker) {
			return false
		}
	}
	return !(first.ExitCode != 0 && strings.TrimSpace(first.Stderr) != "")
}

func summarize(results []domain.TestResult) *domain.TestReport {
	report := &domain.TestReport{
		TestResults: results,
		Errors:      []domain.TestError{},
		Summary:     domain.Summary{Total: len(results)},
	}
	for _, r := range results {
		if r.Passed {
			report.Summary.Passed++
			continue
		}
		report.Summary.Failed++
		report.Errors = append(report.Errors, domain.TestError{
			TestIndex: r.TestIndex,
			Error:     failureMessage(r),
			ExitCode:  r.ExitCode,
		})
	}
	report.Summary.AllPassed = report.Summary.Failed == 0
	report.IsCompiled = compiled(results)
	report.IsPassed = report.Summary.AllPassed && report.IsCompiled
	return report
}

func failureMessage(r domain.TestResult) string {
	switch {
	case r.Error != "":
		return r.Error
	case strings.TrimSpace(r.Stderr) != "":
		return r.Stderr
	case r.ExitCode != 0:
		return fmt.Sprintf("process exited with code %d", r.ExitCode)
	}
	return "output did not match the expected output"
}
