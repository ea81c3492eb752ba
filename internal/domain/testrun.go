package domain

import "encoding/json"

// TestCase is an (input, expected output) pair. Both sides are arbitrary JSON values.
type TestCase struct {
	Input  json.RawMessage `json:"input"`
	Output json.RawMessage `json:"output"`
}

// TestRequest is what callers hand to the orchestrator.
type TestRequest struct {
	Code         string     `json:"code" binding:"required"`
	Language     string     `json:"language" binding:"required"`
	TestCases    []TestCase `json:"testCases"`
	UserID       string     `json:"userId,omitempty"`
	SubmissionID string     `json:"submissionId,omitempty"`
	MatchID      string     `json:"matchId,omitempty"`
}

// TestResult is produced once per test case and never mutated afterwards.
type TestResult struct {
	TestIndex       int    `json:"testIndex"`
	Passed          bool   `json:"passed"`
	ExitCode        int    `json:"exitCode"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	ExpectedOutput  any    `json:"expectedOutput"`
	ActualOutput    any    `json:"actualOutput"`
	ExecutionTimeMs int64  `json:"executionTime,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Summary aggregates the verdicts of one run.
type Summary struct {
	Total     int  `json:"total"`
	Passed    int  `json:"passed"`
	Failed    int  `json:"failed"`
	AllPassed bool `json:"allPassed"`
}

// TestError is a best-effort message for one failing test.
type TestError struct {
	TestIndex int    `json:"testIndex"`
	Error     string `json:"error"`
	ExitCode  int    `json:"exitCode"`
}

// TestReport is the orchestrator's answer.
type TestReport struct {
	TestResults []TestResult `json:"testResults"`
	Summary     Summary      `json:"summary"`
	IsCompiled  bool         `json:"isCompiled"`
	IsPassed    bool         `json:"isPassed"`
	Errors      []TestError  `json:"errors"`
}
