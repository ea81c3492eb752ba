package wrapper

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// ──────────────────────────────────────────────────────
// Source generation
// ──────────────────────────────────────────────────────

func TestWrapPython(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		wantCall string
	}{
		{"top-level function", "def add(a, b):\n    return a + b\n", "_gauntlet_result = add(*_gauntlet_args)"},
		{"last top-level function wins", "def helper(x):\n    return x\n\ndef solve(x):\n    return helper(x)\n", "= solve(*"},
		{"solution method", "class Solution:\n    def _cache(self):\n        pass\n    def twoSum(self, nums, target):\n        return []\n", "= Solution().twoSum(*"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := WrapPython(tt.code)
			if err != nil {
				t.Fatalf("wrap: %v", err)
			}
			if !strings.HasPrefix(out, strings.TrimRight(tt.code, "\n")) {
				t.Error("wrapped code should start with the original code")
			}
			if !strings.Contains(out, tt.wantCall) {
				t.Errorf("expected %q in:\n%s", tt.wantCall, out)
			}
		})
	}
}

func TestWrapPython_EntryPointUnchanged(t *testing.T) {
	for _, code := range []string{
		"import sys\nprint(sys.stdin.read())",
		"def main():\n    pass\n\nif __name__ == '__main__':\n    main()\n",
	} {
		out, err := WrapPython(code)
		if err != nil || out != code {
			t.Errorf("expected %q unchanged, got %q %v", code, out, err)
		}
	}
}

func TestWrapPython_NoFunction(t *testing.T) {
	if _, err := WrapPython("print('hi')"); !errors.Is(err, ErrNoEntryFunction) {
		t.Errorf("expected ErrNoEntryFunction, got %v", err)
	}
}

func TestWrapJavaScript(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"declaration", "function add(a, b) { return a + b; }", "add(...gauntletArgs)"},
		{"arrow binding", "const helper = (x) => x;\nconst solve = (a) => helper(a);", "solve(...gauntletArgs)"},
		{"function expression", "var twoSum = function(nums, target) {\n  return [];\n};", "twoSum(...gauntletArgs)"},
		{"async", "async function fetchIt(x) { return x; }", "fetchIt(...gauntletArgs)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := WrapJavaScript(tt.code)
			if err != nil {
				t.Fatalf("wrap: %v", err)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("expected %q in:\n%s", tt.want, out)
			}
		})
	}

	code := "const lines = require('fs').readFileSync(0, 'utf8');\nconsole.log(lines);"
	if out, _ := WrapJavaScript(code); out != code {
		t.Error("code reading stdin should be returned unchanged")
	}
	if _, err := WrapJavaScript("console.log(1)"); !errors.Is(err, ErrNoEntryFunction) {
		t.Errorf("expected ErrNoEntryFunction, got %v", err)
	}
}

const twoSumCpp = `class Solution {
public:
    vector<int> twoSum(vector<int>& nums, int target) {
        unordered_map<int, int> seen;
        for (int i = 0; i < (int)nums.size(); i++) {
            if (seen.count(target - nums[i])) {
                return {seen[target - nums[i]], i};
            }
            seen[nums[i]] = i;
        }
        return {};
    }
};`

func TestWrapCpp_SolutionMethod(t *testing.T) {
	out, err := WrapCpp(twoSumCpp)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	for _, want := range []string{
		"#include <bits/stdc++.h>",
		"std::vector<int> gauntlet_a0 = gauntlet::Conv<std::vector<int>>::from(gauntlet_args.items[0]);",
		"int gauntlet_a1 = gauntlet::Conv<int>::from(gauntlet_args.items[1]);",
		"Solution gauntlet_s;",
		"std::vector<int> gauntlet_r = gauntlet_s.twoSum(gauntlet_a0, gauntlet_a1);",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q", want)
		}
	}
}

func TestWrapCpp_FreeFunctions(t *testing.T) {
	code := "int helper(int x) { return x; }\n\nlong long total(const std::vector<long long> &xs, string label) {\n    return 0;\n}\n"
	out, err := WrapCpp(code)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if !strings.Contains(out, "long long gauntlet_r = total(gauntlet_a0, gauntlet_a1);") {
		t.Errorf("expected the last free function to be called:\n%s", out)
	}
	if !strings.Contains(out, "std::string gauntlet_a1") {
		t.Error("string parameters should be decoded as std::string")
	}
}

func TestWrapCpp_VoidPrintsFirstArgument(t *testing.T) {
	out, err := WrapCpp("void sortIt(vector<int>& v) {\n    sort(v.begin(), v.end());\n}\n")
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if !strings.Contains(out, "gauntlet::Conv<std::vector<int>>::to(std::cout, gauntlet_a0);") {
		t.Errorf("void functions should print their first argument:\n%s", out)
	}
}

func TestWrapCpp_Rejections(t *testing.T) {
	if out, err := WrapCpp("int main() { return 0; }"); err != nil || out != "int main() { return 0; }" {
		t.Error("code with main() should be returned unchanged")
	}
	if _, err := WrapCpp("ListNode* reverse(ListNode* head) {\n    return head;\n}\n"); err == nil {
		t.Error("expected an unsupported parameter type to fail")
	}
	if _, err := WrapCpp("// nothing here\n"); !errors.Is(err, ErrNoEntryFunction) {
		t.Errorf("expected ErrNoEntryFunction, got %v", err)
	}
}

func TestCanonicalCppType(t *testing.T) {
	tests := map[string]string{
		"int":                             "int",
		"const string&":                   "std::string",
		"std::vector<std::vector<int>> &": "std::vector<std::vector<int>>",
		"vector< vector<char> >":          "std::vector<std::vector<char>>",
		"long long":                       "long long",
	}
	for in, want := range tests {
		got, err := canonicalCppType(in)
		if err != nil || got != want {
			t.Errorf("canonicalCppType(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	for _, bad := range []string{"int*", "map<int,int>", "unsigned"} {
		if _, err := canonicalCppType(bad); err == nil {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

// ──────────────────────────────────────────────────────
// Execution, skipped when the toolchain is missing
// ──────────────────────────────────────────────────────

func runWrapped(t *testing.T, dir string, stdin string, name string, args ...string) string {
	t.Helper()
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader(stdin)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("%s failed: %v\n%s", name, err, out)
	}
	return strings.TrimSpace(string(out))
}

func TestWrapPython_Executes(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not found in PATH")
	}
	code, err := WrapPython("class Solution:\n    def twoSum(self, nums, target):\n        seen = {}\n        for i, n in enumerate(nums):\n            if target - n in seen:\n                return [seen[target - n], i]\n            seen[n] = i\n")
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "main.py")
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := runWrapped(t, dir, "[[3,2,4],6]", "python3", path); got != "[1,2]" {
		t.Errorf("got %q, want [1,2]", got)
	}
}

func TestWrapJavaScript_Executes(t *testing.T) {
	if _, err := exec.LookPath("node"); err != nil {
		t.Skip("node not found in PATH")
	}
	code, err := WrapJavaScript("function greet(name, times) {\n  return Array(times).fill('hi ' + name);\n}")
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "main.js")
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := runWrapped(t, dir, `["bob", 2]`, "node", path); got != `["hi bob","hi bob"]` {
		t.Errorf("got %q", got)
	}
}

func TestWrapCpp_TwoSumExecutes(t *testing.T) {
	if _, err := exec.LookPath("g++"); err != nil {
		t.Skip("g++ not found in PATH")
	}
	code, err := WrapCpp(twoSumCpp)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	dir := t.TempDir()
	src := filepath.Join(dir, "main.cpp")
	if err := os.WriteFile(src, []byte(code), 0o644); err != nil {
		t.Fatal(err)
	}
	runWrapped(t, dir, "", "g++", "-std=c++17", "-O2", "-o", "main", src)

	bin := filepath.Join(dir, "main")
	if got := runWrapped(t, dir, "[[2,7,11,15],9]", bin); got != "[0,1]" {
		t.Errorf("got %q, want [0,1]", got)
	}
	if got := runWrapped(t, dir, "[[3,2,4],6]", bin); got != "[1,2]" {
		t.Errorf("got %q, want [1,2]", got)
	}
}
