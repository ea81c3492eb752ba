package wrapper

import (
	"errors"
	"regexp"
	"strings"
)

// ErrNoEntryFunction is returned when no callable function can be found in the code.
var ErrNoEntryFunction = errors.New("no function found to call")

var (
	pyEntryPoint   = regexp.MustCompile(`(?m)__name__\s*==\s*['"]__main__['"]|\bsys\.stdin\b`)
	pySolution     = regexp.MustCompile(`(?m)^class\s+Solution\b[^:]*:`)
	pyMethod       = regexp.MustCompile(`(?m)^[ \t]+def\s+([A-Za-z_]\w*)\s*\(\s*self\b`)
	pyTopLevelFunc = regexp.MustCompile(`(?m)^def\s+([A-Za-z_]\w*)\s*\(`)
)

const pyHarness = `

if __name__ == "__main__":
    import json as _gauntlet_json
    import sys as _gauntlet_sys

    _gauntlet_raw = _gauntlet_sys.stdin.read().strip()
    _gauntlet_args = _gauntlet_json.loads(_gauntlet_raw) if _gauntlet_raw else []
    if not isinstance(_gauntlet_args, list):
        _gauntlet_args = [_gauntlet_args]
    _gauntlet_result = %s(*_gauntlet_args)
    print(_gauntlet_json.dumps(_gauntlet_result, separators=(",", ":")))
`

// WrapPython appends a harness calling the first public Solution method or,
// without a Solution class, the last top-level function.
func WrapPython(code string) (string, error) {
	if pyEntryPoint.MatchString(code) {
		return code, nil
	}

	var call string
	if loc := pySolution.FindStringIndex(code); loc != nil {
		for _, m := range pyMethod.FindAllStringSubmatch(code[loc[1]:], -1) {
			if !strings.HasPrefix(m[1], "_") {
				call = "Solution()." + m[1]
				break
			}
		}
	}
	if call == "" {
		if funcs := pyTopLevelFunc.FindAllStringSubmatch(code, -1); len(funcs) > 0 {
			call = funcs[len(funcs)-1][1]
		}
	}
	if call == "" {
		return "", ErrNoEntryFunction
	}
	return strings.TrimRight(code, "\n") + strings.Replace(pyHarness, "%s", call, 1), nil
}
