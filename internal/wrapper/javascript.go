package wrapper

import (
	"regexp"
	"strings"
)

var (
	jsEntryPoint = regexp.MustCompile(`\bprocess\.stdin\b|require\(\s*['"](?:fs|readline)['"]\s*\)`)
	jsFunction   = regexp.MustCompile(`(?m)^(?:export\s+)?(?:async\s+)?function\s*\*?\s*([A-Za-z_$][\w$]*)\s*\(`)
	jsBinding    = regexp.MustCompile(`(?m)^(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=\s*(?:async\s+)?(?:function\b|\([^)]*\)\s*=>|[A-Za-z_$][\w$]*\s*=>)`)
)

const jsHarness = `

;(function () {
  const gauntletRaw = require('fs').readFileSync(0, 'utf8').trim();
  let gauntletArgs = gauntletRaw ? JSON.parse(gauntletRaw) : [];
  if (!Array.isArray(gauntletArgs)) gauntletArgs = [gauntletArgs];
  Promise.resolve(%s(...gauntletArgs)).then((result) => {
    console.log(JSON.stringify(result === undefined ? null : result));
  });
})();
`

// WrapJavaScript appends a harness calling the last declared or bound function.
func WrapJavaScript(code string) (string, error) {
	if jsEntryPoint.MatchString(code) {
		return code, nil
	}

	name, pos := "", -1
	for _, re := range []*regexp.Regexp{jsFunction, jsBinding} {
		for _, m := range re.FindAllStringSubmatchIndex(code, -1) {
			if m[0] > pos {
				name, pos = code[m[2]:m[3]], m[0]
			}
		}
	}
	if name == "" {
		return "", ErrNoEntryFunction
	}
	return strings.TrimRight(code, "\n") + strings.Replace(jsHarness, "%s", name, 1), nil
}
