package sandbox

import "strings"

// shellQuote single-quotes s for POSIX sh.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func quoteArgv(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

// buildScript renders the in-sandbox script: stage files into the scratch area,
// run any compile steps, then exec the program with stdin from the input file.
// Every interpolated value is quoted; nothing from the submission reaches the shell.
func buildScript(l Layout, p *plan) string {
	steps := []string{
		"cp " + shellQuote(l.StagedCode) + " " + shellQuote(l.Src),
	}
	stdin := "/dev/null"
	if l.StagedInput != "" {
		steps = append(steps, "cp "+shellQuote(l.StagedInput)+" "+shellQuote(l.Input))
		stdin = l.Input
	}
	steps = append(steps, "cd "+shellQuote(l.Dir))
	for _, kv := range p.env {
		steps = append(steps, "export "+kv[0]+"="+shellQuote(kv[1]))
	}
	for _, argv := range p.compile {
		steps = append(steps, quoteArgv(argv))
	}
	steps = append(steps, "exec "+quoteArgv(p.run)+" < "+shellQuote(stdin))
	return strings.Join(steps, " && ")
}
