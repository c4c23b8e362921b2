package compiler

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
)

var (
	// "✘ [ERROR] Could not resolve "x"" (Windows consoles print "X")
	headerRe = regexp.MustCompile(`^\s*(?:✘|X|▲)\s+\[(ERROR|WARNING)\]\s+(.*?)\s*(?:\[[a-z-]+\])?$`)

	// "    src/file.ts:12:4:"
	locationRe = regexp.MustCompile(`^\s+(\S.*?):(\d+):(\d+):$`)
)

// ParseDiagnostics reads esbuild's plain-text log output
func ParseDiagnostics(log string) []Diagnostic {
	var (
		diags   []Diagnostic
		current *Diagnostic
	)

	flush := func() {
		if current != nil {
			diags = append(diags, *current)
			current = nil
		}
	}

	sc := bufio.NewScanner(strings.NewReader(log))
	for sc.Scan() {
		line := sc.Text()

		if m := headerRe.FindStringSubmatch(line); m != nil {
			flush()

			severity := SeverityError
			if m[1] == "WARNING" {
				severity = SeverityWarning
			}

			current = &Diagnostic{Severity: severity, Message: m[2]}
			continue
		}

		if current == nil || current.File != "" {
			continue
		}

		if m := locationRe.FindStringSubmatch(line); m != nil {
			current.File = m[1]
			current.Line, _ = strconv.Atoi(m[2])
			current.Column, _ = strconv.Atoi(m[3])
		}
	}

	flush()

	return diags
}
