package guardrails

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s\-().]{7,}\d`)
	dniPattern   = regexp.MustCompile(`\b\d{8}[A-Za-z]\b`) // Spanish DNI-shaped token
)

// checkAndRedactPII flags and redacts email/phone/DNI patterns in reply
// that were not present verbatim in the user's own input — a user who
// shares their own email back isn't a leak.
func checkAndRedactPII(reply, userText string) (CheckResult, string) {
	matches := collectPIIMatches(reply)
	var leaked []string
	redacted := reply
	for _, m := range matches {
		if !strings.Contains(userText, m) {
			leaked = append(leaked, m)
			redacted = strings.ReplaceAll(redacted, m, "[redacted]")
		}
	}
	if len(leaked) == 0 {
		return CheckResult{Name: "no_pii", Passed: true, Value: 1}, reply
	}
	return CheckResult{
		Name:    "no_pii",
		Passed:  false,
		Details: "redacted " + strconv.Itoa(len(leaked)) + " pii match(es)",
	}, redacted
}

func collectPIIMatches(s string) []string {
	var out []string
	out = append(out, emailPattern.FindAllString(s, -1)...)
	out = append(out, phonePattern.FindAllString(s, -1)...)
	out = append(out, dniPattern.FindAllString(s, -1)...)
	return out
}
