package security

import (
	"strings"
)

// defaultDenyPatterns is the concrete hard-denylist content: fork bombs,
// reverse shells, LD_PRELOAD injection, container-escape paths, crypto
// miners, filter-bypass techniques.
var defaultDenyPatterns = []string{
	"rm", "sudo", "chmod", "chown", "dd", "mkfs", "kill -9",
	":(){:|:&};:", "/dev/tcp/", "nc -e", "ncat -e", "bash -i",
	"LD_PRELOAD=", "/proc/self/exe", "docker.sock", "nsenter",
	"xmrig", "minerd", "base64 -d", "eval $(",
}

var shellMetacharacters = []string{"|", "&&", "$(", "`", ">"}

// EvaluateShellCommand is the pure sub-policy for the generic run_command
// tool. Same input always yields the same decision (testable property 9):
// hard denylist match on the first token ⇒ DENY; any shell metacharacter
// ⇒ FLAG (ASK); otherwise ALLOW unless the allowlist is non-empty and the
// first token isn't on it, in which case FLAG.
func EvaluateShellCommand(command string, allowlist []string) Action {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return ActionDeny
	}

	fields := strings.Fields(trimmed)
	firstToken := fields[0]

	for _, deny := range defaultDenyPatterns {
		if strings.Contains(trimmed, deny) {
			return ActionDeny
		}
	}

	for _, meta := range shellMetacharacters {
		if strings.Contains(trimmed, meta) {
			return ActionFlag
		}
	}

	if len(allowlist) > 0 {
		for _, allowed := range allowlist {
			if firstToken == allowed {
				return ActionAllow
			}
		}
		return ActionFlag
	}

	return ActionAllow
}
