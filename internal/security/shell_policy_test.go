package security

import "testing"

func TestEvaluateShellCommand(t *testing.T) {
	cases := []struct {
		name    string
		command string
		allow   []string
		want    Action
	}{
		{"hard denylist rm", "rm -rf /tmp/x", nil, ActionDeny},
		{"hard denylist sudo", "sudo apt install x", nil, ActionDeny},
		{"pipe metacharacter", "cat file | wc -l", nil, ActionFlag},
		{"subshell metacharacter", "echo $(whoami)", nil, ActionFlag},
		{"backtick metacharacter", "echo `id`", nil, ActionFlag},
		{"redirect metacharacter", "echo hi > out.txt", nil, ActionFlag},
		{"plain command no allowlist", "ls -la", nil, ActionAllow},
		{"allowlisted", "git status", []string{"git"}, ActionAllow},
		{"not allowlisted", "curl http://x", []string{"git"}, ActionFlag},
		{"empty command", "", nil, ActionDeny},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := EvaluateShellCommand(tc.command, tc.allow)
			if got != tc.want {
				t.Fatalf("EvaluateShellCommand(%q) = %s, want %s", tc.command, got, tc.want)
			}
			// Purity: identical input always yields identical decision.
			if again := EvaluateShellCommand(tc.command, tc.allow); again != got {
				t.Fatalf("EvaluateShellCommand(%q) not pure: %s then %s", tc.command, got, again)
			}
		})
	}
}
