package security

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestAuditLogHashChain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	log, err := NewAuditLog(path)
	if err != nil {
		t.Fatalf("NewAuditLog: %v", err)
	}

	decisions := []Decision{
		{Action: ActionAllow, Reason: "default_action"},
		{Action: ActionDeny, Rule: "exec", Reason: "denylisted"},
		{Action: ActionFlag, Rule: "run_command", Reason: "metacharacter"},
	}
	for i, d := range decisions {
		if err := log.Append("tool", []byte(`{"n":1}`), d); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	lines := splitLines(data)
	if len(lines) != len(decisions) {
		t.Fatalf("got %d lines, want %d", len(lines), len(decisions))
	}

	var prevLine string
	for i, line := range lines {
		var rec auditRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("line %d: %v", i, err)
		}
		if i == 0 {
			if rec.PreviousHash != "" {
				t.Fatalf("genesis record has non-empty previous_hash: %q", rec.PreviousHash)
			}
		} else {
			sum := sha256.Sum256([]byte(prevLine))
			want := hex.EncodeToString(sum[:])
			if rec.PreviousHash != want {
				t.Fatalf("record %d: previous_hash = %s, want %s", i, rec.PreviousHash, want)
			}
		}
		prevLine = line
	}
}

func TestAuditLogReopensChain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	log1, err := NewAuditLog(path)
	if err != nil {
		t.Fatalf("NewAuditLog: %v", err)
	}
	if err := log1.Append("tool", []byte(`{}`), Decision{Action: ActionAllow}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := log1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	log2, err := NewAuditLog(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := log2.Append("tool", []byte(`{}`), Decision{Action: ActionDeny}); err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if err := log2.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, _ := os.ReadFile(path)
	lines := splitLines(data)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	var first auditRecord
	json.Unmarshal([]byte(lines[0]), &first)
	sum := sha256.Sum256([]byte(lines[0]))
	want := hex.EncodeToString(sum[:])

	var second auditRecord
	json.Unmarshal([]byte(lines[1]), &second)
	if second.PreviousHash != want {
		t.Fatalf("reopened chain broken: previous_hash = %s, want %s", second.PreviousHash, want)
	}
	if second.Seq != first.Seq+1 {
		t.Fatalf("seq did not continue across reopen: %d -> %d", first.Seq, second.Seq)
	}
}

func splitLines(data []byte) []string {
	var lines []string
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, string(data[start:i]))
			}
			start = i + 1
		}
	}
	return lines
}
