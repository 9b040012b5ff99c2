package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// loopDetector tracks repeated tool+args combinations within a single
// executor run so a model stuck retrying the same failing call gets
// warned, then circuit-broken, instead of burning every iteration.
type loopDetector struct {
	counts map[string]int
}

func (d *loopDetector) record(toolName string, argsJSON []byte) string {
	if d.counts == nil {
		d.counts = make(map[string]int)
	}
	hash := hashCall(toolName, argsJSON)
	d.counts[hash]++
	return hash
}

// recordResult is a no-op hook kept for symmetry with the count-based
// detector; result content doesn't currently affect the loop verdict.
func (d *loopDetector) recordResult(hash, resultText string) {}

// detect returns a non-empty level ("warning" or "critical") once the
// same call has repeated enough times within the run.
func (d *loopDetector) detect(toolName, hash string) (level, message string) {
	count := d.counts[hash]
	switch {
	case count >= 5:
		return "critical", fmt.Sprintf("tool %s called %d times with identical arguments with no progress", toolName, count)
	case count >= 3:
		return "warning", fmt.Sprintf("tool %s has been called %d times with the same arguments; consider a different approach", toolName, count)
	default:
		return "", ""
	}
}

func hashCall(toolName string, argsJSON []byte) string {
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	h.Write(argsJSON)
	return hex.EncodeToString(h.Sum(nil))
}
