// Package acl implements the first-match-wins access-control matcher (§4.2):
// wildcard patterns over caller/target module IDs, AND-combined conditions,
// and a snapshot-under-lock evaluation strategy shared with the Registry and
// the Middleware Manager.
package acl

import (
	"fmt"
	"os"
	"sync"

	"github.com/apcore/apcore-go/pkg/apcore"
	"github.com/apcore/apcore-go/pkg/pattern"
	"gopkg.in/yaml.v3"
)

const (
	EffectAllow = "allow"
	EffectDeny  = "deny"

	patternExternal = "@external"
	patternSystem   = "@system"
)

// Conditions are AND-combined; a condition set present on a rule with no
// Context supplied at check time makes that rule fail to match.
type Conditions struct {
	IdentityTypes []string `yaml:"identity_types,omitempty"`
	Roles         []string `yaml:"roles,omitempty"`
	MaxCallDepth  *int     `yaml:"max_call_depth,omitempty"`
}

// Rule is one ACL entry: callers and targets are OR-matched pattern lists,
// Conditions are AND-combined on top.
type Rule struct {
	Callers     []string    `yaml:"callers"`
	Targets     []string    `yaml:"targets"`
	Effect      string      `yaml:"effect"`
	Description string      `yaml:"description,omitempty"`
	Conditions  *Conditions `yaml:"conditions,omitempty"`
}

// ACL is a thread-safe, first-match-wins rule evaluator.
type ACL struct {
	mu            sync.Mutex
	rules         []Rule
	defaultEffect string
	sourcePath    string
}

// New constructs an ACL from an explicit rule list (inserted in the given
// order; index 0 is evaluated first). defaultEffect must be "allow" or
// "deny"; it defaults to "deny" when empty.
func New(rules []Rule, defaultEffect string) *ACL {
	if defaultEffect == "" {
		defaultEffect = EffectDeny
	}
	return &ACL{rules: append([]Rule(nil), rules...), defaultEffect: defaultEffect}
}

type aclFile struct {
	DefaultEffect string `yaml:"default_effect"`
	Rules         []Rule `yaml:"rules"`
}

// LoadFromFile parses a YAML ACL configuration file (§4.2). Malformed fields
// fail with a structured error naming the rule index and field.
func LoadFromFile(path string) (*ACL, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apcore.NewConfigNotFoundError(path)
		}
		return nil, apcore.NewConfigError(fmt.Sprintf("reading ACL file %s: %v", path, err), nil)
	}

	var parsed aclFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, apcore.NewConfigError(fmt.Sprintf("parsing ACL file %s: %v", path, err), nil)
	}

	if parsed.DefaultEffect == "" {
		parsed.DefaultEffect = EffectDeny
	}
	if parsed.DefaultEffect != EffectAllow && parsed.DefaultEffect != EffectDeny {
		return nil, apcore.NewACLRuleError(-1, "default_effect", fmt.Sprintf("must be %q or %q, got %q", EffectAllow, EffectDeny, parsed.DefaultEffect))
	}

	for i, r := range parsed.Rules {
		if len(r.Callers) == 0 {
			return nil, apcore.NewACLRuleError(i, "callers", "must be a non-empty list")
		}
		if len(r.Targets) == 0 {
			return nil, apcore.NewACLRuleError(i, "targets", "must be a non-empty list")
		}
		if r.Effect != EffectAllow && r.Effect != EffectDeny {
			return nil, apcore.NewACLRuleError(i, "effect", fmt.Sprintf("must be %q or %q, got %q", EffectAllow, EffectDeny, r.Effect))
		}
	}

	a := New(parsed.Rules, parsed.DefaultEffect)
	a.sourcePath = path
	return a, nil
}

// Reload re-reads the ACL from the file it was loaded from. It fails if the
// ACL was not constructed via LoadFromFile.
func (a *ACL) Reload() error {
	a.mu.Lock()
	path := a.sourcePath
	a.mu.Unlock()

	if path == "" {
		return apcore.NewACLRuleError(-1, "source", "ACL was not loaded from a file")
	}
	fresh, err := LoadFromFile(path)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.rules = fresh.rules
	a.defaultEffect = fresh.defaultEffect
	return nil
}

// AddRule inserts rule at position 0, so it is evaluated before all existing rules.
func (a *ACL) AddRule(rule Rule) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rules = append([]Rule{rule}, a.rules...)
}

// RemoveRule removes the first rule whose callers/targets pattern lists are
// identical (element-wise) to the given lists. Returns whether one was removed.
func (a *ACL) RemoveRule(callers, targets []string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, r := range a.rules {
		if stringsEqual(r.Callers, callers) && stringsEqual(r.Targets, targets) {
			a.rules = append(a.rules[:i], a.rules[i+1:]...)
			return true
		}
	}
	return false
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Check evaluates the ACL for a call from callerID to targetID under ctx
// (which may be nil). Evaluation takes a snapshot of the rule list and
// default effect under the lock, then iterates the snapshot lock-free.
func (a *ACL) Check(callerID, targetID string, ctx *apcore.Context) bool {
	a.mu.Lock()
	rules := a.rules
	defaultEffect := a.defaultEffect
	a.mu.Unlock()

	effectiveCaller := callerID
	if effectiveCaller == "" {
		effectiveCaller = patternExternal
	}

	for _, r := range rules {
		if !anyMatchesCaller(r.Callers, effectiveCaller, ctx) {
			continue
		}
		if !anyMatches(r.Targets, targetID) {
			continue
		}
		if !checkConditions(r.Conditions, ctx) {
			continue
		}
		return r.Effect == EffectAllow
	}
	return defaultEffect == EffectAllow
}

func anyMatchesCaller(patterns []string, effectiveCaller string, ctx *apcore.Context) bool {
	for _, p := range patterns {
		if matchCallerPattern(p, effectiveCaller, ctx) {
			return true
		}
	}
	return false
}

func matchCallerPattern(p, effectiveCaller string, ctx *apcore.Context) bool {
	switch p {
	case patternExternal:
		return effectiveCaller == patternExternal
	case patternSystem:
		return ctx != nil && ctx.Identity != nil && ctx.Identity.Type() == "system"
	default:
		return pattern.Match(p, effectiveCaller)
	}
}

func anyMatches(patterns []string, value string) bool {
	for _, p := range patterns {
		if pattern.Match(p, value) {
			return true
		}
	}
	return false
}

func checkConditions(c *Conditions, ctx *apcore.Context) bool {
	if c == nil {
		return true
	}
	if ctx == nil {
		return false
	}
	if len(c.IdentityTypes) > 0 {
		if ctx.Identity == nil {
			return false
		}
		found := false
		for _, t := range c.IdentityTypes {
			if ctx.Identity.Type() == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(c.Roles) > 0 {
		if ctx.Identity == nil || !ctx.Identity.IntersectsRoles(c.Roles) {
			return false
		}
	}
	if c.MaxCallDepth != nil {
		if len(ctx.CallChain) > *c.MaxCallDepth {
			return false
		}
	}
	return true
}
