package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/chris-regnier/callsite/internal/javaast"
	"github.com/chris-regnier/callsite/internal/signature"
)

// Entry pairs one signature with the rule that declared it.
type Entry struct {
	RuleID    string
	Signature *signature.Signature
	Callback  Callback

	rule *Rule
	pos  int // index of the rule in registration order
}

// Registry is the immutable set of active rules for one run.
type Registry struct {
	entries     []Entry
	byName      map[string][]int
	indexed     bool
	rules       []*Rule
	fingerprint string
}

type buildOptions struct {
	nameIndex bool
}

// BuildOption configures Build.
type BuildOption func(*buildOptions)

// WithNameIndex selects between the method-name index (the default) and a
// scan over every entry. Both return the same candidates in the same order.
func WithNameIndex(enabled bool) BuildOption {
	return func(o *buildOptions) {
		o.nameIndex = enabled
	}
}

// Build compiles rules into a Registry. Each rule is validated on its own:
// a rule with an unknown owner type, a duplicate ID, or a missing callback
// is left out and reported as exactly one ConfigError, and the remaining
// rules are registered in their given order.
func Build(rules []Rule, o Oracle, opts ...BuildOption) (*Registry, []ConfigError) {
	bo := buildOptions{nameIndex: true}
	for _, opt := range opts {
		opt(&bo)
	}

	reg := &Registry{
		byName:  make(map[string][]int),
		indexed: bo.nameIndex,
	}
	var errs []ConfigError
	seen := make(map[string]bool, len(rules))

	for i := range rules {
		r := rules[i]
		if err := validateRule(&r); err != nil {
			errs = append(errs, ConfigError{RuleID: r.ID, Err: err})
			continue
		}
		if seen[r.ID] {
			errs = append(errs, ConfigError{RuleID: r.ID, Err: ErrDuplicateRule})
			continue
		}
		if unknown := unknownOwners(&r, o); len(unknown) > 0 {
			errs = append(errs, ConfigError{RuleID: r.ID, Owners: unknown, Err: ErrUnknownOwner})
			continue
		}
		seen[r.ID] = true

		rule := &r
		pos := len(reg.rules)
		reg.rules = append(reg.rules, rule)
		for _, sig := range r.Signatures {
			idx := len(reg.entries)
			reg.entries = append(reg.entries, Entry{
				RuleID:    r.ID,
				Signature: sig,
				Callback:  r.Callback,
				rule:      rule,
				pos:       pos,
			})
			for _, name := range sig.Names() {
				reg.byName[name] = append(reg.byName[name], idx)
			}
		}
	}

	reg.fingerprint = reg.computeFingerprint()
	return reg, errs
}

func validateRule(r *Rule) error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidRule)
	case r.Callback == nil:
		return fmt.Errorf("%w: missing callback", ErrInvalidRule)
	case len(r.Signatures) == 0:
		return fmt.Errorf("%w: no signatures", ErrInvalidRule)
	}
	for _, s := range r.Signatures {
		if s == nil {
			return fmt.Errorf("%w: nil signature", ErrInvalidRule)
		}
	}
	if r.Level == "" {
		r.Level = LevelWarning
	}
	return nil
}

// unknownOwners lists every owner type of r the oracle does not know, in
// declaration order and without repeats.
func unknownOwners(r *Rule, o Oracle) []string {
	var out []string
	listed := make(map[string]bool)
	for _, sig := range r.Signatures {
		for _, owner := range sig.Owners() {
			if listed[owner.Name] || o.Known(owner.Name) {
				continue
			}
			listed[owner.Name] = true
			out = append(out, owner.Name)
		}
	}
	return out
}

// LookupCandidates returns the entries whose signatures match inv, in rule
// registration order. A rule appears at most once even when several of its
// signatures match; its first matching signature is returned.
func (r *Registry) LookupCandidates(inv javaast.Invocation, o Oracle) []Entry {
	var out []Entry
	var taken map[int]bool

	consider := func(idx int) {
		e := r.entries[idx]
		if taken[e.pos] || !e.Signature.Matches(inv, o) {
			return
		}
		if taken == nil {
			taken = make(map[int]bool)
		}
		taken[e.pos] = true
		out = append(out, e)
	}

	if r.indexed {
		for _, idx := range r.byName[inv.Name()] {
			consider(idx)
		}
		return out
	}
	for idx := range r.entries {
		consider(idx)
	}
	return out
}

// Rules returns the registered rule IDs in registration order.
func (r *Registry) Rules() []string {
	ids := make([]string, len(r.rules))
	for i, rule := range r.rules {
		ids[i] = rule.ID
	}
	return ids
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Fingerprint identifies the registered rules, their signatures and
// callbacks. It is empty when a rule carries no fingerprint of its own.
func (r *Registry) Fingerprint() string {
	return r.fingerprint
}

func (r *Registry) computeFingerprint() string {
	h := sha256.New()
	for _, rule := range r.rules {
		if rule.Fingerprint == "" {
			return ""
		}
		fmt.Fprintf(h, "R %s\x00%s\x00%s\n", rule.ID, rule.Level, rule.Fingerprint)
	}
	for _, e := range r.entries {
		fmt.Fprintf(h, "S %s\x00%s\n", e.RuleID, e.Signature)
	}
	return hex.EncodeToString(h.Sum(nil))
}
