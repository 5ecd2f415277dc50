package rules

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chris-regnier/callsite/internal/engine"
	"github.com/chris-regnier/callsite/internal/signature"
)

type RuleCategory string

const (
	CategorySecurity        RuleCategory = "security"
	CategoryReliability     RuleCategory = "reliability"
	CategoryMaintainability RuleCategory = "maintainability"
)

type RuleSource string

const (
	SourceCWE       RuleSource = "CWE"
	SourceOWASP     RuleSource = "OWASP"
	SourceSonarQube RuleSource = "SonarQube"
	SourceCustom    RuleSource = "Custom"
)

// ReportOn selects the node a declarative rule reports on.
type ReportOn string

const (
	ReportOnName ReportOn = "name" // the method name, or the created type
	ReportOnCall ReportOn = "call" // the whole invocation
)

// Rule is a rule declaration: metadata plus the methods it targets. Rules
// loaded from YAML report Message on every match; Go-coded rules carry their
// own callback.
type Rule struct {
	ID          string       `yaml:"id"`
	Name        string       `yaml:"name"`
	Category    RuleCategory `yaml:"category"`
	Level       string       `yaml:"level"`
	Message     string       `yaml:"message"`
	ReportOn    ReportOn     `yaml:"report_on,omitempty"`
	Methods     []MethodSpec `yaml:"methods"`
	Explanation string       `yaml:"explanation,omitempty"`
	Remediation string       `yaml:"remediation,omitempty"`
	Source      RuleSource   `yaml:"source,omitempty"`
	CWE         []string     `yaml:"cwe,omitempty"`
	OWASP       []string     `yaml:"owasp,omitempty"`
	References  []string     `yaml:"references,omitempty"`

	callback engine.Callback
}

// MethodSpec is the YAML form of a signature.
type MethodSpec struct {
	Owners   []string  `yaml:"owners"`
	Subtypes bool      `yaml:"subtypes,omitempty"`
	Names    []string  `yaml:"names"`
	Params   ParamSpec `yaml:"params"`
}

// ParamSpec is "none", "any", or a list of parameter type names.
type ParamSpec struct {
	Kind  string
	Types []string
}

func (p *ParamSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		switch node.Value {
		case "none", "any":
			p.Kind = node.Value
			return nil
		}
		return fmt.Errorf("line %d: params must be none, any, or a list of types, got %q", node.Line, node.Value)
	case yaml.SequenceNode:
		var types []string
		if err := node.Decode(&types); err != nil {
			return err
		}
		p.Kind = "exact"
		p.Types = types
		return nil
	}
	return fmt.Errorf("line %d: params must be none, any, or a list of types", node.Line)
}

func (p ParamSpec) MarshalYAML() (interface{}, error) {
	if p.Kind == "exact" {
		return p.Types, nil
	}
	return p.Kind, nil
}

func (p ParamSpec) parameters() (signature.Parameters, error) {
	switch p.Kind {
	case "none":
		return signature.NoParams(), nil
	case "any":
		return signature.AnyParams(), nil
	case "exact":
		return signature.ExactTypes(p.Types...), nil
	case "":
		return signature.Parameters{}, fmt.Errorf("missing required field: params")
	}
	return signature.Parameters{}, fmt.Errorf("unknown params kind %q", p.Kind)
}

// Signature builds the signature described by m.
func (m MethodSpec) Signature() (*signature.Signature, error) {
	params, err := m.Params.parameters()
	if err != nil {
		return nil, err
	}
	owners := make([]signature.TypeRef, len(m.Owners))
	for i, o := range m.Owners {
		owners[i] = signature.TypeRef{Name: o, Subtypes: m.Subtypes}
	}
	return signature.New(signature.Spec{Owners: owners, Names: m.Names, Params: params})
}

type RuleFile struct {
	Rules []Rule `yaml:"rules"`
}

func ParseRuleFile(data []byte) (*RuleFile, error) {
	var rf RuleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing rule file: %w", err)
	}

	seen := make(map[string]bool)
	for i := range rf.Rules {
		r := &rf.Rules[i]
		if err := validateRule(r); err != nil {
			return nil, fmt.Errorf("rule %q (index %d): %w", r.ID, i, err)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate rule ID %q", r.ID)
		}
		seen[r.ID] = true
	}

	return &rf, nil
}

func validateRule(r *Rule) error {
	if r.ID == "" {
		return fmt.Errorf("missing required field: id")
	}
	switch engine.Level(r.Level) {
	case engine.LevelError, engine.LevelWarning, engine.LevelNote:
	case "":
		return fmt.Errorf("missing required field: level")
	default:
		return fmt.Errorf("level must be error, warning or note, got %q", r.Level)
	}
	if r.Message == "" && r.callback == nil {
		return fmt.Errorf("missing required field: message")
	}
	switch r.ReportOn {
	case "":
		r.ReportOn = ReportOnName
	case ReportOnName, ReportOnCall:
	default:
		return fmt.Errorf("report_on must be name or call, got %q", r.ReportOn)
	}
	if len(r.Methods) == 0 {
		return fmt.Errorf("missing required field: methods")
	}
	for i, m := range r.Methods {
		if _, err := m.Signature(); err != nil {
			return fmt.Errorf("methods[%d]: %w", i, err)
		}
	}
	return nil
}

// Compile turns a declaration into an engine rule.
func (r Rule) Compile() (engine.Rule, error) {
	sigs := make([]*signature.Signature, 0, len(r.Methods))
	for i, m := range r.Methods {
		sig, err := m.Signature()
		if err != nil {
			return engine.Rule{}, fmt.Errorf("rule %s: methods[%d]: %w", r.ID, i, err)
		}
		sigs = append(sigs, sig)
	}

	cb := r.callback
	if cb == nil {
		cb = messageReporter{message: r.Message, on: r.ReportOn}
	}
	return engine.Rule{
		ID:          r.ID,
		Level:       engine.Level(r.Level),
		Signatures:  sigs,
		Callback:    cb,
		Fingerprint: r.fingerprint(),
	}, nil
}

// fingerprint covers what the callback reports: the message and report_on
// of a declarative rule, or the builtin version of a Go-coded one.
func (r Rule) fingerprint() string {
	if r.callback != nil {
		return fmt.Sprintf("builtin/%d", builtinVersion)
	}
	on := r.ReportOn
	if on == "" {
		on = ReportOnName
	}
	return fmt.Sprintf("yaml/%s\x00%q", on, r.Message)
}

// CompileAll compiles every rule. Rules that fail to compile are skipped and
// their errors joined.
func CompileAll(rules []Rule) ([]engine.Rule, error) {
	out := make([]engine.Rule, 0, len(rules))
	var errs []error
	for _, r := range rules {
		er, err := r.Compile()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, er)
	}
	return out, errors.Join(errs...)
}

// Builtin reports whether the rule's logic is implemented in Go.
func (r Rule) Builtin() bool {
	return r.callback != nil
}

// messageReporter is the callback of a declarative rule.
type messageReporter struct {
	message string
	on      ReportOn
}

func (m messageReporter) OnMatch(c *engine.Call) error {
	if m.on == ReportOnCall {
		c.Report(nil, m.message)
		return nil
	}
	c.Report(c.Invocation.NameNode(), m.message)
	return nil
}

func ByCategory(rules []Rule, category RuleCategory) []Rule {
	var filtered []Rule
	for _, r := range rules {
		if r.Category == category {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

func ByCWE(rules []Rule, cweID string) []Rule {
	var filtered []Rule
	for _, r := range rules {
		for _, cwe := range r.CWE {
			if strings.EqualFold(cwe, cweID) {
				filtered = append(filtered, r)
				break
			}
		}
	}
	return filtered
}

// Find returns the rule with the given ID.
func Find(rules []Rule, id string) (Rule, bool) {
	for _, r := range rules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}
