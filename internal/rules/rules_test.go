package rules

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/chris-regnier/callsite/internal/signature"
)

const validYAML = `rules:
  - id: "S2254"
    name: "get-requested-session-id"
    category: "security"
    level: "warning"
    message: 'Remove use of this unsecured "getRequestedSessionId()" method'
    report_on: "name"
    methods:
      - owners: ["javax.servlet.http.HttpServletRequest", "jakarta.servlet.http.HttpServletRequest"]
        subtypes: true
        names: ["getRequestedSessionId"]
        params: none
    explanation: "Client supplied session IDs are not trustworthy."
    remediation: "Use getSession().getId()."
    source: "CWE"
    cwe: ["CWE-807"]
    owasp: ["A04:2021"]
    references:
      - "https://cwe.mitre.org/data/definitions/807.html"
  - id: "FMT"
    name: "string-format"
    category: "maintainability"
    level: "note"
    message: "Formatting call"
    report_on: "call"
    methods:
      - owners: ["java.lang.String"]
        names: ["format"]
        params: ["java.lang.String", "java.lang.Object..."]
      - owners: ["java.lang.String"]
        names: ["formatted"]
        params: any
`

func TestParseRuleFile_AllFields(t *testing.T) {
	rf, err := ParseRuleFile([]byte(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rf.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rf.Rules))
	}

	r := rf.Rules[0]
	if r.ID != "S2254" {
		t.Errorf("expected ID S2254, got %s", r.ID)
	}
	if r.Category != CategorySecurity {
		t.Errorf("expected category security, got %s", r.Category)
	}
	if r.ReportOn != ReportOnName {
		t.Errorf("expected report_on name, got %s", r.ReportOn)
	}
	if len(r.Methods) != 1 || len(r.Methods[0].Owners) != 2 || !r.Methods[0].Subtypes {
		t.Fatalf("unexpected methods: %+v", r.Methods)
	}
	if r.Methods[0].Params.Kind != "none" {
		t.Errorf("expected params none, got %q", r.Methods[0].Params.Kind)
	}
	if r.Source != SourceCWE || len(r.CWE) != 1 || len(r.OWASP) != 1 || len(r.References) != 1 {
		t.Errorf("metadata not populated: %+v", r)
	}

	sig, err := r.Methods[0].Signature()
	if err != nil {
		t.Fatalf("Signature() error: %v", err)
	}
	want := "javax.servlet.http.HttpServletRequest+|jakarta.servlet.http.HttpServletRequest+#getRequestedSessionId()"
	if sig.String() != want {
		t.Errorf("signature = %s, want %s", sig, want)
	}

	fmtRule := rf.Rules[1]
	if fmtRule.Methods[0].Params.Kind != "exact" || len(fmtRule.Methods[0].Params.Types) != 2 {
		t.Errorf("expected exact params, got %+v", fmtRule.Methods[0].Params)
	}
	sig, err = fmtRule.Methods[0].Signature()
	if err != nil {
		t.Fatalf("Signature() error: %v", err)
	}
	if !sig.Params().Varargs() {
		t.Error("expected varargs parameter shape")
	}
	if fmtRule.Methods[1].Params.Kind != "any" {
		t.Errorf("expected params any, got %q", fmtRule.Methods[1].Params.Kind)
	}
}

func TestParseRuleFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		rule string
		want string
	}{
		{
			name: "missing id",
			rule: `level: "error"
    message: "m"
    methods: [{owners: [a.B], names: [m], params: none}]`,
			want: "missing required field: id",
		},
		{
			name: "missing level",
			rule: `id: "R1"
    message: "m"
    methods: [{owners: [a.B], names: [m], params: none}]`,
			want: "missing required field: level",
		},
		{
			name: "bad level",
			rule: `id: "R1"
    level: "critical"
    message: "m"
    methods: [{owners: [a.B], names: [m], params: none}]`,
			want: "level must be error, warning or note",
		},
		{
			name: "missing message",
			rule: `id: "R1"
    level: "error"
    methods: [{owners: [a.B], names: [m], params: none}]`,
			want: "missing required field: message",
		},
		{
			name: "missing methods",
			rule: `id: "R1"
    level: "error"
    message: "m"`,
			want: "missing required field: methods",
		},
		{
			name: "missing params",
			rule: `id: "R1"
    level: "error"
    message: "m"
    methods: [{owners: [a.B], names: [m]}]`,
			want: "missing required field: params",
		},
		{
			name: "empty owners",
			rule: `id: "R1"
    level: "error"
    message: "m"
    methods: [{owners: [], names: [m], params: any}]`,
			want: "no owner types",
		},
		{
			name: "bad report_on",
			rule: `id: "R1"
    level: "error"
    message: "m"
    report_on: "file"
    methods: [{owners: [a.B], names: [m], params: any}]`,
			want: "report_on must be name or call",
		},
		{
			name: "bad params scalar",
			rule: `id: "R1"
    level: "error"
    message: "m"
    methods: [{owners: [a.B], names: [m], params: some}]`,
			want: "params must be none, any, or a list of types",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseRuleFile([]byte("rules:\n  - " + tc.rule + "\n"))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected %q in error, got: %v", tc.want, err)
			}
		})
	}
}

func TestParseRuleFile_DuplicateID(t *testing.T) {
	yml := `rules:
  - id: "DUP"
    level: "error"
    message: "first"
    methods: [{owners: [a.B], names: [m], params: none}]
  - id: "DUP"
    level: "error"
    message: "second"
    methods: [{owners: [a.B], names: [m], params: none}]
`
	_, err := ParseRuleFile([]byte(yml))
	if err == nil {
		t.Fatal("expected error for duplicate ID")
	}
	if !strings.Contains(err.Error(), "duplicate rule ID") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParamSpec_RoundTrip(t *testing.T) {
	specs := []ParamSpec{{Kind: "none"}, {Kind: "any"}, {Kind: "exact", Types: []string{"int", "java.lang.String"}}}
	for _, p := range specs {
		data, err := yaml.Marshal(p)
		if err != nil {
			t.Fatalf("marshal %+v: %v", p, err)
		}
		var got ParamSpec
		if err := yaml.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if got.Kind != p.Kind || len(got.Types) != len(p.Types) {
			t.Errorf("round trip of %+v gave %+v", p, got)
		}
	}
}

func TestCompile(t *testing.T) {
	rf, err := ParseRuleFile([]byte(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	compiled, err := CompileAll(rf.Rules)
	if err != nil {
		t.Fatalf("CompileAll() error: %v", err)
	}
	if len(compiled) != 2 {
		t.Fatalf("expected 2 compiled rules, got %d", len(compiled))
	}
	if compiled[0].ID != "S2254" || string(compiled[0].Level) != "warning" {
		t.Errorf("unexpected compiled rule: %+v", compiled[0])
	}
	if len(compiled[1].Signatures) != 2 {
		t.Errorf("expected 2 signatures, got %d", len(compiled[1].Signatures))
	}
	if compiled[0].Callback == nil {
		t.Error("expected a callback")
	}
}

func TestCompile_FingerprintFollowsOutput(t *testing.T) {
	rf, err := ParseRuleFile([]byte(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	base := rf.Rules[0]

	fingerprint := func(r Rule) string {
		t.Helper()
		c, err := r.Compile()
		if err != nil {
			t.Fatalf("Compile() error: %v", err)
		}
		if c.Fingerprint == "" {
			t.Fatalf("rule %s compiled without a fingerprint", r.ID)
		}
		return c.Fingerprint
	}

	if fingerprint(base) != fingerprint(base) {
		t.Error("fingerprint should be stable")
	}

	edited := base
	edited.Message = "new message"
	if fingerprint(base) == fingerprint(edited) {
		t.Error("changing the message should change the fingerprint")
	}

	moved := base
	moved.ReportOn = ReportOnCall
	if fingerprint(base) == fingerprint(moved) {
		t.Error("changing report_on should change the fingerprint")
	}

	for _, b := range Builtins() {
		if !strings.HasPrefix(fingerprint(b), "builtin/") {
			t.Errorf("builtin %s should carry the builtin version", b.ID)
		}
	}
}

func TestCompileAll_SkipsBrokenRules(t *testing.T) {
	broken := Rule{ID: "BROKEN", Level: "error", Message: "m", Methods: []MethodSpec{{
		Owners: []string{"a.B"}, Names: []string{"not valid"}, Params: ParamSpec{Kind: "any"},
	}}}
	good := Rule{ID: "GOOD", Level: "error", Message: "m", Methods: []MethodSpec{{
		Owners: []string{"a.B"}, Names: []string{"m"}, Params: ParamSpec{Kind: "none"},
	}}}

	compiled, err := CompileAll([]Rule{broken, good})
	if err == nil {
		t.Fatal("expected an error for the broken rule")
	}
	if !strings.Contains(err.Error(), "BROKEN") {
		t.Errorf("error should name the rule: %v", err)
	}
	if len(compiled) != 1 || compiled[0].ID != "GOOD" {
		t.Errorf("expected only GOOD to compile, got %+v", compiled)
	}
}

func TestFilters(t *testing.T) {
	rules := append(Builtins(), Rule{ID: "X", Category: CategoryReliability, CWE: []string{"CWE-1"}})

	if got := ByCategory(rules, CategoryReliability); len(got) != 1 || got[0].ID != "X" {
		t.Errorf("ByCategory: got %+v", got)
	}
	if got := ByCWE(rules, "cwe-89"); len(got) != 1 || got[0].ID != "S2077" {
		t.Errorf("ByCWE: got %+v", got)
	}
	if _, ok := Find(rules, "S4790"); !ok {
		t.Error("Find: expected S4790")
	}
	if _, ok := Find(rules, "nope"); ok {
		t.Error("Find: unexpected match")
	}
}

func TestMethodSpec_SignatureSubtypes(t *testing.T) {
	m := MethodSpec{Owners: []string{"a.B", "c.D"}, Subtypes: true, Names: []string{"m"}, Params: ParamSpec{Kind: "any"}}
	sig, err := m.Signature()
	if err != nil {
		t.Fatalf("Signature() error: %v", err)
	}
	for _, o := range sig.Owners() {
		if o != signature.SubtypeOf(o.Name) {
			t.Errorf("owner %v should match subtypes", o)
		}
	}
}
