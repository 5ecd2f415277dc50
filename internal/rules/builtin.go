package rules

import (
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/chris-regnier/callsite/internal/engine"
	"github.com/chris-regnier/callsite/internal/javaast"
)

// builtinVersion is part of every builtin rule's fingerprint. Bump it when
// a builtin callback changes what it reports.
const builtinVersion = 1

// Builtins returns the rules whose logic inspects arguments or context and
// is therefore written in Go.
func Builtins() []Rule {
	return []Rule{
		{
			ID:       "S4790",
			Name:     "weak-hash",
			Category: CategorySecurity,
			Level:    string(engine.LevelWarning),
			Message:  "Make sure this weak hash algorithm is not used in a sensitive context here.",
			Methods: []MethodSpec{{
				Owners: []string{"java.security.MessageDigest"},
				Names:  []string{"getInstance"},
				Params: ParamSpec{Kind: "any"},
			}},
			Source:   SourceSonarQube,
			CWE:      []string{"CWE-328"},
			OWASP:    []string{"A02:2021"},
			callback: engine.CallbackFunc(weakHash),
		},
		{
			ID:       "S2245",
			Name:     "pseudorandom",
			Category: CategorySecurity,
			Level:    string(engine.LevelWarning),
			Message:  "Make sure that using this pseudorandom number generator is safe here.",
			Methods: []MethodSpec{{
				Owners: []string{"java.util.Random"},
				Names:  []string{javaast.ConstructorName},
				Params: ParamSpec{Kind: "any"},
			}},
			Source:   SourceSonarQube,
			CWE:      []string{"CWE-338"},
			callback: engine.CallbackFunc(pseudorandom),
		},
		{
			ID:       "S2077",
			Name:     "formatted-sql",
			Category: CategorySecurity,
			Level:    string(engine.LevelError),
			Message:  "Make sure using a dynamically formatted SQL query is safe here.",
			Methods: []MethodSpec{{
				Owners:   []string{"java.sql.Statement"},
				Subtypes: true,
				Names:    []string{"execute", "executeQuery", "executeUpdate", "addBatch"},
				Params:   ParamSpec{Kind: "any"},
			}},
			Source:   SourceOWASP,
			CWE:      []string{"CWE-89"},
			OWASP:    []string{"A03:2021"},
			callback: engine.CallbackFunc(formattedSQL),
		},
	}
}

var weakAlgorithms = map[string]bool{
	"MD2": true, "MD4": true, "MD5": true, "SHA": true, "SHA1": true, "SHA-1": true,
}

func weakHash(c *engine.Call) error {
	args := c.Invocation.Args()
	if len(args) == 0 {
		return nil
	}
	alg, ok := stringLiteral(c, args[0])
	if !ok || !weakAlgorithms[strings.ToUpper(alg)] {
		return nil
	}
	c.Reportf(args[0], "Make sure this weak hash algorithm (%s) is not used in a sensitive context here.", alg)
	return nil
}

func pseudorandom(c *engine.Call) error {
	if isTestSource(c.Invocation.File.Path) {
		return nil
	}
	c.Report(nil, "Make sure that using this pseudorandom number generator is safe here.")
	return nil
}

func formattedSQL(c *engine.Call) error {
	args := c.Invocation.Args()
	if len(args) == 0 {
		return nil
	}
	if t, ok := c.ArgType(0); !ok || t != "java.lang.String" {
		return nil
	}
	if !concatenatesNonLiteral(args[0]) {
		return nil
	}
	c.Report(args[0], "Make sure using a dynamically formatted SQL query is safe here.")
	return nil
}

func stringLiteral(c *engine.Call, n *sitter.Node) (string, bool) {
	if n.Type() != "string_literal" {
		return "", false
	}
	text := c.Text(n)
	if len(text) < 2 {
		return "", false
	}
	return text[1 : len(text)-1], true
}

// concatenatesNonLiteral reports whether n is a + expression with at least
// one operand that is not a literal.
func concatenatesNonLiteral(n *sitter.Node) bool {
	for n.Type() == "parenthesized_expression" && n.NamedChildCount() > 0 {
		n = n.NamedChild(0)
	}
	if n.Type() != "binary_expression" {
		return false
	}
	op := n.ChildByFieldName("operator")
	if op == nil || op.Type() != "+" {
		return false
	}
	for _, side := range []*sitter.Node{n.ChildByFieldName("left"), n.ChildByFieldName("right")} {
		if side == nil {
			continue
		}
		switch side.Type() {
		case "string_literal", "decimal_integer_literal", "character_literal":
		case "binary_expression", "parenthesized_expression":
			if concatenatesNonLiteral(side) {
				return true
			}
		default:
			return true
		}
	}
	return false
}

func isTestSource(path string) bool {
	slashed := filepath.ToSlash(path)
	base := filepath.Base(slashed)
	return strings.Contains(slashed, "/src/test/") ||
		strings.HasSuffix(base, "Test.java") ||
		strings.HasSuffix(base, "Tests.java")
}
