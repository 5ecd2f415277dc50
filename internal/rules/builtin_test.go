package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chris-regnier/callsite/internal/engine"
	"github.com/chris-regnier/callsite/internal/javaast"
	"github.com/chris-regnier/callsite/internal/oracle"
)

const fixture = `package com.acme;

import java.math.BigDecimal;
import java.security.MessageDigest;
import java.sql.Statement;
import java.util.Random;
import javax.servlet.http.HttpServletRequest;

class Service {
    void run(HttpServletRequest req, Statement st, String user) throws Exception {
        String id = req.getRequestedSessionId();
        MessageDigest.getInstance("MD5");
        MessageDigest.getInstance("SHA-256");
        new Random();
        new java.security.SecureRandom();
        new BigDecimal(0.1);
        new BigDecimal("0.1");
        st.executeQuery("SELECT * FROM users WHERE name = '" + user + "'");
        st.executeQuery("SELECT * FROM users " + "ORDER BY name");
        Runtime.getRuntime().exec("ls");
        try {
            run(req, st, user);
        } catch (IllegalStateException e) {
            e.printStackTrace();
        }
    }
}
`

func analyze(t *testing.T, path, src string) []engine.Diagnostic {
	t.Helper()
	f, err := javaast.Parse(context.Background(), path, []byte(src))
	require.NoError(t, err)
	o := oracle.NewBuilder().AddCatalog(oracle.DefaultCatalog()...).AddFile(f).Build()

	all, err := LoadRules("", "")
	require.NoError(t, err)
	compiled, err := CompileAll(all)
	require.NoError(t, err)
	reg, cfgErrs := engine.Build(compiled, o)
	require.Empty(t, cfgErrs)

	res, err := engine.NewTraversal(f, reg, o).Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, res.Failures)
	return res.Diagnostics
}

func TestRules_EndToEnd(t *testing.T) {
	diags := analyze(t, "src/main/java/com/acme/Service.java", fixture)

	byRule := map[string][]engine.Diagnostic{}
	var order []string
	for _, d := range diags {
		byRule[d.RuleID] = append(byRule[d.RuleID], d)
		order = append(order, d.RuleID)
	}

	assert.Equal(t, []string{"S2254", "S4790", "S2245", "S2111", "S2077", "S4721", "S1148"}, order)

	s2254 := byRule["S2254"][0]
	assert.Equal(t, `Remove use of this unsecured "getRequestedSessionId()" method`, s2254.Message)
	assert.Equal(t, engine.LevelWarning, s2254.Level)
	assert.Equal(t, 11, s2254.Span.StartLine)
	assert.Equal(t, 25, s2254.Span.StartColumn, "reported on the method name")

	assert.Contains(t, byRule["S4790"][0].Message, "(MD5)")
	assert.Equal(t, engine.LevelError, byRule["S2111"][0].Level)
	assert.Equal(t, 18, byRule["S2077"][0].Span.StartLine)
}

func TestRules_PseudorandomSkipsTests(t *testing.T) {
	diags := analyze(t, "src/test/java/com/acme/ServiceTest.java", fixture)
	for _, d := range diags {
		assert.NotEqual(t, "S2245", d.RuleID)
	}
}

func TestRules_JakartaAndSubtypes(t *testing.T) {
	diags := analyze(t, "Web.java", `package com.acme;

import jakarta.servlet.http.HttpServletRequestWrapper;

class Web {
    void run(HttpServletRequestWrapper wrapper, Object other) {
        wrapper.getRequestedSessionId();
        ((jakarta.servlet.http.HttpServletRequest) other).getRequestedSessionId();
    }
}
`)
	require.Len(t, diags, 2)
	for _, d := range diags {
		assert.Equal(t, "S2254", d.RuleID)
	}
}
