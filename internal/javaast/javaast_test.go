package javaast

import (
	"context"
	"testing"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseJava(t *testing.T, source string) *File {
	t.Helper()
	f, err := Parse(context.Background(), "Test.java", []byte(source))
	require.NoError(t, err)
	return f
}

func invocations(f *File) []Invocation {
	var out []Invocation
	FindNodes(f.Root(), map[string]bool{"method_invocation": true, "object_creation_expression": true}, func(n *sitter.Node) {
		if inv, ok := AsInvocation(f, n); ok {
			out = append(out, inv)
		}
	})
	return out
}

func TestDetect(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"Main.java", true},
		{"src/main/java/com/acme/Foo.JAVA", true},
		{"main.go", false},
		{"Main.class", false},
		{"README", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.path))
		})
	}
}

func TestParse_RejectsNonJava(t *testing.T) {
	_, err := Parse(context.Background(), "main.go", []byte("package main"))
	require.ErrorIs(t, err, ErrNotJava)
}

func TestParse_Header(t *testing.T) {
	f := parseJava(t, `package com.acme.web;

import javax.servlet.http.HttpServletRequest;
import java.util.*;
import static java.util.Objects.requireNonNull;

class A {}
`)
	assert.Equal(t, "com.acme.web", f.Package)
	require.Len(t, f.Imports, 3)
	assert.Equal(t, Import{Path: "javax.servlet.http.HttpServletRequest"}, f.Imports[0])
	assert.Equal(t, Import{Path: "java.util", Wildcard: true}, f.Imports[1])
	assert.Equal(t, Import{Path: "java.util.Objects.requireNonNull", Static: true}, f.Imports[2])
	assert.False(t, f.Malformed())
	assert.NotEmpty(t, f.Hash)
}

func TestParse_Malformed(t *testing.T) {
	f := parseJava(t, `class A { void m( { }`)
	assert.True(t, f.Malformed())
}

func TestInvocation_MethodCall(t *testing.T) {
	f := parseJava(t, `class A {
  void m(Req req) {
    req.getRequestedSessionId();
    helper(1, "two");
  }
}`)
	invs := invocations(f)
	require.Len(t, invs, 2)

	first := invs[0]
	assert.False(t, first.IsConstructor())
	assert.Equal(t, "getRequestedSessionId", first.Name())
	assert.Equal(t, "req", f.Text(first.Receiver()))
	assert.Empty(t, first.Args())
	assert.Equal(t, 3, first.Span().StartLine)
	assert.Equal(t, "getRequestedSessionId", f.Text(first.NameNode()))

	second := invs[1]
	assert.Equal(t, "helper", second.Name())
	assert.Nil(t, second.Receiver())
	args := second.Args()
	require.Len(t, args, 2)
	assert.Equal(t, "1", f.Text(args[0]))
	assert.Equal(t, `"two"`, f.Text(args[1]))
}

func TestInvocation_Constructor(t *testing.T) {
	f := parseJava(t, `class A {
  Object o = new java.util.Random(42L);
}`)
	invs := invocations(f)
	require.Len(t, invs, 1)
	inv := invs[0]
	assert.True(t, inv.IsConstructor())
	assert.Equal(t, ConstructorName, inv.Name())
	assert.Equal(t, "java.util.Random", f.Text(inv.Receiver()))
	assert.Len(t, inv.Args(), 1)
}

func TestEnclosingTypeDecl(t *testing.T) {
	f := parseJava(t, `class Outer {
  void m() {
    Runnable r = new Runnable() {
      public void run() { work(); }
    };
    top();
  }
}`)
	var work, top Invocation
	for _, inv := range invocations(f) {
		switch inv.Name() {
		case "work":
			work = inv
		case "top":
			top = inv
		}
	}
	require.NotNil(t, work.Node)
	require.NotNil(t, top.Node)

	anon := EnclosingTypeDecl(work.Node)
	require.NotNil(t, anon)
	assert.Equal(t, "object_creation_expression", anon.Type())

	outer := EnclosingTypeDecl(top.Node)
	require.NotNil(t, outer)
	assert.Equal(t, "class_declaration", outer.Type())

	method := EnclosingMethod(top.Node)
	require.NotNil(t, method)
	assert.Equal(t, "m", f.Text(method.ChildByFieldName("name")))
}
