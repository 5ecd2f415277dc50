package oracle

import "strings"

var primitives = map[string]bool{
	"boolean": true, "byte": true, "short": true, "char": true,
	"int": true, "long": true, "float": true, "double": true, "void": true,
}

var boxed = map[string]string{
	"boolean": "java.lang.Boolean",
	"byte":    "java.lang.Byte",
	"short":   "java.lang.Short",
	"char":    "java.lang.Character",
	"int":     "java.lang.Integer",
	"long":    "java.lang.Long",
	"float":   "java.lang.Float",
	"double":  "java.lang.Double",
}

var unboxed = func() map[string]string {
	m := make(map[string]string, len(boxed))
	for p, b := range boxed {
		m[b] = p
	}
	return m
}()

// widening lists the primitive types each primitive widens to.
var widening = map[string][]string{
	"byte":  {"short", "int", "long", "float", "double"},
	"short": {"int", "long", "float", "double"},
	"char":  {"int", "long", "float", "double"},
	"int":   {"long", "float", "double"},
	"long":  {"float", "double"},
	"float": {"double"},
}

func isPrimitive(name string) bool {
	return primitives[name]
}

func widens(from, to string) bool {
	if from == to {
		return true
	}
	for _, t := range widening[from] {
		if t == to {
			return true
		}
	}
	return false
}

func arrayElem(name string) (string, bool) {
	if strings.HasSuffix(name, "[]") {
		return strings.TrimSuffix(name, "[]"), true
	}
	return "", false
}

// promote applies binary numeric promotion to two primitive operand types.
func promote(a, b string) (string, bool) {
	if p, ok := unboxed[a]; ok {
		a = p
	}
	if p, ok := unboxed[b]; ok {
		b = p
	}
	if a == "boolean" && b == "boolean" {
		return "boolean", true
	}
	rank := map[string]int{"byte": 1, "short": 1, "char": 1, "int": 1, "long": 2, "float": 3, "double": 4}
	ra, okA := rank[a]
	rb, okB := rank[b]
	if !okA || !okB {
		return "", false
	}
	if rb > ra {
		ra = rb
	}
	switch ra {
	case 4:
		return "double", true
	case 3:
		return "float", true
	case 2:
		return "long", true
	default:
		return "int", true
	}
}
