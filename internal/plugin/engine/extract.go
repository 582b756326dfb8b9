package engine

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
)

// funcParts is the structural split of a stored function literal.
type funcParts struct {
	params  []string
	results string
	body    string
	// degraded is set when the literal could not be parsed and body holds the
	// whole stored text.
	degraded bool
}

func (p funcParts) param(idx int, fallback string) string {
	if idx < len(p.params) && p.params[idx] != "" {
		return p.params[idx]
	}

	return fallback
}

// extractGoFunc splits a Go function literal into parameter names, result list
// and the text between its outermost braces.
func extractGoFunc(src string) funcParts {
	fset := token.NewFileSet()
	expr, err := parser.ParseExprFrom(fset, "", src, 0)
	if err != nil {
		return funcParts{body: src, degraded: true}
	}
	literal, ok := expr.(*ast.FuncLit)
	if !ok {
		return funcParts{body: src, degraded: true}
	}

	offset := func(pos token.Pos) int { return fset.Position(pos).Offset }
	parts := funcParts{
		body: src[offset(literal.Body.Lbrace)+1 : offset(literal.Body.Rbrace)],
	}
	for _, field := range literal.Type.Params.List {
		if len(field.Names) == 0 {
			parts.params = append(parts.params, "")
			continue
		}
		for _, name := range field.Names {
			parts.params = append(parts.params, name.Name)
		}
	}
	if results := literal.Type.Results; results != nil {
		parts.results = src[offset(results.Pos()):offset(results.End())]
	}

	return parts
}

// extractLuaFunc splits `function(params) body end`.
func extractLuaFunc(src string) funcParts {
	degraded := funcParts{body: src, degraded: true}

	text := strings.TrimSpace(src)
	if !strings.HasPrefix(text, "function") {
		return degraded
	}
	rest := strings.TrimSpace(text[len("function"):])
	if !strings.HasPrefix(rest, "(") {
		return degraded
	}
	closing := strings.IndexByte(rest, ')')
	if closing < 0 {
		return degraded
	}
	inner := strings.TrimSpace(rest[closing+1:])
	if !strings.HasSuffix(inner, "end") {
		return degraded
	}

	parts := funcParts{body: strings.TrimSuffix(inner, "end")}
	for _, param := range strings.Split(rest[1:closing], ",") {
		param = strings.TrimSpace(param)
		if param == "" {
			continue
		}
		if !isLuaIdent(param) {
			param = ""
		}
		parts.params = append(parts.params, param)
	}

	return parts
}

var luaKeywords = map[string]bool{
	"and": true, "break": true, "do": true, "else": true, "elseif": true, "end": true,
	"false": true, "for": true, "function": true, "goto": true, "if": true, "in": true,
	"local": true, "nil": true, "not": true, "or": true, "repeat": true, "return": true,
	"then": true, "true": true, "until": true, "while": true,
}

func isLuaIdent(name string) bool {
	if name == "" || luaKeywords[name] {
		return false
	}
	for idx, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && idx > 0:
		default:
			return false
		}
	}

	return true
}
