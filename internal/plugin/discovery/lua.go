package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/bloomdevelop/weasel/internal/plugin"
)

// LuaLoader captures commands from Lua plugin files. A Lua plugin returns a table
// that is either one command or a table of commands and helpers.
type LuaLoader struct{}

// Load runs one Lua plugin chunk and inspects the table it returns.
func (LuaLoader) Load(ctx context.Context, path string, src []byte) ([]plugin.Descriptor, error) {
	L := plugin.NewLuaState()
	defer L.Close()
	if ctx != nil {
		L.SetContext(ctx)
	}

	chunk, err := L.Load(bytes.NewReader(src), path)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	L.Push(chunk)
	if err := L.PCall(0, 1, nil); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}
	exports, ok := L.Get(-1).(*lua.LTable)
	L.Pop(1)
	if !ok {
		return nil, fmt.Errorf("chunk must return a table")
	}

	unit := luaUnit{path: path, lines: strings.Split(string(src), "\n")}

	if isLuaCommand(exports) {
		descriptor, err := unit.command(exports)
		if err != nil {
			return nil, err
		}
		descriptor.Bindings = unit.bindings(exports, commandFields)
		return []plugin.Descriptor{descriptor}, nil
	}

	var descriptors []plugin.Descriptor
	captured := make(map[string]bool)
	for _, key := range sortedStringKeys(exports) {
		table, ok := exports.RawGetString(key).(*lua.LTable)
		if !ok || !isLuaCommand(table) {
			continue
		}
		descriptor, err := unit.command(table)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", key, err)
		}
		descriptors = append(descriptors, descriptor)
		captured[key] = true
	}
	if len(descriptors) == 0 {
		return nil, plugin.ErrNoCommand
	}

	bindings := unit.bindings(exports, captured)
	for idx := range descriptors {
		descriptors[idx].Bindings = bindings
	}

	return descriptors, nil
}

var commandFields = map[string]bool{"name": true, "description": true, "execute": true, "async": true}

func isLuaCommand(table *lua.LTable) bool {
	name, ok := table.RawGetString("name").(lua.LString)
	if !ok || strings.TrimSpace(string(name)) == "" {
		return false
	}
	if _, ok := table.RawGetString("description").(lua.LString); !ok {
		return false
	}
	execute, ok := table.RawGetString("execute").(*lua.LFunction)
	if !ok || execute.IsG || execute.Proto == nil {
		return false
	}

	return execute.Proto.NumParameters >= 1
}

type luaUnit struct {
	path  string
	lines []string
}

func (u luaUnit) command(table *lua.LTable) (plugin.Descriptor, error) {
	execute := table.RawGetString("execute").(*lua.LFunction)
	body, err := u.functionSource(execute, "execute")
	if err != nil {
		return plugin.Descriptor{}, err
	}

	return plugin.Descriptor{
		Name:        string(table.RawGetString("name").(lua.LString)),
		Description: string(table.RawGetString("description").(lua.LString)),
		Body:        MinifyLua(body),
		Source:      u.path,
		Runtime:     plugin.RuntimeLua,
		Async:       lua.LVAsBool(table.RawGetString("async")),
	}, nil
}

// functionSource recovers the function expression a prototype was defined by
// from its line range. hint is the table field holding the function; a
// candidate assigned to it, or declared under that name, wins over others on
// the same line. Named declarations lose their name.
func (u luaUnit) functionSource(fn *lua.LFunction, hint string) (string, error) {
	first := fn.Proto.LineDefined
	last := fn.Proto.LastLineDefined
	if first < 1 || last < first || last > len(u.lines) {
		return "", fmt.Errorf("function source lines %d-%d out of range", first, last)
	}
	text := strings.Join(u.lines[first-1:last], "\n")
	tokens := luaTokens(text)

	found := false
	var start, stop int
	for idx, tok := range tokens {
		if tok.text != "function" || tok.line != 0 {
			continue
		}
		closing, ok := blockEnd(tokens, idx)
		if !ok || tokens[closing].line != last-first {
			continue
		}
		if !found || namedBy(tokens, idx, hint) {
			start, stop = tok.offset, tokens[closing].offset+len("end")
			found = true
		}
		if namedBy(tokens, idx, hint) {
			break
		}
	}
	if !found {
		return "", errors.New("function source not found")
	}
	text = text[start+len("function") : stop]

	open := strings.IndexByte(text, '(')
	if open < 0 {
		return "", errors.New("function parameter list not found")
	}
	if name := strings.TrimSpace(text[:open]); name != "" && !isLuaName(name) {
		return "", fmt.Errorf("unexpected function header %q", name)
	}

	return "function" + text[open:], nil
}

// luaToken is a name, keyword or punctuation byte outside strings and
// comments. line counts newlines from the start of the scanned text.
type luaToken struct {
	text   string
	offset int
	line   int
}

func luaTokens(src string) []luaToken {
	var tokens []luaToken
	line := 0
	for pos := 0; pos < len(src); {
		c := src[pos]
		switch {
		case strings.HasPrefix(src[pos:], "--"):
			if closeAt, ok := longBracketEnd(src, pos+2); ok {
				line += strings.Count(src[pos:closeAt], "\n")
				pos = closeAt
				continue
			}
			next := strings.IndexByte(src[pos:], '\n')
			if next < 0 {
				return tokens
			}
			pos += next
		case c == '"' || c == '\'':
			end := quotedEnd(src, pos)
			line += strings.Count(src[pos:end], "\n")
			pos = end
		case c == '[':
			if closeAt, ok := longBracketEnd(src, pos); ok {
				line += strings.Count(src[pos:closeAt], "\n")
				pos = closeAt
				continue
			}
			tokens = append(tokens, luaToken{text: "[", offset: pos, line: line})
			pos++
		case c == '\n':
			line++
			pos++
		case c == ' ' || c == '\t' || c == '\r':
			pos++
		case isLuaWordByte(c):
			end := pos
			for end < len(src) && isLuaWordByte(src[end]) {
				end++
			}
			tokens = append(tokens, luaToken{text: src[pos:end], offset: pos, line: line})
			pos = end
		default:
			tokens = append(tokens, luaToken{text: src[pos : pos+1], offset: pos, line: line})
			pos++
		}
	}

	return tokens
}

func isLuaWordByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// blockEnd returns the index of the end token closing the function opened at
// tokens[open].
func blockEnd(tokens []luaToken, open int) (int, bool) {
	depth := 0
	for idx := open; idx < len(tokens); idx++ {
		switch tokens[idx].text {
		case "function", "if", "do", "repeat":
			depth++
		case "until":
			depth--
		case "end":
			depth--
			if depth == 0 {
				return idx, true
			}
		}
	}

	return 0, false
}

// namedBy reports whether the function at tokens[idx] is assigned to hint
// (hint = function) or declared as hint (function t.hint).
func namedBy(tokens []luaToken, idx int, hint string) bool {
	if hint == "" {
		return false
	}
	if idx >= 2 && tokens[idx-1].text == "=" && tokens[idx-2].text == hint {
		return true
	}
	var name strings.Builder
	for next := idx + 1; next < len(tokens) && tokens[next].text != "("; next++ {
		name.WriteString(tokens[next].text)
	}
	declared := name.String()

	return declared == hint || strings.HasSuffix(declared, "."+hint) || strings.HasSuffix(declared, ":"+hint)
}

func isLuaName(name string) bool {
	for _, r := range name {
		switch {
		case r == '_' || r == '.' || r == ':':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		default:
			return false
		}
	}

	return true
}

func (u luaUnit) bindings(exports *lua.LTable, excluded map[string]bool) map[string]plugin.Binding {
	bindings := make(map[string]plugin.Binding)
	for _, key := range sortedStringKeys(exports) {
		if excluded[key] {
			continue
		}
		switch value := exports.RawGetString(key).(type) {
		case *lua.LFunction:
			if value.IsG || value.Proto == nil {
				continue
			}
			source, err := u.functionSource(value, key)
			if err != nil {
				continue
			}
			bindings[key] = plugin.Binding{Kind: plugin.BindingCallable, Value: MinifyLua(source)}
		case *lua.LTable:
			data, err := luaToGo(value, 0)
			if err != nil {
				continue
			}
			encoded, err := json.Marshal(data)
			if err != nil {
				continue
			}
			bindings[key] = plugin.Binding{Kind: plugin.BindingData, Value: string(encoded)}
		}
	}
	if len(bindings) == 0 {
		return nil
	}

	return bindings
}

const maxLuaDepth = 32

// luaToGo converts plain Lua data to JSON-encodable Go values. Sequences become
// slices and string-keyed tables become maps.
func luaToGo(value lua.LValue, depth int) (any, error) {
	if depth > maxLuaDepth {
		return nil, errors.New("table nesting too deep")
	}

	switch typed := value.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(typed), nil
	case lua.LNumber:
		return float64(typed), nil
	case lua.LString:
		return string(typed), nil
	case *lua.LTable:
		if length := typed.Len(); length > 0 {
			items := make([]any, 0, length)
			for idx := 1; idx <= length; idx++ {
				item, err := luaToGo(typed.RawGetInt(idx), depth+1)
				if err != nil {
					return nil, err
				}
				items = append(items, item)
			}
			return items, nil
		}
		fields := make(map[string]any)
		var convErr error
		typed.ForEach(func(key lua.LValue, item lua.LValue) {
			if convErr != nil {
				return
			}
			name, ok := key.(lua.LString)
			if !ok {
				convErr = fmt.Errorf("unsupported table key %s", key.Type())
				return
			}
			fields[string(name)], convErr = luaToGo(item, depth+1)
		})
		if convErr != nil {
			return nil, convErr
		}
		return fields, nil
	default:
		return nil, fmt.Errorf("unsupported lua value %s", value.Type())
	}
}

func sortedStringKeys(table *lua.LTable) []string {
	var keys []string
	table.ForEach(func(key lua.LValue, _ lua.LValue) {
		if name, ok := key.(lua.LString); ok {
			keys = append(keys, string(name))
		}
	})
	sort.Strings(keys)

	return keys
}
