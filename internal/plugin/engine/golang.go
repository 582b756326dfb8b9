package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"path"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/traefik/yaegi/interp"
	"golang.org/x/tools/go/ast/astutil"

	"github.com/bloomdevelop/weasel/internal/plugin"
	"github.com/bloomdevelop/weasel/pkg/pluginapi"
)

const jsonPath = "encoding/json"

// goSynthesizer rebuilds Go command bodies inside a fresh yaegi interpreter.
type goSynthesizer struct{}

// Synthesize evaluates the unit, demoting to Unavailable every binding the
// interpreter rejects until the unit compiles or the fault lies outside the
// bindings.
func (goSynthesizer) Synthesize(descriptor plugin.Descriptor) (*executable, error) {
	unit := newGoUnit(descriptor)
	unavailable := unit.rejected()

	for {
		src, spans, err := unit.render(unavailable)
		if err != nil {
			return nil, err
		}

		i, err := plugin.NewGoInterpreter()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", plugin.ErrSynthesis, err)
		}
		if _, err := i.Eval(src); err != nil {
			name, ok := spans.at(err)
			if !ok || unavailable[name] {
				return nil, fmt.Errorf("%w: evaluate %s: %w", plugin.ErrSynthesis, descriptor.Name, err)
			}
			unavailable[name] = true
			continue
		}

		return goExecutable(i, descriptor.Name, sortedNames(unavailable))
	}
}

func goExecutable(i *interp.Interpreter, name string, unavailable []string) (*executable, error) {
	fn, err := i.Eval("Execute")
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %w", plugin.ErrSynthesis, name, err)
	}
	if fn.Kind() != reflect.Func {
		return nil, fmt.Errorf("%w: %s: Execute is %s", plugin.ErrSynthesis, name, fn.Kind())
	}

	return &executable{
		unavailable: unavailable,
		run: func(message *pluginapi.Message, args []string, logger pluginapi.Logger) error {
			results := fn.Call([]reflect.Value{
				reflect.ValueOf(message),
				reflect.ValueOf(args),
				reflect.ValueOf(&logger).Elem(),
			})
			for _, result := range results {
				if err, ok := result.Interface().(error); ok && err != nil {
					return err
				}
			}
			return nil
		},
	}, nil
}

// goUnitSource renders the unit with only statically rejected bindings
// replaced.
func goUnitSource(descriptor plugin.Descriptor) (string, []string, error) {
	unit := newGoUnit(descriptor)
	unavailable := unit.rejected()
	src, _, err := unit.render(unavailable)
	if err != nil {
		return "", nil, err
	}

	return src, sortedNames(unavailable), nil
}

// goUnit is a package main unit with the descriptor's bindings as
// package-level vars and its body as func Execute.
type goUnit struct {
	descriptor plugin.Descriptor
	parts      funcParts
	imports    []plugin.Import
	apiName    string
	jsonName   string
}

func newGoUnit(descriptor plugin.Descriptor) goUnit {
	imports, apiName, jsonName := unitImports(descriptor.Imports)

	return goUnit{
		descriptor: descriptor,
		parts:      extractGoFunc(descriptor.Body),
		imports:    imports,
		apiName:    apiName,
		jsonName:   jsonName,
	}
}

// rejected returns the bindings that are neither decodable data nor a
// function literal.
func (u goUnit) rejected() map[string]bool {
	rejected := make(map[string]bool)
	for _, name := range u.descriptor.BindingNames() {
		if _, ok := goBindingDecl(name, u.descriptor.Bindings[name], u.apiName, u.jsonName); !ok {
			rejected[name] = true
		}
	}

	return rejected
}

func (u goUnit) render(unavailable map[string]bool) (string, bindingSpans, error) {
	var unit strings.Builder
	unit.WriteString("package main\n\n")
	for _, spec := range u.imports {
		if spec.Name != "" {
			fmt.Fprintf(&unit, "import %s %q\n", spec.Name, spec.Path)
			continue
		}
		fmt.Fprintf(&unit, "import %q\n", spec.Path)
	}
	unit.WriteString("\n")

	for _, name := range u.descriptor.BindingNames() {
		decl := placeholderDecl(name, u.apiName)
		if !unavailable[name] {
			decl, _ = goBindingDecl(name, u.descriptor.Bindings[name], u.apiName, u.jsonName)
		}
		unit.WriteString(decl)
		unit.WriteString("\n\n")
	}

	messageName := u.parts.param(0, "message")
	argsName := u.parts.param(1, "args")
	loggerName := "logger"
	if messageName == loggerName || argsName == loggerName {
		loggerName = "_"
	}
	fmt.Fprintf(&unit, "func Execute(%s *%s.Message, %s []string, %s %s.Logger) %s {\n%s\n}\n",
		messageName, u.apiName,
		argsName,
		loggerName, u.apiName,
		u.parts.results,
		u.parts.body,
	)

	pruned, spans, err := pruneImports(unit.String())
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s: %w", plugin.ErrSynthesis, u.descriptor.Name, err)
	}

	return pruned, spans, nil
}

// bindingSpans maps each package-level var to its first and last line.
type bindingSpans map[string][2]int

var errorPosition = regexp.MustCompile(`(\d+):\d+: `)

// at names the binding whose declaration contains the position reported by
// err.
func (s bindingSpans) at(err error) (string, bool) {
	match := errorPosition.FindStringSubmatch(err.Error())
	if match == nil {
		return "", false
	}
	line, convErr := strconv.Atoi(match[1])
	if convErr != nil {
		return "", false
	}
	for name, span := range s {
		if line >= span[0] && line <= span[1] {
			return name, true
		}
	}

	return "", false
}

func sortedNames(set map[string]bool) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// unitImports returns the plugin's imports plus the plugin API and encoding/json,
// and the local names those two are reachable under.
func unitImports(declared []plugin.Import) ([]plugin.Import, string, string) {
	imports := append([]plugin.Import(nil), declared...)
	apiName, jsonName := "", ""
	for _, spec := range imports {
		switch spec.Path {
		case plugin.PluginAPIPath:
			apiName = localImportName(spec)
		case jsonPath:
			jsonName = localImportName(spec)
		}
	}
	if apiName == "" || apiName == "_" || apiName == "." {
		apiName = "pluginapi"
		imports = append(imports, plugin.Import{Name: "pluginapi", Path: plugin.PluginAPIPath})
	}
	if jsonName == "" || jsonName == "_" || jsonName == "." {
		jsonName = "json"
		imports = append(imports, plugin.Import{Name: "json", Path: jsonPath})
	}

	return imports, apiName, jsonName
}

func localImportName(spec plugin.Import) string {
	if spec.Name != "" {
		return spec.Name
	}

	return path.Base(spec.Path)
}

// goBindingDecl resolves one binding: JSON data that decodes into its type
// first, then a function literal, then an Unavailable placeholder. ok is false
// for the placeholder.
func goBindingDecl(name string, binding plugin.Binding, apiName string, jsonName string) (string, bool) {
	if json.Valid([]byte(binding.Value)) {
		valueType := binding.Type
		if valueType == "" || strings.Contains(valueType, ".") {
			valueType = "any"
		}
		if !decodesInto(binding.Value, valueType) {
			return placeholderDecl(name, apiName), false
		}
		return fmt.Sprintf(
			"var %s = func() (v %s) {\n\t_ = %s.Unmarshal([]byte(%s), &v)\n\treturn v\n}()",
			name, valueType, jsonName, strconv.Quote(binding.Value),
		), true
	}
	if expr, err := parser.ParseExpr(binding.Value); err == nil {
		if _, ok := expr.(*ast.FuncLit); ok {
			return fmt.Sprintf("var %s = %s", name, binding.Value), true
		}
	}

	return placeholderDecl(name, apiName), false
}

func placeholderDecl(name string, apiName string) string {
	return fmt.Sprintf("var %s = %s.Unavailable(%q)", name, apiName, name)
}

// decodesInto reports whether value unmarshals into valueType, checked in a
// scratch interpreter. Valid JSON always decodes into any.
func decodesInto(value string, valueType string) bool {
	if valueType == "any" {
		return true
	}

	i, err := plugin.NewGoInterpreter()
	if err != nil {
		return false
	}
	src := fmt.Sprintf(
		"package main\n\nimport \"encoding/json\"\n\nfunc decodes() bool {\n\tvar v %s\n\treturn json.Unmarshal([]byte(%s), &v) == nil\n}\n",
		valueType, strconv.Quote(value),
	)
	if _, err := i.Eval(src); err != nil {
		return false
	}
	result, err := i.Eval("decodes()")
	if err != nil || !result.IsValid() || result.Kind() != reflect.Bool {
		return false
	}

	return result.Bool()
}

// pruneImports drops imports the unit never references and reports where
// each package-level var ended up.
func pruneImports(src string) (string, bindingSpans, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "command.go", src, 0)
	if err != nil {
		return "", nil, fmt.Errorf("parse unit: %w", err)
	}

	for _, spec := range append([]*ast.ImportSpec(nil), file.Imports...) {
		importPath, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			continue
		}
		name := ""
		if spec.Name != nil {
			name = spec.Name.Name
		}
		if name == "_" || name == "." {
			continue
		}
		if !astutil.UsesImport(file, importPath) {
			astutil.DeleteNamedImport(fset, file, name, importPath)
		}
	}

	var out bytes.Buffer
	if err := format.Node(&out, fset, file); err != nil {
		return "", nil, fmt.Errorf("render unit: %w", err)
	}

	return out.String(), varSpans(out.String()), nil
}

func varSpans(src string) bindingSpans {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "command.go", src, parser.SkipObjectResolution)
	if err != nil {
		return nil
	}

	spans := make(bindingSpans)
	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.VAR {
			continue
		}
		for _, spec := range gen.Specs {
			value, ok := spec.(*ast.ValueSpec)
			if !ok {
				continue
			}
			span := [2]int{fset.Position(value.Pos()).Line, fset.Position(value.End()).Line}
			for _, ident := range value.Names {
				spans[ident.Name] = span
			}
		}
	}

	return spans
}
