package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"reflect"
	"strconv"
	"strings"

	"github.com/traefik/yaegi/interp"

	"github.com/bloomdevelop/weasel/internal/plugin"
	"github.com/bloomdevelop/weasel/pkg/pluginapi"
)

// DefaultExport is the package-level variable checked before named exports.
const DefaultExport = "Command"

var (
	messageType = reflect.TypeOf((*pluginapi.Message)(nil))
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// GoLoader captures commands from Go plugin files through the yaegi interpreter.
type GoLoader struct{}

// Load parses and evaluates one Go plugin file.
func (GoLoader) Load(_ context.Context, path string, src []byte) ([]plugin.Descriptor, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, 0)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	i, err := plugin.NewGoInterpreter()
	if err != nil {
		return nil, err
	}
	// Evaluated as main so exports resolve by bare name.
	if _, err := i.Eval(asMainPackage(fset, file, src)); err != nil {
		return nil, fmt.Errorf("interpret: %w", err)
	}

	unit := goUnit{
		fset:   fset,
		file:   file,
		src:    src,
		interp: i,
		path:   path,
	}
	unit.collect()

	return unit.capture()
}

type goUnit struct {
	fset   *token.FileSet
	file   *ast.File
	src    []byte
	interp *interp.Interpreter
	path   string

	varOrder []string
	vars     map[string]ast.Expr
	funcs    map[string]*ast.FuncDecl
	funcOrd  []string
}

func (u *goUnit) collect() {
	u.vars = make(map[string]ast.Expr)
	u.funcs = make(map[string]*ast.FuncDecl)
	for _, decl := range u.file.Decls {
		switch typed := decl.(type) {
		case *ast.FuncDecl:
			if typed.Recv != nil {
				continue
			}
			u.funcs[typed.Name.Name] = typed
			if typed.Name.IsExported() {
				u.funcOrd = append(u.funcOrd, typed.Name.Name)
			}
		case *ast.GenDecl:
			if typed.Tok != token.VAR {
				continue
			}
			for _, spec := range typed.Specs {
				valueSpec, ok := spec.(*ast.ValueSpec)
				if !ok {
					continue
				}
				for idx, name := range valueSpec.Names {
					if !name.IsExported() {
						continue
					}
					var value ast.Expr
					if idx < len(valueSpec.Values) {
						value = valueSpec.Values[idx]
					}
					u.varOrder = append(u.varOrder, name.Name)
					u.vars[name.Name] = value
				}
			}
		}
	}
}

func (u *goUnit) capture() ([]plugin.Descriptor, error) {
	captured := make(map[string]bool)
	var descriptors []plugin.Descriptor

	if _, ok := u.vars[DefaultExport]; ok {
		descriptor, matched, err := u.captureVar(DefaultExport)
		if err != nil {
			return nil, err
		}
		if matched {
			descriptors = append(descriptors, descriptor)
			captured[DefaultExport] = true
		}
	}
	if len(descriptors) == 0 {
		for _, name := range u.varOrder {
			if name == DefaultExport {
				continue
			}
			descriptor, matched, err := u.captureVar(name)
			if err != nil {
				return nil, err
			}
			if matched {
				descriptors = append(descriptors, descriptor)
				captured[name] = true
			}
		}
	}
	if len(descriptors) == 0 {
		return nil, plugin.ErrNoCommand
	}

	bindings := u.bindings(captured)
	imports := u.imports()
	for idx := range descriptors {
		descriptors[idx].Bindings = bindings
		descriptors[idx].Imports = imports
	}

	return descriptors, nil
}

// captureVar reports matched=false when the export does not have the command
// shape, and an error when it does but its execute source cannot be recovered.
func (u *goUnit) captureVar(name string) (plugin.Descriptor, bool, error) {
	value, err := u.interp.Eval(name)
	if err != nil {
		return plugin.Descriptor{}, false, fmt.Errorf("resolve %s: %w", name, err)
	}
	shape, ok := commandShapeOf(value)
	if !ok {
		return plugin.Descriptor{}, false, nil
	}

	body, err := u.executeSource(name)
	if err != nil {
		return plugin.Descriptor{}, false, fmt.Errorf("export %s: %w", name, err)
	}
	minified, err := MinifyGo(body)
	if err != nil {
		return plugin.Descriptor{}, false, fmt.Errorf("export %s: %w", name, err)
	}

	return plugin.Descriptor{
		Name:        shape.name,
		Description: shape.description,
		Body:        minified,
		Source:      u.path,
		Runtime:     plugin.RuntimeGo,
		Async:       shape.async,
	}, true, nil
}

type commandShape struct {
	name        string
	description string
	async       bool
}

func commandShapeOf(value reflect.Value) (commandShape, bool) {
	for value.Kind() == reflect.Pointer || value.Kind() == reflect.Interface {
		if value.IsNil() {
			return commandShape{}, false
		}
		value = value.Elem()
	}
	if value.Kind() != reflect.Struct {
		return commandShape{}, false
	}

	name := value.FieldByName("Name")
	description := value.FieldByName("Description")
	execute := value.FieldByName("Execute")
	if !name.IsValid() || name.Kind() != reflect.String {
		return commandShape{}, false
	}
	if !description.IsValid() || description.Kind() != reflect.String {
		return commandShape{}, false
	}
	if !execute.IsValid() || execute.Kind() != reflect.Func || execute.IsNil() {
		return commandShape{}, false
	}
	if !isExecuteSignature(execute.Type()) {
		return commandShape{}, false
	}

	shape := commandShape{name: name.String(), description: description.String()}
	if async := value.FieldByName("Async"); async.IsValid() && async.Kind() == reflect.Bool {
		shape.async = async.Bool()
	}

	return shape, strings.TrimSpace(shape.name) != ""
}

func isExecuteSignature(fnType reflect.Type) bool {
	if fnType.NumIn() < 1 || fnType.In(0) != messageType {
		return false
	}
	switch fnType.NumOut() {
	case 0:
		return true
	case 1:
		return fnType.Out(0) == errorType
	default:
		return false
	}
}

func (u *goUnit) executeSource(name string) (string, error) {
	expr := u.vars[name]
	if unary, ok := expr.(*ast.UnaryExpr); ok && unary.Op == token.AND {
		expr = unary.X
	}
	literal, ok := expr.(*ast.CompositeLit)
	if !ok {
		return "", fmt.Errorf("execute source not found: value is not a composite literal")
	}

	for _, element := range literal.Elts {
		pair, ok := element.(*ast.KeyValueExpr)
		if !ok {
			continue
		}
		key, ok := pair.Key.(*ast.Ident)
		if !ok || key.Name != "Execute" {
			continue
		}
		switch value := pair.Value.(type) {
		case *ast.FuncLit:
			return u.text(value.Pos(), value.End()), nil
		case *ast.Ident:
			decl, ok := u.funcs[value.Name]
			if !ok {
				return "", fmt.Errorf("execute refers to %s, which is not a top-level function", value.Name)
			}
			return u.funcDeclAsLiteral(decl)
		default:
			return "", fmt.Errorf("execute is not a function literal or top-level function")
		}
	}

	return "", fmt.Errorf("execute source not found: no keyed Execute field")
}

func (u *goUnit) funcDeclAsLiteral(decl *ast.FuncDecl) (string, error) {
	if decl.Body == nil {
		return "", fmt.Errorf("function %s has no body", decl.Name.Name)
	}
	if decl.Type.TypeParams != nil && len(decl.Type.TypeParams.List) > 0 {
		return "", fmt.Errorf("function %s is generic", decl.Name.Name)
	}

	return "func" + u.text(decl.Type.Params.Pos(), decl.Type.End()) + " " + u.text(decl.Body.Pos(), decl.Body.End()), nil
}

func (u *goUnit) bindings(captured map[string]bool) map[string]plugin.Binding {
	bindings := make(map[string]plugin.Binding)

	for _, name := range u.funcOrd {
		literal, err := u.funcDeclAsLiteral(u.funcs[name])
		if err != nil {
			continue
		}
		if minified, err := MinifyGo(literal); err == nil {
			bindings[name] = plugin.Binding{Kind: plugin.BindingCallable, Value: minified}
		}
	}

	for _, name := range u.varOrder {
		if name == DefaultExport || captured[name] {
			continue
		}
		if literal, ok := u.vars[name].(*ast.FuncLit); ok {
			if minified, err := MinifyGo(u.text(literal.Pos(), literal.End())); err == nil {
				bindings[name] = plugin.Binding{Kind: plugin.BindingCallable, Value: minified}
			}
			continue
		}

		value, err := u.interp.Eval(name)
		if err != nil {
			continue
		}
		if binding, ok := dataBinding(value); ok {
			bindings[name] = binding
		}
	}

	if len(bindings) == 0 {
		return nil
	}

	return bindings
}

// dataBinding encodes slices, arrays, maps and structs. Other values are not
// bindings.
func dataBinding(value reflect.Value) (plugin.Binding, bool) {
	if !value.IsValid() {
		return plugin.Binding{}, false
	}
	switch value.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct:
	default:
		return plugin.Binding{}, false
	}

	encoded, err := json.Marshal(value.Interface())
	if err != nil {
		return plugin.Binding{}, false
	}

	return plugin.Binding{
		Kind:  plugin.BindingData,
		Value: string(encoded),
		Type:  portableTypeExpr(value.Type()),
	}, true
}

// portableTypeExpr returns a type expression usable outside the defining file,
// or "" when the type refers to named types.
func portableTypeExpr(valueType reflect.Type) string {
	expr := valueType.String()
	if valueType.Name() != "" || strings.Contains(expr, ".") {
		return ""
	}
	if _, err := parser.ParseExpr(expr); err != nil {
		return ""
	}

	return expr
}

func (u *goUnit) imports() []plugin.Import {
	imports := make([]plugin.Import, 0, len(u.file.Imports))
	for _, spec := range u.file.Imports {
		path, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			continue
		}
		entry := plugin.Import{Path: path}
		if spec.Name != nil {
			entry.Name = spec.Name.Name
		}
		imports = append(imports, entry)
	}

	return imports
}

func (u *goUnit) text(from token.Pos, to token.Pos) string {
	return string(u.src[u.fset.Position(from).Offset:u.fset.Position(to).Offset])
}

func asMainPackage(fset *token.FileSet, file *ast.File, src []byte) string {
	start := fset.Position(file.Name.Pos()).Offset
	end := fset.Position(file.Name.End()).Offset

	return string(src[:start]) + "main" + string(src[end:])
}
