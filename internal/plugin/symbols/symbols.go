// Package symbols exports host packages to the plugin interpreter.
package symbols

import "reflect"

// Symbols maps import paths to their exported values, in the layout expected by
// interp.Interpreter.Use.
var Symbols = map[string]map[string]reflect.Value{}

//go:generate yaegi extract github.com/bloomdevelop/weasel/pkg/pluginapi
