package plugin

import (
	"fmt"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	lua "github.com/yuin/gopher-lua"

	"github.com/bloomdevelop/weasel/internal/plugin/symbols"
)

// PluginAPIPath is the import path plugin sources use for the host API.
const PluginAPIPath = "github.com/bloomdevelop/weasel/pkg/pluginapi"

// NewGoInterpreter creates a fresh yaegi interpreter with the standard library
// and the plugin API available.
func NewGoInterpreter() (*interp.Interpreter, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("use stdlib symbols: %w", err)
	}
	if err := i.Use(symbols.Symbols); err != nil {
		return nil, fmt.Errorf("use plugin api symbols: %w", err)
	}

	return i, nil
}

// NewLuaState creates a Lua state with only the base, table, string and math
// libraries open. Callers own Close.
func NewLuaState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	// base opens loaders that read the filesystem.
	for _, name := range []string{"dofile", "loadfile", "require"} {
		L.SetGlobal(name, lua.LNil)
	}

	return L
}
