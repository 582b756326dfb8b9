package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/bloomdevelop/weasel/internal/plugin"
	"github.com/bloomdevelop/weasel/pkg/pluginapi"
)

// luaSynthesizer rebuilds Lua command bodies inside a fresh Lua state.
type luaSynthesizer struct{}

func (luaSynthesizer) Synthesize(descriptor plugin.Descriptor) (*executable, error) {
	L := plugin.NewLuaState()
	fn, unavailable, err := luaUnit(L, descriptor)
	if err != nil {
		L.Close()
		return nil, err
	}

	return &executable{
		unavailable: unavailable,
		release:     L.Close,
		run: func(message *pluginapi.Message, args []string, logger pluginapi.Logger) error {
			L.SetContext(message.Context())
			L.Push(fn)
			L.Push(luaMessage(L, message))
			L.Push(luaArgs(L, args))
			L.Push(luaLogger(L, logger))
			return L.PCall(3, 0, nil)
		},
	}, nil
}

// luaUnit compiles
//
//	local <bindings> = ...
//	<callable> = <source>
//	return function(message, args, logger) <body> end
//
// with data and placeholder bindings passed as chunk arguments.
func luaUnit(L *lua.LState, descriptor plugin.Descriptor) (*lua.LFunction, []string, error) {
	parts := extractLuaFunc(descriptor.Body)

	var (
		names       []string
		values      []lua.LValue
		callables   []string
		unavailable []string
	)
	for _, name := range descriptor.BindingNames() {
		if !isLuaIdent(name) {
			unavailable = append(unavailable, name)
			continue
		}
		binding := descriptor.Bindings[name]
		names = append(names, name)

		var decoded any
		if err := json.Unmarshal([]byte(binding.Value), &decoded); err == nil {
			values = append(values, goToLua(L, decoded))
			continue
		}
		if _, err := L.LoadString("return " + binding.Value); err == nil {
			values = append(values, lua.LNil)
			callables = append(callables, name+" = "+binding.Value)
			continue
		}
		values = append(values, unavailableLua(L, name))
		unavailable = append(unavailable, name)
	}

	var chunk strings.Builder
	if len(names) > 0 {
		fmt.Fprintf(&chunk, "local %s = ...\n", strings.Join(names, ", "))
	}
	for _, callable := range callables {
		chunk.WriteString(callable)
		chunk.WriteString("\n")
	}
	messageName := parts.param(0, "message")
	argsName := parts.param(1, "args")
	loggerName := "logger"
	if messageName == loggerName || argsName == loggerName {
		loggerName = "_"
	}
	fmt.Fprintf(&chunk, "return function(%s, %s, %s)\n%s\nend\n", messageName, argsName, loggerName, parts.body)

	factory, err := L.LoadString(chunk.String())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: compile %s: %w", plugin.ErrSynthesis, descriptor.Name, err)
	}
	L.Push(factory)
	for _, value := range values {
		L.Push(value)
	}
	if err := L.PCall(len(values), 1, nil); err != nil {
		return nil, nil, fmt.Errorf("%w: initialize %s: %w", plugin.ErrSynthesis, descriptor.Name, err)
	}
	fn, ok := L.Get(-1).(*lua.LFunction)
	L.Pop(1)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s did not produce a function", plugin.ErrSynthesis, descriptor.Name)
	}

	return fn, unavailable, nil
}

func goToLua(L *lua.LState, value any) lua.LValue {
	switch typed := value.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(typed)
	case float64:
		return lua.LNumber(typed)
	case string:
		return lua.LString(typed)
	case []any:
		table := L.CreateTable(len(typed), 0)
		for _, item := range typed {
			table.Append(goToLua(L, item))
		}
		return table
	case map[string]any:
		table := L.CreateTable(0, len(typed))
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			table.RawSetString(key, goToLua(L, typed[key]))
		}
		return table
	default:
		return lua.LString(fmt.Sprint(typed))
	}
}

func unavailableLua(L *lua.LState, name string) *lua.LFunction {
	return L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("%s", pluginapi.Unavailable(name).String())
		return 0
	})
}

// lastString returns the last argument as a string, so both message.reply(x) and
// message:reply(x) work.
func lastString(L *lua.LState) string {
	return L.CheckString(L.GetTop())
}

func luaMessage(L *lua.LState, message *pluginapi.Message) *lua.LTable {
	table := L.NewTable()
	table.RawSetString("id", lua.LString(message.ID))
	table.RawSetString("content", lua.LString(message.Content))
	table.RawSetString("conversation_id", lua.LString(message.ConversationID))

	author := L.NewTable()
	author.RawSetString("id", lua.LString(message.Author.ID))
	author.RawSetString("username", lua.LString(message.Author.Username))
	author.RawSetString("display_name", lua.LString(message.Author.DisplayName))
	author.RawSetString("is_bot", lua.LBool(message.Author.IsBot))
	table.RawSetString("author", author)

	for name, deliver := range map[string]func(string) error{
		"reply": message.Reply,
		"send":  message.Send,
		"react": message.React,
	} {
		deliver := deliver
		table.RawSetString(name, L.NewFunction(func(L *lua.LState) int {
			if err := deliver(lastString(L)); err != nil {
				L.RaiseError("%s", err.Error())
			}
			return 0
		}))
	}

	return table
}

func luaArgs(L *lua.LState, args []string) *lua.LTable {
	table := L.CreateTable(len(args), 0)
	for _, arg := range args {
		table.Append(lua.LString(arg))
	}

	return table
}

func luaLogger(L *lua.LState, logger pluginapi.Logger) *lua.LTable {
	table := L.NewTable()
	for name, log := range map[string]func(string, ...any){
		"debug": logger.Debug,
		"info":  logger.Info,
		"warn":  logger.Warn,
		"error": logger.Error,
	} {
		log := log
		table.RawSetString(name, L.NewFunction(func(L *lua.LState) int {
			log(lastString(L))
			return 0
		}))
	}

	return table
}
