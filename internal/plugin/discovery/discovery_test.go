package discovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/bloomdevelop/weasel/internal/plugin"
)

const pingSource = `package test

import "github.com/bloomdevelop/weasel/pkg/pluginapi"

// Ping answers with Pong!.
var Ping = pluginapi.Command{
	Name:        "ping",
	Description: "Replies with Pong!",
	Execute: func(message *pluginapi.Message, args []string) error {
		// reply once
		return message.Reply("Pong!")
	},
}
`

const aboutSource = `package info

import (
	"strings"

	"github.com/bloomdevelop/weasel/pkg/pluginapi"
)

var Links = []string{"docs", "source"}

var Version = "1.0"

var Extra = pluginapi.Command{
	Name:        "extra",
	Description: "never captured",
	Execute:     func(message *pluginapi.Message, args []string) error { return nil },
}

func Greeting(name string) string {
	return "hello " + strings.ToUpper(name)
}

func about(message *pluginapi.Message, args []string) error {
	return message.Reply(Greeting(message.Author.Username))
}

var Command = &pluginapi.Command{
	Name:        "about",
	Description: "About this bot",
	Async:       true,
	Execute:     about,
}
`

const echoAndShoutSource = `package test

import (
	"strings"

	"github.com/bloomdevelop/weasel/pkg/pluginapi"
)

var Echo = pluginapi.Command{
	Name:        "echo",
	Description: "Echoes its arguments",
	Execute: func(message *pluginapi.Message, args []string) error {
		return message.Reply(strings.Join(args, " "))
	},
}

type shoutCommand struct {
	Name        string
	Description string
	Execute     func(*pluginapi.Message, []string)
}

var Shout = shoutCommand{
	Name:        "shout",
	Description: "Shouts",
	Execute: func(message *pluginapi.Message, args []string) {
		_ = message.Reply(strings.ToUpper(strings.Join(args, " ")))
	},
}
`

const diceSource = `-- dice roller
local faces = { 1, 2, 3, 4, 5, 6 }

local function roll(count)
  local out = {}
  for i = 1, count do
    out[#out + 1] = faces[math.random(1, #faces)]
  end
  return table.concat(out, " ")
end

return {
  name = "dice",
  description = "Rolls dice",
  faces = faces,
  roll = roll,
  sides = 6,
  execute = function(message, args)
    local count = tonumber(args[1]) or 1
    message:reply(roll(count))
  end,
}
`

func TestDiscoverCountsCommandsAndSkips(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writePlugin(t, root, "test/ping.go", pingSource)
	writePlugin(t, root, "info/about.go", aboutSource)
	writePlugin(t, root, "fun/dice.lua", diceSource)
	writePlugin(t, root, "broken/syntax.go", "package broken\nvar = ")
	writePlugin(t, root, "broken/nocommand.go", "package broken\n\nvar Count = 3\n")
	writePlugin(t, root, "broken/number.lua", "return 42\n")
	writePlugin(t, root, "test/ping_test.go", "package test\n")
	writePlugin(t, root, "README.md", "# plugins\n")

	result, err := newTestService().Discover(context.Background(), root)
	if err != nil {
		t.Fatalf("discover failed: %v", err)
	}

	if got := result.Catalog.Names(); !slices.Equal(got, []string{"about", "dice", "ping"}) {
		t.Fatalf("catalog names = %v, want [about dice ping]", got)
	}
	if len(result.Skips) != 3 {
		t.Fatalf("skips = %+v, want 3 entries", result.Skips)
	}
	if len(result.Order) != 6 {
		t.Fatalf("order = %v, want 6 candidate files", result.Order)
	}
	if !slices.IsSorted(result.Order) {
		t.Fatalf("order = %v, want lexical traversal", result.Order)
	}
}

func TestDiscoverGoNamedExport(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writePlugin(t, root, "ping.go", pingSource)

	result, err := newTestService().Discover(context.Background(), root)
	if err != nil {
		t.Fatalf("discover failed: %v", err)
	}

	ping := result.Catalog["ping"]
	want := "func(message*pluginapi.Message,args[]string)error{return message.Reply(\"Pong!\")\n}"
	if ping.Body != want {
		t.Fatalf("body = %q, want %q", ping.Body, want)
	}
	if ping.Runtime != plugin.RuntimeGo || ping.Async {
		t.Fatalf("runtime/async = %s/%v, want go/false", ping.Runtime, ping.Async)
	}
	if len(ping.Imports) != 1 || ping.Imports[0].Path != plugin.PluginAPIPath {
		t.Fatalf("imports = %+v", ping.Imports)
	}
	if ping.Source != filepath.Join(root, "ping.go") {
		t.Fatalf("source = %q", ping.Source)
	}
}

func TestDiscoverGoDefaultExportWithBindings(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writePlugin(t, root, "about.go", aboutSource)

	result, err := newTestService().Discover(context.Background(), root)
	if err != nil {
		t.Fatalf("discover failed: %v", err)
	}
	if len(result.Catalog) != 1 {
		t.Fatalf("catalog = %v, want only the default export", result.Catalog.Names())
	}

	about := result.Catalog["about"]
	if !about.Async {
		t.Fatal("async = false, want true")
	}
	if !strings.HasPrefix(about.Body, "func(message*pluginapi.Message,args[]string)error{") {
		t.Fatalf("body = %q, want rendered top-level function", about.Body)
	}
	if got := about.BindingNames(); !slices.Equal(got, []string{"Greeting", "Links"}) {
		t.Fatalf("bindings = %v, want [Greeting Links]", got)
	}

	links := about.Bindings["Links"]
	if links.Kind != plugin.BindingData || links.Value != `["docs","source"]` || links.Type != "[]string" {
		t.Fatalf("links binding = %+v", links)
	}
	greeting := about.Bindings["Greeting"]
	if greeting.Kind != plugin.BindingCallable || !strings.HasPrefix(greeting.Value, "func(name string)string{") {
		t.Fatalf("greeting binding = %+v", greeting)
	}
}

func TestDiscoverGoStructuralShape(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writePlugin(t, root, "echo.go", echoAndShoutSource)

	result, err := newTestService().Discover(context.Background(), root)
	if err != nil {
		t.Fatalf("discover failed: %v", err)
	}
	if got := result.Catalog.Names(); !slices.Equal(got, []string{"echo", "shout"}) {
		t.Fatalf("catalog names = %v, want [echo shout]", got)
	}
	if result.Catalog["echo"].Bindings != nil {
		t.Fatalf("echo bindings = %v, want none", result.Catalog["echo"].Bindings)
	}
}

func TestDiscoverLua(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writePlugin(t, root, "dice.lua", diceSource)

	result, err := newTestService().Discover(context.Background(), root)
	if err != nil {
		t.Fatalf("discover failed: %v", err)
	}

	dice, ok := result.Catalog["dice"]
	if !ok {
		t.Fatalf("dice missing, skips = %+v", result.Skips)
	}
	wantBody := "function(message,args)\nlocal count=tonumber(args[1])or 1\nmessage:reply(roll(count))\nend"
	if dice.Body != wantBody {
		t.Fatalf("body = %q, want %q", dice.Body, wantBody)
	}
	if dice.Runtime != plugin.RuntimeLua {
		t.Fatalf("runtime = %s, want lua", dice.Runtime)
	}
	if got := dice.BindingNames(); !slices.Equal(got, []string{"faces", "roll"}) {
		t.Fatalf("bindings = %v, want [faces roll]", got)
	}
	if faces := dice.Bindings["faces"]; faces.Kind != plugin.BindingData || faces.Value != "[1,2,3,4,5,6]" {
		t.Fatalf("faces binding = %+v", faces)
	}
	if roll := dice.Bindings["roll"]; roll.Kind != plugin.BindingCallable || !strings.HasPrefix(roll.Value, "function(count)") {
		t.Fatalf("roll binding = %+v", roll)
	}
}

func TestDiscoverLuaFunctionLayouts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		src      string
		wantBody string
	}{
		{
			name:     "keyword inside a string on the same line",
			src:      `return { name = "greet", description = "a function that greets", execute = function(m) m:reply("hi") end }`,
			wantBody: `function(m)m:reply("hi")end`,
		},
		{
			name:     "trailing comment mentioning end",
			src:      "return {\n  name = \"greet\",\n  description = \"Greets\",\n  execute = function(m)\n    m:reply(\"hi\")\n  end, -- the end\n}\n",
			wantBody: "function(m)\nm:reply(\"hi\")\nend",
		},
		{
			name:     "nested blocks and an inline helper",
			src:      `return { name = "greet", description = "Greets", execute = function(m) local f = function() return "hi" end if f() then m:reply(f()) end end }`,
			wantBody: `function(m)local f=function()return "hi" end if f()then m:reply(f())end end`,
		},
		{
			name:     "end inside a long string",
			src:      "return {\n  name = \"greet\",\n  description = \"Greets\",\n  execute = function(m)\n    m:reply([[the end]])\n  end,\n}\n",
			wantBody: "function(m)\nm:reply([[the end]])\nend",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			descriptors, err := LuaLoader{}.Load(context.Background(), "greet.lua", []byte(testCase.src))
			if err != nil {
				t.Fatalf("load failed: %v", err)
			}
			if len(descriptors) != 1 {
				t.Fatalf("descriptors = %d, want 1", len(descriptors))
			}
			if got := descriptors[0].Body; got != testCase.wantBody {
				t.Fatalf("body = %q, want %q", got, testCase.wantBody)
			}
		})
	}
}

func TestDiscoverLuaNamedCommands(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writePlugin(t, root, "pair.lua", `
local greeting = "hi"
return {
  hello = { name = "hello", description = "Greets", execute = function(message) message:reply(greeting) end },
  bye = { name = "bye", description = "Leaves", async = true, execute = function(message) message:reply("bye") end },
  noexec = { name = "noexec", description = "No execute" },
}
`)

	result, err := newTestService().Discover(context.Background(), root)
	if err != nil {
		t.Fatalf("discover failed: %v", err)
	}
	if got := result.Catalog.Names(); !slices.Equal(got, []string{"bye", "hello"}) {
		t.Fatalf("catalog names = %v, want [bye hello]", got)
	}
	if !result.Catalog["bye"].Async {
		t.Fatal("bye async = false, want true")
	}
	if got := result.Catalog["hello"].BindingNames(); !slices.Equal(got, []string{"noexec"}) {
		t.Fatalf("hello bindings = %v, want [noexec]", got)
	}
}

func TestDiscoverDuplicateNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		files           map[string]string
		wantDescription string
		wantSkips       int
	}{
		{
			name: "second file lacks execute",
			files: map[string]string{
				"a/ping.go": defaultPing("x"),
				"b/ping.go": "package b\n\nvar Command = struct {\n\tName        string\n\tDescription string\n}{Name: \"ping\", Description: \"y\"}\n",
			},
			wantDescription: "x",
			wantSkips:       1,
		},
		{
			name: "both files valid",
			files: map[string]string{
				"a/ping.go": defaultPing("x"),
				"b/ping.go": defaultPing("y"),
			},
			wantDescription: "y",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			root := t.TempDir()
			for name, src := range testCase.files {
				writePlugin(t, root, name, src)
			}

			result, err := newTestService().Discover(context.Background(), root)
			if err != nil {
				t.Fatalf("discover failed: %v", err)
			}
			if len(result.Skips) != testCase.wantSkips {
				t.Fatalf("skips = %+v, want %d", result.Skips, testCase.wantSkips)
			}

			// The survivor must be the last defining file in actual traversal order.
			lastDefining := ""
			for _, path := range result.Order {
				if !slices.ContainsFunc(result.Skips, func(skip Skip) bool { return skip.Path == path }) {
					lastDefining = path
				}
			}
			ping := result.Catalog["ping"]
			if ping.Source != lastDefining {
				t.Fatalf("ping source = %s, want last defining file %s (order %v)", ping.Source, lastDefining, result.Order)
			}
			if ping.Description != testCase.wantDescription {
				t.Fatalf("ping description = %q, want %q", ping.Description, testCase.wantDescription)
			}
		})
	}
}

func TestDiscoverDuplicateFailPolicy(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writePlugin(t, root, "a/ping.go", defaultPing("x"))
	writePlugin(t, root, "b/ping.go", defaultPing("y"))

	service := New(WithLogger(discardLogger()), WithDuplicatePolicy(plugin.DuplicateFail))
	_, err := service.Discover(context.Background(), root)
	if !errors.Is(err, plugin.ErrDiscoveryAbort) || !errors.Is(err, plugin.ErrDuplicateCommand) {
		t.Fatalf("error = %v, want discovery abort on duplicate", err)
	}
}

func TestDiscoverAbortsOnMissingRoot(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		root func(t *testing.T) string
	}{
		{
			name: "missing",
			root: func(t *testing.T) string { return filepath.Join(t.TempDir(), "absent") },
		},
		{
			name: "file",
			root: func(t *testing.T) string {
				dir := t.TempDir()
				writePlugin(t, dir, "plain.go", "package plain\n")
				return filepath.Join(dir, "plain.go")
			},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := newTestService().Discover(context.Background(), testCase.root(t))
			if !errors.Is(err, plugin.ErrDiscoveryAbort) {
				t.Fatalf("error = %v, want %v", err, plugin.ErrDiscoveryAbort)
			}
		})
	}
}

type panicLoader struct{}

func (panicLoader) Load(context.Context, string, []byte) ([]plugin.Descriptor, error) {
	panic("loader exploded")
}

type fixedLoader struct {
	descriptors []plugin.Descriptor
}

func (l fixedLoader) Load(_ context.Context, path string, _ []byte) ([]plugin.Descriptor, error) {
	out := make([]plugin.Descriptor, len(l.descriptors))
	for idx, descriptor := range l.descriptors {
		descriptor.Source = path
		out[idx] = descriptor
	}
	return out, nil
}

func TestDiscoverRecoversLoaderPanicsAndValidates(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writePlugin(t, root, "bad.boom", "")
	writePlugin(t, root, "empty.fixed", "")
	writePlugin(t, root, "ok.go", pingSource)

	service := New(
		WithLogger(discardLogger()),
		WithLoader(".boom", panicLoader{}),
		WithLoader(".fixed", fixedLoader{descriptors: []plugin.Descriptor{{Name: "nobody", Runtime: plugin.RuntimeGo}}}),
	)
	result, err := service.Discover(context.Background(), root)
	if err != nil {
		t.Fatalf("discover failed: %v", err)
	}
	if len(result.Catalog) != 1 {
		t.Fatalf("catalog = %v, want [ping]", result.Catalog.Names())
	}
	if len(result.Skips) != 2 {
		t.Fatalf("skips = %+v, want 2", result.Skips)
	}
	if !strings.Contains(result.Skips[0].Reason, "loader exploded") {
		t.Fatalf("skip reason = %q, want panic text", result.Skips[0].Reason)
	}
}

func TestDiscoverCancelledContext(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writePlugin(t, root, "ping.go", pingSource)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := newTestService().Discover(ctx, root); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context canceled", err)
	}
}

func defaultPing(description string) string {
	return `package ping

import "github.com/bloomdevelop/weasel/pkg/pluginapi"

var Command = pluginapi.Command{
	Name:        "ping",
	Description: "` + description + `",
	Execute: func(message *pluginapi.Message, args []string) error {
		return message.Reply("Pong!")
	},
}
`
}

func newTestService() *Service {
	return New(WithLogger(discardLogger()))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writePlugin(t *testing.T, root string, name string, src string) {
	t.Helper()

	path := filepath.Join(root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
