// Package pluginapi is the surface plugin sources compile against.
//
// Plugins are plain Go files that declare package-level values of type Command
// (or any struct with the same shape). The bot never links plugin packages: it
// loads them through an interpreter, stores the Execute source text, and rebuilds
// an executable from that text on every invocation.
package pluginapi

// Command is one invocable plugin action.
type Command struct {
	// Name is the unique invocation name, without the command prefix.
	Name string
	// Description is shown by help.
	Description string
	// Async marks commands whose body is awaited on its own goroutine.
	Async bool
	// Execute runs the command for one inbound message.
	Execute func(message *Message, args []string) error
}

// Logger is the structured logger handed to every execution.
//
// *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Unavailable is bound in place of a plugin export that could not be restored.
type Unavailable string

// String describes the missing binding.
func (u Unavailable) String() string {
	return "binding " + string(u) + " is unavailable"
}
