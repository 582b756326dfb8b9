package weasel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bloomdevelop/weasel/pkg/pluginapi"
)

const (
	// ServiceCommandRunner is the registry key of the plugin command runner.
	ServiceCommandRunner = "weasel.command_runner"
	// ServiceCommandStats is the registry key of per-command invocation stats.
	ServiceCommandStats = "weasel.command_stats"
	// ServiceCatalogDiagnostics is the registry key of the catalog store diagnostics.
	ServiceCatalogDiagnostics = "weasel.catalog_diagnostics"
	// ServiceCommandSettings is the registry key of per-conversation command toggles.
	ServiceCommandSettings = "weasel.command_settings"
)

// CommandCandidate is a parsed command-looking message.
type CommandCandidate struct {
	// Prefix is the configured prefix that introduced the command.
	Prefix string
	// Name is the command name without prefix and mention suffix. Case is kept.
	Name string
	// Mention is the optional mention suffix from `<name>@<mention>`.
	Mention string
	// RawInput is the original untrimmed text.
	RawInput string
	// Args stores whitespace-separated tokens after the command name.
	Args []string
}

// ParseCommandCandidate parses one input text into a command candidate.
//
// matched is false when text does not start with prefix. When matched is true
// and the name is missing, err reports it and candidate holds what was parsed.
func ParseCommandCandidate(text string, prefix string) (candidate CommandCandidate, matched bool, err error) {
	candidate.RawInput = text
	if prefix == "" {
		return candidate, false, fmt.Errorf("parse command candidate: empty prefix")
	}

	trimmed := strings.TrimLeft(text, " \t\r\n")
	if !strings.HasPrefix(trimmed, prefix) {
		return candidate, false, nil
	}
	candidate.Prefix = prefix

	fields := strings.Fields(trimmed[len(prefix):])
	if len(fields) == 0 {
		return candidate, true, fmt.Errorf("parse command candidate: missing command name")
	}

	name, mention, _ := strings.Cut(fields[0], "@")
	candidate.Name = name
	candidate.Mention = mention
	if candidate.Name == "" {
		return candidate, true, fmt.Errorf("parse command candidate: missing command name")
	}
	candidate.Args = append([]string{}, fields[1:]...)

	return candidate, true, nil
}

// CommandOutcome reports one plugin command run.
type CommandOutcome struct {
	Command      string
	InvocationID string
	Duration     time.Duration
	// Fault is the captured execution failure; the runner already replied with it.
	Fault error
}

// CommandInfo describes one loaded plugin command.
type CommandInfo struct {
	Name        string
	Description string
	Runtime     string
	Async       bool
	Source      string
}

// CommandRunner executes plugin commands by name.
type CommandRunner interface {
	// RunCommand runs name against message. A lookup miss wraps ErrCommandNotFound.
	RunCommand(ctx context.Context, name string, args []string, message *pluginapi.Message) (CommandOutcome, error)
	// ListCommands returns loaded commands in catalog order.
	ListCommands() []CommandInfo
}

// CommandStat aggregates invocations of one command.
type CommandStat struct {
	Name          string
	Invocations   int
	Failures      int
	TotalDuration time.Duration
	LastDuration  time.Duration
	MaxDuration   time.Duration
	LastError     string
}

// CommandStatsProvider exposes aggregated invocation stats.
type CommandStatsProvider interface {
	CommandStats() []CommandStat
}

// CatalogDiagnostics exposes the catalog store log and allocation counters.
type CatalogDiagnostics interface {
	LogHex() string
	LogSize() int
	Cap() int
	Len() int
	Grows() int
	LogRecords() (int, error)
}

// CommandSettings stores per-conversation command toggles.
type CommandSettings interface {
	// IsDisabled reports whether name is disabled in conversation.
	IsDisabled(ctx context.Context, conversation string, name string) (bool, error)
	// Disable turns name off in conversation.
	Disable(ctx context.Context, conversation string, name string) error
	// Enable turns name back on in conversation.
	Enable(ctx context.Context, conversation string, name string) error
	// Disabled lists disabled names in conversation, sorted.
	Disabled(ctx context.Context, conversation string) ([]string, error)
}
