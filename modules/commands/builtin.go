package commands

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/bloomdevelop/weasel/pkg/bytesize"
	"github.com/bloomdevelop/weasel/pkg/pluginapi"
)

type builtin struct {
	usage       string
	description string
	run         func(ctx context.Context, message *pluginapi.Message, args []string) error
}

func (m *Module) builtinTable() map[string]builtin {
	return map[string]builtin{
		"help": {
			usage:       "help [command]",
			description: "list commands or describe one",
			run:         m.runHelp,
		},
		"buffer": {
			usage:       "buffer",
			description: "dump the command catalog log",
			run:         m.runBuffer,
		},
		"stats": {
			usage:       "stats",
			description: "show catalog, process and invocation stats",
			run:         m.runStats,
		},
		"disable": {
			usage:       "disable <command>",
			description: "turn a command off in this conversation",
			run:         m.runDisable,
		},
		"enable": {
			usage:       "enable <command>",
			description: "turn a command back on in this conversation",
			run:         m.runEnable,
		},
	}
}

func (m *Module) runHelp(_ context.Context, message *pluginapi.Message, args []string) error {
	infos := m.runner.ListCommands()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	if len(args) > 0 {
		name := strings.TrimPrefix(args[0], m.prefix)
		if entry, ok := m.builtins[name]; ok {
			return message.Reply(fmt.Sprintf("%s%s\n%s\n(built-in)", m.prefix, entry.usage, entry.description))
		}
		for _, info := range infos {
			if info.Name != name {
				continue
			}
			embed := pluginapi.NewEmbed(m.prefix+info.Name).
				SetDescription(info.Description).
				AddField("Runtime", info.Runtime).
				AddField("Async", strconv.FormatBool(info.Async))
			if info.Source != "" {
				embed.SetFooter(info.Source)
			}
			return message.ReplyEmbed(embed)
		}
		return message.Reply(unknownCommandReply)
	}

	lines := make([]string, 0, len(infos)+len(m.builtins)+2)
	lines = append(lines, "Available commands:")
	if len(infos) == 0 {
		lines = append(lines, "(none)")
	}
	for _, info := range infos {
		line := m.prefix + info.Name
		if description := strings.TrimSpace(info.Description); description != "" {
			line += " - " + description
		}
		lines = append(lines, line)
	}

	names := make([]string, 0, len(m.builtins))
	for name := range m.builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	for index, name := range names {
		names[index] = m.prefix + name
	}
	lines = append(lines, "", "Built-in: "+strings.Join(names, ", "))

	return message.Reply(strings.Join(lines, "\n"))
}

func (m *Module) runBuffer(_ context.Context, message *pluginapi.Message, _ []string) error {
	if m.diagnostics == nil {
		return message.Reply("Catalog diagnostics are not available")
	}

	hex := m.diagnostics.LogHex()
	size := bytesize.Format(uint64(len(hex)/2), m.units)
	if len(hex) > m.bufferPreview {
		hex = hex[:m.bufferPreview] + "..."
	}

	return message.Send(fmt.Sprintf("Buffer (%s): \n```\n%s\n```", size, hex))
}

func (m *Module) runStats(ctx context.Context, message *pluginapi.Message, _ []string) error {
	embed := pluginapi.NewEmbed("Stats")

	if m.diagnostics != nil {
		records := "unreadable"
		if count, err := m.diagnostics.LogRecords(); err != nil {
			m.logger.WarnContext(ctx, "catalog log replay failed", "error", err)
		} else {
			records = strconv.Itoa(count)
		}
		embed.AddField("Catalog", fmt.Sprintf(
			"entries: %d\nrecords: %s\nlog: %s of %s\ngrows: %d",
			m.diagnostics.Len(),
			records,
			bytesize.Format(uint64(m.diagnostics.LogSize()), m.units),
			bytesize.Format(uint64(m.diagnostics.Cap()), m.units),
			m.diagnostics.Grows(),
		))
	}

	if rss, err := m.readRSS(ctx); err != nil {
		m.logger.DebugContext(ctx, "process memory unavailable", "error", err)
	} else {
		embed.AddField("Process", "rss: "+bytesize.Format(rss, m.units))
	}

	if m.stats != nil {
		stats := m.stats.CommandStats()
		lines := make([]string, 0, len(stats))
		for _, stat := range stats {
			line := fmt.Sprintf("%s: %d runs, %d failed, avg %s, max %s",
				stat.Name,
				stat.Invocations,
				stat.Failures,
				averageDuration(stat.TotalDuration, stat.Invocations),
				stat.MaxDuration.Round(time.Microsecond),
			)
			lines = append(lines, line)
		}
		if len(lines) == 0 {
			lines = append(lines, "(no invocations)")
		}
		embed.AddField("Commands", strings.Join(lines, "\n"))
	}

	return message.ReplyEmbed(embed)
}

func averageDuration(total time.Duration, count int) time.Duration {
	if count <= 0 {
		return 0
	}

	return (total / time.Duration(count)).Round(time.Microsecond)
}

func (m *Module) runDisable(ctx context.Context, message *pluginapi.Message, args []string) error {
	name, ok, err := m.toggleTarget(message, args)
	if !ok || err != nil {
		return err
	}
	if err := m.settings.Disable(ctx, message.ConversationID, name); err != nil {
		return fmt.Errorf("disable %s: %w", name, err)
	}

	return message.Reply(fmt.Sprintf("Command %s disabled", name))
}

func (m *Module) runEnable(ctx context.Context, message *pluginapi.Message, args []string) error {
	name, ok, err := m.toggleTarget(message, args)
	if !ok || err != nil {
		return err
	}
	if err := m.settings.Enable(ctx, message.ConversationID, name); err != nil {
		return fmt.Errorf("enable %s: %w", name, err)
	}

	return message.Reply(fmt.Sprintf("Command %s enabled", name))
}

// toggleTarget validates a disable/enable argument. ok is false when a usage
// reply was sent instead.
func (m *Module) toggleTarget(message *pluginapi.Message, args []string) (string, bool, error) {
	if m.settings == nil {
		return "", false, message.Reply("Command settings are not available")
	}
	if len(args) != 1 {
		return "", false, message.Reply("Usage: " + m.prefix + "disable|enable <command>")
	}
	name := strings.TrimPrefix(args[0], m.prefix)
	if _, reserved := m.builtins[name]; reserved {
		return "", false, message.Reply(fmt.Sprintf("Command %s cannot be toggled", name))
	}

	return name, true, nil
}

func processRSS(ctx context.Context) (uint64, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return 0, fmt.Errorf("open process: %w", err)
	}
	info, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("read memory info: %w", err)
	}

	return info.RSS, nil
}
