// Package system holds host-level commands.
package system

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/bloomdevelop/weasel/pkg/pluginapi"
)

var Command = pluginapi.Command{
	Name:        "shell",
	Description: "Executes a shell command on the host. Owner use only.",
	Async:       true,
	Execute: func(message *pluginapi.Message, args []string) error {
		const maxOutput = 1900
		if len(args) == 0 {
			return message.Reply("Please provide a command to run")
		}

		ctx, cancel := context.WithTimeout(message.Context(), 30*time.Second)
		defer cancel()

		line := strings.Join(args, " ")
		cmd := exec.CommandContext(ctx, "sh", "-c", line)
		var stdout, stderr strings.Builder
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		runErr := cmd.Run()

		exitCode := 0
		var exitErr *exec.ExitError
		switch {
		case errors.As(runErr, &exitErr):
			exitCode = exitErr.ExitCode()
		case runErr != nil:
			exitCode = -1
		}

		clip := func(text string) string {
			text = strings.ReplaceAll(text, "@", "@\u200b")
			if len(text) > maxOutput {
				return text[:maxOutput]
			}
			return text
		}
		status := "Success"
		if exitCode != 0 {
			status = "Failed"
		}
		embed := pluginapi.NewEmbed("Shell Command " + status).
			SetDescription(fmt.Sprintf("Command: %s\nExit Code: %d", clip(line), exitCode))
		if out := strings.TrimSpace(stdout.String()); out != "" {
			embed.AddField("Output", "```\n"+clip(out)+"\n```")
		}
		if out := strings.TrimSpace(stderr.String()); out != "" {
			embed.AddField("Error", "```\n"+clip(out)+"\n```")
		}
		if runErr != nil && exitErr == nil {
			embed.AddField("System Error", clip(runErr.Error()))
		}

		return message.ReplyEmbed(embed)
	},
}
