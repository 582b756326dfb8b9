package test

import (
	"strings"

	"github.com/bloomdevelop/weasel/pkg/pluginapi"
)

// Echo repeats its arguments.
var Echo = pluginapi.Command{
	Name:        "echo",
	Description: "Repeats your message content",
	Execute: func(message *pluginapi.Message, args []string) error {
		if len(args) == 0 {
			return message.Reply("Please provide a message content...")
		}
		content := strings.Join(args, " ")
		if strings.Contains(content, "@") {
			return message.Reply("You can't mention everyone or anyone else.")
		}

		return message.Reply(content)
	},
}
