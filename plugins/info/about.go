// Package info describes the bot.
package info

import "github.com/bloomdevelop/weasel/pkg/pluginapi"

var Command = pluginapi.Command{
	Name:        "about",
	Description: "Displays information about the bot.",
	Execute: func(message *pluginapi.Message, args []string) error {
		embed := pluginapi.NewEmbed("About").
			SetDescription("Command bot whose plugins are stored as text and rebuilt on every call.").
			AddField("Runtimes", "Go (yaegi), Lua (gopher-lua)")

		return message.ReplyEmbed(embed)
	},
}
