// Package test holds smoke-test commands.
package test

import "github.com/bloomdevelop/weasel/pkg/pluginapi"

// Ping answers liveness checks.
var Ping = pluginapi.Command{
	Name:        "ping",
	Description: "Ping the bot to check if it's online.",
	Execute: func(message *pluginapi.Message, args []string) error {
		return message.Reply("Pong!")
	},
}
