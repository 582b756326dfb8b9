// Package polls implements reaction polls.
package polls

import (
	"fmt"
	"strings"
	"time"

	"github.com/bloomdevelop/weasel/pkg/pluginapi"
)

// OptionsEmojis marks poll options in order.
var OptionsEmojis = []string{"1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣", "🔟"}

// FormatPollOptions renders one line per option.
func FormatPollOptions(options []string, emojis []string) string {
	lines := make([]string, 0, len(options))
	for index, option := range options {
		lines = append(lines, emojis[index]+" "+option)
	}

	return "Options:\n" + strings.Join(lines, "\n")
}

// Poll posts a question and one reaction per option.
var Poll = pluginapi.Command{
	Name:        "poll",
	Description: "Creates a poll with options (up to 10): question | option | option",
	Async:       true,
	Execute: func(message *pluginapi.Message, args []string) error {
		input := strings.Split(strings.Join(args, " "), "|")
		for index := range input {
			input[index] = strings.TrimSpace(input[index])
		}
		if len(input) < 3 {
			return message.Reply("A poll needs a question and at least two options.")
		}
		question, options := input[0], input[1:]
		if question == "" {
			return message.Reply("The poll question is missing.")
		}
		if len(options) > len(OptionsEmojis) {
			return message.Reply(fmt.Sprintf("A poll takes at most %d options.", len(OptionsEmojis)))
		}

		embed := pluginapi.NewEmbed(question).SetDescription(FormatPollOptions(options, OptionsEmojis))
		if err := message.ReplyEmbed(embed); err != nil {
			return err
		}
		for index := range options {
			if err := message.React(OptionsEmojis[index]); err != nil {
				return fmt.Errorf("add reaction %s: %w", OptionsEmojis[index], err)
			}
			time.Sleep(100 * time.Millisecond)
		}

		return nil
	},
}
