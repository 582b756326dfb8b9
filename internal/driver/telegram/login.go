package telegram

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
)

// login reuses a stored session when it is still authorized, otherwise signs
// in with the bot token or the phone code flow.
func login(ctx context.Context, logger *slog.Logger, client *auth.Client, cfg Config) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.authTimeout)
	defer cancel()

	status, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("auth status: %w", err)
	}

	mode := "restored"
	switch {
	case status.Authorized:
	case cfg.BotToken != "":
		mode = "bot"
		if _, err := client.Bot(ctx, cfg.BotToken); err != nil {
			return fmt.Errorf("bot sign in: %w", err)
		}
	default:
		mode = "user"
		codes := auth.CodeAuthenticatorFunc(func(context.Context, *tg.AuthSentCode) (string, error) {
			return loginCode(cfg.Code, os.Stdin, os.Stderr)
		})
		user := auth.UserAuthenticator(auth.CodeOnly(cfg.Phone, codes))
		if cfg.Password != "" {
			user = auth.Constant(cfg.Phone, cfg.Password, codes)
		}
		if err := client.IfNecessary(ctx, auth.NewFlow(user, auth.SendCodeOptions{})); err != nil {
			return fmt.Errorf("user sign in: %w", err)
		}
	}
	logger.InfoContext(ctx, "telegram session ready", "mode", mode, "session_file", cfg.SessionFile)

	return nil
}

// loginCode returns configured when set, otherwise prompts on a terminal.
func loginCode(configured string, in *os.File, prompt io.Writer) (string, error) {
	if configured != "" {
		return configured, nil
	}

	info, err := in.Stat()
	if err != nil {
		return "", fmt.Errorf("stat stdin: %w", err)
	}
	if info.Mode()&os.ModeCharDevice == 0 {
		return "", errors.New("no login code configured and stdin is not a terminal")
	}

	fmt.Fprint(prompt, "Telegram login code: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read login code: %w", err)
	}
	if line = strings.TrimSpace(line); line == "" {
		return "", errors.New("empty login code")
	}

	return line, nil
}
