package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gotd/td/session"
	gotdtelegram "github.com/gotd/td/telegram"

	"github.com/bloomdevelop/weasel/pkg/weasel"
)

const (
	defaultSessionFile = ".cache/telegram/session.json"
	defaultAuthTimeout = 3 * time.Minute
)

// Config is the driver block of the bot config. Either BotToken or Phone
// selects the login mode.
type Config struct {
	AppID          int    `json:"app_id"`
	AppHash        string `json:"app_hash"`
	BotToken       string `json:"bot_token"`
	Phone          string `json:"phone"`
	Password       string `json:"password"`
	Code           string `json:"code"`
	SessionFile    string `json:"session_file"`
	UpdateBuffer   int    `json:"update_buffer"`
	PublishTimeout string `json:"publish_timeout"`
	AuthTimeout    string `json:"auth_timeout"`

	publishTimeout time.Duration
	authTimeout    time.Duration
}

// ParseConfig decodes and normalizes a raw driver config.
func ParseConfig(raw []byte) (Config, error) {
	if len(raw) == 0 {
		return Config{}, errors.New("missing config")
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) normalize() error {
	for _, field := range []*string{&c.AppHash, &c.BotToken, &c.Phone, &c.Password, &c.Code, &c.SessionFile} {
		*field = strings.TrimSpace(*field)
	}
	if c.SessionFile == "" {
		c.SessionFile = defaultSessionFile
	}

	if c.AppID <= 0 {
		return errors.New("app_id must be > 0")
	}
	if c.AppHash == "" {
		return errors.New("app_hash is required")
	}
	if c.BotToken == "" && c.Phone == "" {
		return errors.New("one of bot_token or phone is required")
	}

	var err error
	if c.publishTimeout, err = durationField("publish_timeout", c.PublishTimeout, defaultPublishTimeout); err != nil {
		return err
	}
	if c.authTimeout, err = durationField("auth_timeout", c.AuthTimeout, defaultAuthTimeout); err != nil {
		return err
	}

	return nil
}

func durationField(name string, raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}

	value, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %w", name, err)
	case value <= 0:
		return 0, fmt.Errorf("%s: must be > 0, got %s", name, value)
	}

	return value, nil
}

// Runtime is everything one Telegram account contributes to the bot. Driver
// and Sink share a single gotd client.
type Runtime struct {
	Source weasel.EventSource
	Driver *Driver
	Sink   *SinkDispatcher
}

// BuildRuntime connects the gotd client, session file, update pipeline and
// outbound sink described by raw.
func BuildRuntime(name string, logger *slog.Logger, raw []byte) (Runtime, error) {
	cfg, err := ParseConfig(raw)
	if err != nil {
		return Runtime{}, fmt.Errorf("telegram config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if name == "" {
		name = DriverType
	}
	logger = logger.With("driver", name)

	storage, err := openSessionFile(cfg.SessionFile)
	if err != nil {
		return Runtime{}, fmt.Errorf("telegram session: %w", err)
	}

	updates := NewUpdateChannel(cfg.UpdateBuffer)
	client := gotdtelegram.NewClient(cfg.AppID, cfg.AppHash, gotdtelegram.Options{
		UpdateHandler:  updates,
		SessionStorage: storage,
	})
	runner, err := NewClientSession(client, func(ctx context.Context) error {
		return login(ctx, logger, client.Auth(), cfg)
	})
	if err != nil {
		return Runtime{}, err
	}

	dropped := func(ctx context.Context, err error) {
		logger.WarnContext(ctx, "telegram update dropped", "error", err)
	}
	peers := NewPeerCache()
	source, err := NewGotdSource(runner, updates, NewMessageMapper(peers), dropped)
	if err != nil {
		return Runtime{}, err
	}
	driver, err := NewDriver(source,
		WithName(name),
		WithPublishTimeout(cfg.publishTimeout),
		WithErrorHandler(dropped),
	)
	if err != nil {
		return Runtime{}, err
	}
	sink, err := NewOutboundDispatcher(client, peers,
		WithOutboundTimeout(cfg.publishTimeout),
		WithOutboundLogger(logger),
		WithSinkID(name),
	)
	if err != nil {
		return Runtime{}, err
	}

	return Runtime{
		Source: weasel.EventSource{Platform: DriverPlatform, ID: name},
		Driver: driver,
		Sink:   sink,
	}, nil
}

func openSessionFile(path string) (*session.FileStorage, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("empty session file path")
	}

	absolute, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(absolute), 0o700); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	return &session.FileStorage{Path: absolute}, nil
}
