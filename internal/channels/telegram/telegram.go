// Package telegram is the Telegram channel adapter: credential
// lifecycle and address resolution over the Bot API.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/mymmrac/telego"

	"github.com/openclaw/clawd/internal/channels"
	"github.com/openclaw/clawd/internal/config"
)

// Adapter implements channels.Adapter for Telegram.
type Adapter struct {
	getCfg func() config.TelegramConfig

	mu  sync.Mutex
	bot *telego.Bot
	me  channels.Account
}

// New creates the adapter. The config is re-read on every Start so a
// token added via channels.add takes effect on the next login.
func New(getCfg func() config.TelegramConfig) *Adapter {
	return &Adapter{getCfg: getCfg}
}

func (a *Adapter) Name() string { return "telegram" }

func (a *Adapter) Configured() bool {
	cfg := a.getCfg()
	return cfg.Token != ""
}

func (a *Adapter) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bot != nil
}

func (a *Adapter) Capabilities() []string {
	return []string{"dm", "group", "media", "markdown", "reactions"}
}

// Start creates the bot client and verifies the token with getMe.
func (a *Adapter) Start(ctx context.Context) error {
	cfg := a.getCfg()
	if cfg.Token == "" {
		return fmt.Errorf("telegram token not configured")
	}

	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	me, err := bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}

	a.mu.Lock()
	a.bot = bot
	a.me = channels.Account{
		ID:          strconv.FormatInt(me.ID, 10),
		Username:    me.Username,
		DisplayName: me.FirstName,
	}
	a.mu.Unlock()

	slog.Info("telegram.connected", "username", me.Username)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	a.bot = nil
	a.me = channels.Account{}
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Probe(ctx context.Context) (channels.Account, error) {
	a.mu.Lock()
	bot := a.bot
	a.mu.Unlock()
	if bot == nil {
		return channels.Account{}, fmt.Errorf("telegram not logged in")
	}
	me, err := bot.GetMe(ctx)
	if err != nil {
		return channels.Account{}, fmt.Errorf("telegram getMe: %w", err)
	}
	return channels.Account{
		ID:          strconv.FormatInt(me.ID, 10),
		Username:    me.Username,
		DisplayName: me.FirstName,
	}, nil
}

// Resolve accepts a numeric chat id or an @username and returns the
// canonical chat id.
func (a *Adapter) Resolve(ctx context.Context, target string) (*channels.ResolveResult, error) {
	a.mu.Lock()
	bot := a.bot
	a.mu.Unlock()
	if bot == nil {
		return nil, fmt.Errorf("telegram not logged in")
	}

	var chatID telego.ChatID
	if id, err := strconv.ParseInt(target, 10, 64); err == nil {
		chatID = telego.ChatID{ID: id}
	} else {
		username := target
		if !strings.HasPrefix(username, "@") {
			username = "@" + username
		}
		chatID = telego.ChatID{Username: username}
	}

	chat, err := bot.GetChat(ctx, &telego.GetChatParams{ChatID: chatID})
	if err != nil {
		return nil, fmt.Errorf("telegram getChat %q: %w", target, err)
	}

	name := chat.Title
	if name == "" {
		name = strings.TrimSpace(chat.FirstName + " " + chat.LastName)
	}
	kind := "group"
	if chat.Type == telego.ChatTypePrivate {
		kind = "user"
	} else if chat.Type == telego.ChatTypeChannel {
		kind = "channel"
	}
	return &channels.ResolveResult{
		ID:   strconv.FormatInt(chat.ID, 10),
		Name: name,
		Kind: kind,
	}, nil
}
