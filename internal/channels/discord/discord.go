// Package discord is the Discord channel adapter: credential lifecycle
// and address resolution over a gateway session.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/openclaw/clawd/internal/channels"
	"github.com/openclaw/clawd/internal/config"
)

// Adapter implements channels.Adapter for Discord.
type Adapter struct {
	getCfg func() config.DiscordConfig

	mu      sync.Mutex
	session *discordgo.Session
	me      channels.Account
}

// New creates the adapter. The config is re-read on every Start.
func New(getCfg func() config.DiscordConfig) *Adapter {
	return &Adapter{getCfg: getCfg}
}

func (a *Adapter) Name() string { return "discord" }

func (a *Adapter) Configured() bool {
	return a.getCfg().Token != ""
}

func (a *Adapter) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session != nil
}

func (a *Adapter) Capabilities() []string {
	return []string{"dm", "group", "media", "markdown", "threads"}
}

// Start opens the gateway session and verifies the token.
func (a *Adapter) Start(ctx context.Context) error {
	cfg := a.getCfg()
	if cfg.Token == "" {
		return fmt.Errorf("discord token not configured")
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsDirectMessages

	if err := session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	user, err := session.User("@me")
	if err != nil {
		session.Close()
		return fmt.Errorf("discord identity check: %w", err)
	}

	a.mu.Lock()
	a.session = session
	a.me = channels.Account{ID: user.ID, Username: user.Username, DisplayName: user.GlobalName}
	a.mu.Unlock()

	slog.Info("discord.connected", "username", user.Username)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	session := a.session
	a.session = nil
	a.me = channels.Account{}
	a.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.Close()
}

func (a *Adapter) Probe(ctx context.Context) (channels.Account, error) {
	a.mu.Lock()
	session := a.session
	a.mu.Unlock()
	if session == nil {
		return channels.Account{}, fmt.Errorf("discord not logged in")
	}
	user, err := session.User("@me")
	if err != nil {
		return channels.Account{}, fmt.Errorf("discord identity check: %w", err)
	}
	return channels.Account{ID: user.ID, Username: user.Username, DisplayName: user.GlobalName}, nil
}

// Resolve maps a snowflake to a channel or user. Channels are tried
// first since most targets are channel ids.
func (a *Adapter) Resolve(ctx context.Context, target string) (*channels.ResolveResult, error) {
	a.mu.Lock()
	session := a.session
	a.mu.Unlock()
	if session == nil {
		return nil, fmt.Errorf("discord not logged in")
	}

	if ch, err := session.Channel(target); err == nil {
		kind := "channel"
		if ch.Type == discordgo.ChannelTypeDM {
			kind = "user"
		} else if ch.Type == discordgo.ChannelTypeGuildText {
			kind = "group"
		}
		return &channels.ResolveResult{ID: ch.ID, Name: ch.Name, Kind: kind}, nil
	}

	user, err := session.User(target)
	if err != nil {
		return nil, fmt.Errorf("discord resolve %q: %w", target, err)
	}
	return &channels.ResolveResult{ID: user.ID, Name: user.Username, Kind: "user"}, nil
}
