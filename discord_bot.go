package main

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	defaultTopLimit = 10
	maxTopLimit     = 50
	commandCooldown = 3 * time.Second
	limiterEntryTTL = 30 * time.Minute
	historyRowLimit = 15
)

// discordBot is the chat front-end: it answers read commands from storage
// and hands write commands (refresh, add, delete) to the pipeline and the
// registry.
type discordBot struct {
	cfg      Config
	registry *Registry
	limiter  *userLimiter

	targetChannelIDs map[string]struct{}
}

// startDiscordBot connects the bot and blocks until the context is canceled.
// A missing token or channel list is a warning, not a fatal error: the
// scheduler keeps scraping without a chat front-end.
func startDiscordBot(ctx context.Context, cfg Config, registry *Registry) {
	if cfg.DiscordBotToken == "" {
		log.Println("[W] [Discord] DISCORD_BOT_TOKEN not set. Bot will not start.")
		return
	}
	if cfg.DiscordChannelIDs == "" {
		log.Println("[W] [Discord] DISCORD_CHANNEL_IDS not set. Bot will not start.")
		return
	}

	bot := &discordBot{
		cfg:              cfg,
		registry:         registry,
		limiter:          newUserLimiter(commandCooldown, limiterEntryTTL),
		targetChannelIDs: make(map[string]struct{}),
	}
	for _, id := range strings.Split(cfg.DiscordChannelIDs, ",") {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			bot.targetChannelIDs[trimmed] = struct{}{}
		}
	}
	if len(bot.targetChannelIDs) == 0 {
		log.Println("[W] [Discord] No valid channel IDs found in DISCORD_CHANNEL_IDS. Bot will not start.")
		return
	}

	dg, err := discordgo.New("Bot " + cfg.DiscordBotToken)
	if err != nil {
		log.Printf("[E] [Discord] Error creating session: %v", err)
		return
	}
	defer dg.Close()

	dg.AddHandler(bot.ready)
	dg.AddHandler(bot.messageCreate)
	dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	if err := dg.Open(); err != nil {
		log.Printf("[E] [Discord] Error opening connection: %v", err)
		return
	}

	log.Println("[I] [Discord] Bot is running. Waiting for shutdown signal...")
	<-ctx.Done()
	log.Println("[I] [Discord] Shutdown signal received. Closing connection...")
}

func (b *discordBot) ready(s *discordgo.Session, event *discordgo.Ready) {
	log.Printf("[I] [Discord] Connected as %v#%v.", s.State.User.Username, s.State.User.Discriminator)

	var listeningIDs []string
	for id := range b.targetChannelIDs {
		listeningIDs = append(listeningIDs, id)
	}
	sort.Strings(listeningIDs)
	log.Printf("[I] [Discord] Listening on %d channel(s): %s", len(listeningIDs), strings.Join(listeningIDs, ", "))
}

func (b *discordBot) messageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.ID == s.State.User.ID {
		return
	}
	if _, ok := b.targetChannelIDs[m.ChannelID]; !ok {
		return
	}
	if !strings.HasPrefix(m.Content, "!") {
		return
	}

	fields := strings.Fields(m.Content)
	command := strings.ToLower(fields[0])
	args := fields[1:]

	log.Printf("[I] [Discord] %s from '%s': %q", command, m.Author.Username, m.Content)

	if !b.limiter.Acquire(m.Author.ID) {
		b.reply(s, m.ChannelID, "⏳ Easy there! Give me a moment to finish your previous request.")
		return
	}

	go func() {
		defer b.limiter.Release(m.Author.ID)
		b.dispatch(s, m, command, args)
	}()
}

func (b *discordBot) dispatch(s *discordgo.Session, m *discordgo.MessageCreate, command string, args []string) {
	switch command {
	case "!guilds":
		b.reply(s, m.ChannelID, formatSourceList(b.registry.All()))
	case "!top":
		b.handleTop(s, m.ChannelID, args)
	case "!stats":
		b.handleStats(s, m.ChannelID, args)
	case "!history":
		b.handleHistory(s, m.ChannelID, args)
	case "!refresh":
		b.handleRefresh(s, m.ChannelID, args)
	case "!addguild":
		b.handleAddGuild(s, m.ChannelID, args)
	case "!delguild":
		b.handleDelGuild(s, m.ChannelID, args)
	case "!help":
		b.reply(s, m.ChannelID, helpText)
	}
}

const helpText = "**Available commands**\n" +
	"`!guilds` — list registered guilds\n" +
	"`!top <guild> [n]` — top contributors by total amount\n" +
	"`!stats <guild>` — donation statistics\n" +
	"`!history <guild>` — most recent donations\n" +
	"`!refresh <guild>` — scrape the donation page now\n" +
	"`!addguild <name> <url>` — register a guild donation page\n" +
	"`!delguild <name>` — remove a guild and its records\n" +
	"`!help` — this message"

// resolveSource maps the command argument to a registration, replying with a
// hint when it does not match.
func (b *discordBot) resolveSource(s *discordgo.Session, channelID string, args []string) (SourceRegistration, bool) {
	if len(args) == 0 {
		b.reply(s, channelID, "Please name a guild, e.g. `!stats myguild`. Use `!guilds` to see what is registered.")
		return SourceRegistration{}, false
	}
	src, ok := b.registry.Get(args[0])
	if !ok {
		b.reply(s, channelID, fmt.Sprintf("I don't know a guild called **%s**. Use `!guilds` to see what is registered.", args[0]))
		return SourceRegistration{}, false
	}
	return src, true
}

func (b *discordBot) handleTop(s *discordgo.Session, channelID string, args []string) {
	src, ok := b.resolveSource(s, channelID, args)
	if !ok {
		return
	}

	limit := defaultTopLimit
	if len(args) > 1 {
		if n, err := strconv.Atoi(args[1]); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxTopLimit {
		limit = maxTopLimit
	}

	totals, err := groupedTotals(src, limit)
	if err != nil {
		log.Printf("[E] [Discord] !top for '%s': %v", src.Name, err)
		b.reply(s, channelID, "😔 Sorry, I could not read the leaderboard right now. Please try again later.")
		return
	}
	b.reply(s, channelID, formatLeaderboard(src.Name, totals, limit))
}

func (b *discordBot) handleStats(s *discordgo.Session, channelID string, args []string) {
	src, ok := b.resolveSource(s, channelID, args)
	if !ok {
		return
	}

	stats, err := detailedStats(src)
	if err != nil {
		log.Printf("[E] [Discord] !stats for '%s': %v", src.Name, err)
		b.reply(s, channelID, "😔 Sorry, I could not read the statistics right now. Please try again later.")
		return
	}
	b.reply(s, channelID, formatStats(src.Name, stats))
}

func (b *discordBot) handleHistory(s *discordgo.Session, channelID string, args []string) {
	src, ok := b.resolveSource(s, channelID, args)
	if !ok {
		return
	}

	records, err := recentDonations(src, historyRowLimit)
	if err != nil {
		log.Printf("[E] [Discord] !history for '%s': %v", src.Name, err)
		b.reply(s, channelID, "😔 Sorry, I could not read the history right now. Please try again later.")
		return
	}
	b.reply(s, channelID, formatHistory(src.Name, records))
}

func (b *discordBot) handleRefresh(s *discordgo.Session, channelID string, args []string) {
	src, ok := b.resolveSource(s, channelID, args)
	if !ok {
		return
	}

	b.reply(s, channelID, fmt.Sprintf("🔄 Scraping **%s** now, this can take a minute...", src.Name))
	result, stats, outcome := runScrape(b.cfg, src)
	b.reply(s, channelID, formatDelta(src.Name, result, stats, outcome))
}

func (b *discordBot) handleAddGuild(s *discordgo.Session, channelID string, args []string) {
	if len(args) < 2 {
		b.reply(s, channelID, "Usage: `!addguild <name> <url>` — the url must be the guild's donation settings page.")
		return
	}

	src, err := b.registry.Add(args[0], args[1])
	if err != nil {
		b.reply(s, channelID, fmt.Sprintf("😔 Could not register that guild: %v", err))
		return
	}
	b.reply(s, channelID, fmt.Sprintf("✅ Registered **%s**. It will be scraped on the next cycle, or run `!refresh %s` now.", src.Name, src.Name))
}

func (b *discordBot) handleDelGuild(s *discordgo.Session, channelID string, args []string) {
	if len(args) == 0 {
		b.reply(s, channelID, "Usage: `!delguild <name>`.")
		return
	}

	if err := b.registry.Remove(args[0]); err != nil {
		b.reply(s, channelID, fmt.Sprintf("😔 Could not remove that guild: %v", err))
		return
	}
	b.reply(s, channelID, fmt.Sprintf("🗑️ Removed **%s** and all of its donation records.", args[0]))
}

// reply sends a message, chunking it when it exceeds the Discord size cap.
func (b *discordBot) reply(s *discordgo.Session, channelID, message string) {
	for _, part := range splitMessage(message) {
		if _, err := s.ChannelMessageSend(channelID, part); err != nil {
			log.Printf("[E] [Discord] Failed to send message to %s: %v", channelID, err)
			return
		}
	}
}
