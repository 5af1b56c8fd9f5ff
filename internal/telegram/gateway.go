// Package telegram wraps the Telegram Bot API as the channel gateway for
// clock update ingestion.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Message is one channel post as seen by the ingestion pipeline.
type Message struct {
	ID          int64
	Text        string
	Date        time.Time
	PhotoFileID string
}

// ChannelInfo holds diagnostic information about the source channel.
type ChannelInfo struct {
	ID       int64
	Title    string
	Username string
}

// Gateway is the channel-message source consumed by the ingestion
// pipeline. Connect must be called before any retrieval; Disconnect
// releases the session and is safe to call unconditionally.
type Gateway interface {
	Connect(ctx context.Context) error
	Disconnect()

	// LatestMessages returns up to 'limit' channel posts, newest first.
	LatestMessages(ctx context.Context, limit int) ([]Message, error)

	// MessagesSince returns channel posts dated at or after minDate,
	// newest first. A zero minDate means no cutoff.
	MessagesSince(ctx context.Context, minDate time.Time) ([]Message, error)

	// MessageImage returns the photo bytes attached to a message, or nil
	// when the message has no photo or retrieval fails. Retrieval
	// problems are logged, never surfaced as errors.
	MessageImage(ctx context.Context, msg Message) []byte

	// ChannelInfo returns channel diagnostics.
	ChannelInfo(ctx context.Context) (*ChannelInfo, error)
}

// Lightweight token patterns for the persisted time_value fallback. Looser
// than the parser's normalizing patterns: the raw token is kept verbatim.
var tokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{1,2}:\d{2}`),
	regexp.MustCompile(`\d{1,2}\.\d{2}`),
}

// ExtractTimeToken returns the first raw time-like token in the text
// (e.g. "23:58" or "11.45"), or an empty string when none is present.
func ExtractTimeToken(text string) string {
	for _, pattern := range tokenPatterns {
		if match := pattern.FindString(text); match != "" {
			return match
		}
	}
	return ""
}

// botAPI is the slice of tgbotapi.BotAPI the gateway depends on, extracted
// so tests can substitute a fake.
type botAPI interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
	GetSelf() tgbotapi.User
}

// botFactory creates botAPI instances; swapped out in tests.
type botFactory func(token string, client *http.Client) (botAPI, error)

type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	return w.bot.GetUpdates(config)
}

func (w *tgBotWrapper) GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error) {
	return w.bot.GetFile(config)
}

func (w *tgBotWrapper) GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error) {
	return w.bot.GetChat(config)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

var defaultBotFactory botFactory = func(token string, client *http.Client) (botAPI, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

// updatePageSize is the Bot API maximum per getUpdates call.
const updatePageSize = 100

// maxUpdatePages bounds one fetch so a flooded queue cannot spin forever.
const maxUpdatePages = 50

// BotGateway implements Gateway over the Telegram Bot API.
type BotGateway struct {
	token      string
	channel    string
	bot        botAPI
	httpClient *http.Client
	factory    botFactory
	logger     *slog.Logger
}

// NewBotGateway creates a gateway for the given bot token and channel.
// The channel may be a "@username", a bare username, or a numeric chat ID.
func NewBotGateway(token, channel string, logger *slog.Logger) *BotGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &BotGateway{
		token:      token,
		channel:    channel,
		httpClient: http.DefaultClient,
		factory:    defaultBotFactory,
		logger:     logger.With("component", "telegram"),
	}
}

// Connect authenticates the bot token against the Bot API. It is scoped to
// one fetch call; callers pair it with a deferred Disconnect.
func (g *BotGateway) Connect(_ context.Context) error {
	if g.bot != nil {
		return nil
	}

	bot, err := g.factory(g.token, g.httpClient)
	if err != nil {
		return fmt.Errorf("failed to connect to Telegram: %w", err)
	}
	g.bot = bot

	g.logger.Info("Connected to Telegram API", "bot_username", bot.GetSelf().UserName)
	return nil
}

// Disconnect releases the bot session.
func (g *BotGateway) Disconnect() {
	if g.bot == nil {
		return
	}
	g.bot = nil
	g.logger.Info("Disconnected from Telegram API")
}

// LatestMessages returns up to 'limit' channel posts, newest first.
func (g *BotGateway) LatestMessages(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 5
	}

	messages, err := g.collectChannelPosts(ctx)
	if err != nil {
		return nil, err
	}

	if len(messages) > limit {
		messages = messages[:limit]
	}
	g.logger.Info("Retrieved messages from channel", "channel", g.channel, "count", len(messages))
	return messages, nil
}

// MessagesSince returns channel posts dated at or after minDate, newest
// first. A zero minDate disables the cutoff.
func (g *BotGateway) MessagesSince(ctx context.Context, minDate time.Time) ([]Message, error) {
	messages, err := g.collectChannelPosts(ctx)
	if err != nil {
		return nil, err
	}

	if minDate.IsZero() {
		return messages, nil
	}

	// Messages are newest-first; everything past the first message older
	// than the cutoff is out of the window.
	for i, msg := range messages {
		if msg.Date.Before(minDate) {
			messages = messages[:i]
			break
		}
	}
	g.logger.Info("Retrieved windowed messages from channel",
		"channel", g.channel, "min_date", minDate, "count", len(messages))
	return messages, nil
}

// collectChannelPosts drains the pending update queue and returns the
// posts of the configured channel, newest first. A failed getUpdates call
// is a connection-level error; malformed updates are skipped.
func (g *BotGateway) collectChannelPosts(ctx context.Context) ([]Message, error) {
	if g.bot == nil {
		return nil, fmt.Errorf("gateway is not connected")
	}

	var messages []Message
	offset := 0

	for page := 0; page < maxUpdatePages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cfg := tgbotapi.NewUpdate(offset)
		cfg.Limit = updatePageSize
		cfg.AllowedUpdates = []string{"channel_post"}

		updates, err := g.bot.GetUpdates(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch channel updates: %w", err)
		}
		if len(updates) == 0 {
			break
		}

		for _, update := range updates {
			offset = update.UpdateID + 1

			post := update.ChannelPost
			if post == nil || post.Chat == nil {
				continue
			}
			if !g.isTargetChannel(post.Chat) {
				g.logger.Debug("Skipping post from unrelated chat", "chat_id", post.Chat.ID)
				continue
			}
			messages = append(messages, toMessage(post))
		}

		if len(updates) < updatePageSize {
			break
		}
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Date.After(messages[j].Date)
	})
	return messages, nil
}

func (g *BotGateway) isTargetChannel(chat *tgbotapi.Chat) bool {
	want := strings.TrimPrefix(g.channel, "@")
	if id, err := strconv.ParseInt(want, 10, 64); err == nil {
		return chat.ID == id
	}
	return strings.EqualFold(chat.UserName, want)
}

func toMessage(post *tgbotapi.Message) Message {
	msg := Message{
		ID:   int64(post.MessageID),
		Text: post.Text,
		Date: time.Unix(int64(post.Date), 0).UTC(),
	}
	if msg.Text == "" {
		msg.Text = post.Caption
	}
	if len(post.Photo) > 0 {
		// Last photo size is the largest rendition.
		msg.PhotoFileID = post.Photo[len(post.Photo)-1].FileID
	}
	return msg
}

// MessageImage downloads the photo attached to a message. Any failure is
// logged and reported as "no image" so a broken attachment never aborts an
// ingestion batch.
func (g *BotGateway) MessageImage(ctx context.Context, msg Message) []byte {
	if msg.PhotoFileID == "" {
		return nil
	}
	if g.bot == nil {
		g.logger.Warn("Cannot download image, gateway is not connected", "message_id", msg.ID)
		return nil
	}

	file, err := g.bot.GetFile(tgbotapi.FileConfig{FileID: msg.PhotoFileID})
	if err != nil {
		g.logger.Warn("Failed to resolve photo file", "message_id", msg.ID, "error", err)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(g.token), nil)
	if err != nil {
		g.logger.Warn("Failed to build photo download request", "message_id", msg.ID, "error", err)
		return nil
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Warn("Failed to download photo", "message_id", msg.ID, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		g.logger.Warn("Unexpected status downloading photo", "message_id", msg.ID, "status", resp.StatusCode)
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		g.logger.Warn("Failed to read photo body", "message_id", msg.ID, "error", err)
		return nil
	}
	return data
}

// ChannelInfo returns id, title, and username of the configured channel.
func (g *BotGateway) ChannelInfo(_ context.Context) (*ChannelInfo, error) {
	if g.bot == nil {
		return nil, fmt.Errorf("gateway is not connected")
	}

	cfg := tgbotapi.ChatInfoConfig{}
	want := strings.TrimPrefix(g.channel, "@")
	if id, err := strconv.ParseInt(want, 10, 64); err == nil {
		cfg.ChatConfig = tgbotapi.ChatConfig{ChatID: id}
	} else {
		cfg.ChatConfig = tgbotapi.ChatConfig{SuperGroupUsername: "@" + want}
	}

	chat, err := g.bot.GetChat(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to get channel info: %w", err)
	}

	return &ChannelInfo{
		ID:       chat.ID,
		Title:    chat.Title,
		Username: chat.UserName,
	}, nil
}
