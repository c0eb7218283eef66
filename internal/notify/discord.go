package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Embed colours by event.
var discordColors = map[string]int{
	EventCycleDegraded:   0xE74C3C,
	EventSpreadAlert:     0xF39C12,
	EventOutliersDropped: 0xF39C12,
	EventArchiveDone:     0x2ECC71,
}

const discordDefaultColor = 0x95A5A6

type discordPayload struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

// DiscordSender posts alerts to a Discord webhook as a single embed.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
	now        func() time.Time
}

// NewDiscordSender creates a DiscordSender.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: webhookClient, now: time.Now}
}

// Send posts the alert. The embed colour follows the event.
func (d *DiscordSender) Send(ctx context.Context, a Alert) error {
	color, ok := discordColors[a.Event]
	if !ok {
		color = discordDefaultColor
	}
	payload := discordPayload{
		Username: "KAS oracle",
		Embeds: []discordEmbed{{
			Title:       a.Title,
			Description: a.Message,
			Color:       color,
			Timestamp:   d.now().UTC().Format(time.RFC3339),
		}},
	}
	if err := postJSON(ctx, d.client, d.webhookURL, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string { return "discord" }
