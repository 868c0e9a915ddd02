package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Embed colours keyed on the kind of ledger event the title names.
const (
	colorDefault   = 0x3498db
	colorDisputed  = 0xe67e22
	colorEmergency = 0xe74c3c
	colorCancelled = 0x95a5a6
)

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Footer      *discordFooter `json:"footer,omitempty"`
}

type discordFooter struct {
	Text string `json:"text"`
}

type discordPayload struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

// DiscordSender posts ledger notifications to a Discord webhook as embeds.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts one embed. "key: value" lines of message become fields, the
// trailing slot/tx line becomes the footer and anything else is kept as
// the description. Discord answers 204.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	body, err := json.Marshal(discordPayload{
		Username: "marketd",
		Embeds:   []discordEmbed{buildEmbed(title, message)},
	})
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: webhook rejected %q (status %d): %s", title, resp.StatusCode, string(respBody))
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }

func buildEmbed(title, message string) discordEmbed {
	e := discordEmbed{Title: title, Color: embedColor(title)}
	var free []string
	for _, line := range strings.Split(message, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, "slot "):
			e.Footer = &discordFooter{Text: line}
		default:
			name, value, ok := strings.Cut(line, ": ")
			if !ok || strings.ContainsAny(name, "{\"") {
				free = append(free, line)
				continue
			}
			e.Fields = append(e.Fields, discordField{
				Name:   name,
				Value:  value,
				Inline: name != "market" && name != "reason",
			})
		}
	}
	e.Description = strings.Join(free, "\n")
	return e
}

func embedColor(title string) int {
	t := strings.ToLower(title)
	switch {
	case strings.HasPrefix(t, "emergency"):
		return colorEmergency
	case strings.HasPrefix(t, "proposal disputed"):
		return colorDisputed
	case strings.HasPrefix(t, "market cancelled"):
		return colorCancelled
	default:
		return colorDefault
	}
}
