// Package notify announces newly generated posts on chat channels.
// Notifications are fire-and-forget: a delivery failure is logged and never
// fails the generation that triggered it.
package notify

import (
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/slack-go/slack"

	"github.com/gitscribe/gitscribe/model"
)

// Notifier announces a generated post.
type Notifier interface {
	PostGenerated(post *model.Post) error
}

// Multi fans a notification out to several notifiers. Each notifier gets a
// chance to deliver even when an earlier one fails.
type Multi []Notifier

func (m Multi) PostGenerated(post *model.Post) error {
	for _, n := range m {
		if err := n.PostGenerated(post); err != nil {
			log.Printf("notify: %v", err)
		}
	}
	return nil
}

func summary(post *model.Post) string {
	return fmt.Sprintf("New post for %s: %s\n%s",
		post.Repository, post.Title, model.Truncate(post.Content, 300))
}

// SlackNotifier posts to a Slack channel.
type SlackNotifier struct {
	api     *slack.Client
	channel string
}

// NewSlack creates a Slack notifier for the given bot token and channel.
func NewSlack(botToken, channel string) *SlackNotifier {
	return &SlackNotifier{
		api:     slack.New(botToken),
		channel: channel,
	}
}

func (n *SlackNotifier) PostGenerated(post *model.Post) error {
	headerText := slack.NewTextBlockObject(slack.MarkdownType,
		fmt.Sprintf("*%s*\n_%s_", post.Title, post.Repository), false, false)
	headerSection := slack.NewSectionBlock(headerText, nil, nil)

	bodyText := slack.NewTextBlockObject(slack.MarkdownType,
		model.Truncate(post.Content, 2800), false, false)
	bodySection := slack.NewSectionBlock(bodyText, nil, nil)

	_, _, err := n.api.PostMessage(n.channel,
		slack.MsgOptionBlocks(headerSection, slack.NewDividerBlock(), bodySection),
	)
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	return nil
}

// TelegramNotifier sends to a Telegram chat.
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram creates a Telegram notifier for the given bot token and chat.
func NewTelegram(botToken string, chatID int64) (*TelegramNotifier, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	return &TelegramNotifier{api: api, chatID: chatID}, nil
}

func (n *TelegramNotifier) PostGenerated(post *model.Post) error {
	msg := tgbotapi.NewMessage(n.chatID, summary(post))
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("sending to telegram: %w", err)
	}
	return nil
}
