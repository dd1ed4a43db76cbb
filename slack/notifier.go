package slack

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/slack-go/slack"
)

// Notifier posts operational alerts to a channel.
type Notifier struct {
	client  *slack.Client
	channel string
}

func NewNotifier(client *slack.Client, channel string) *Notifier {
	return &Notifier{client: client, channel: channel}
}

// Notify posts title with fields rendered as a sorted key/value list.
func (n *Notifier) Notify(ctx context.Context, title string, fields map[string]string) error {
	if n == nil || n.client == nil || n.channel == "" {
		return errors.New("slack notifier is not configured")
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var fieldObjects []*slack.TextBlockObject
	for _, k := range keys {
		fieldObjects = append(fieldObjects, slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*%s*\n%s", k, fields[k]), false, false))
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, ":rotating_light: "+title, false, false)),
	}
	if len(fieldObjects) > 0 {
		blocks = append(blocks, slack.NewSectionBlock(nil, fieldObjects, nil))
	}

	_, _, err := n.client.PostMessageContext(
		ctx,
		n.channel,
		slack.MsgOptionText(title, false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return fmt.Errorf("posting alert: %w", err)
	}
	return nil
}
