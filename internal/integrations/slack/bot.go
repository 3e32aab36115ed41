package slackbot

import (
	"context"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"

	"techsheet/internal/learning"
	"techsheet/internal/sheet"
	"techsheet/internal/storage"
)

// Learner is the coordinator surface the bot drives.
type Learner interface {
	sheet.Learner
	Status() learning.Status
}

// Poster is the part of the Slack web API the bot writes with.
type Poster interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
	PostEphemeral(channelID, userID string, options ...slack.MsgOption) (string, error)
}

type Bot struct {
	learner Learner
	sheets  storage.Store
	api     Poster
	logger  *zap.Logger
	now     func() time.Time

	// sheetLocks holds one *sync.Mutex per sheetKey.
	sheetLocks sync.Map
}

// New returns a bot that keeps each user's last sheet in sheets.
func New(l Learner, sheets storage.Store, api Poster, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{learner: l, sheets: sheets, api: api, logger: logger, now: time.Now}
}

// Run serves slash commands over Socket Mode until ctx is done.
func (b *Bot) Run(ctx context.Context, api *slack.Client) error {
	client := socketmode.New(api)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-client.Events:
				if !ok {
					return
				}
				switch evt.Type {
				case socketmode.EventTypeConnected:
					b.logger.Info("slack bot connected via socket mode")
				case socketmode.EventTypeSlashCommand:
					client.Ack(*evt.Request)
					cmd, ok := evt.Data.(slack.SlashCommand)
					if !ok {
						continue
					}
					b.logger.Info("slash command received",
						zap.String("command", cmd.Command), zap.String("user", cmd.UserID), zap.String("channel", cmd.ChannelID))
					go b.HandleCommand(ctx, cmd)
				case socketmode.EventTypeEventsAPI, socketmode.EventTypeInteractive:
					client.Ack(*evt.Request)
				}
			}
		}
	}()

	return client.RunContext(ctx)
}

// lockSheet serialises commands that read and rewrite one user's stored
// sheet. Commands run concurrently, one goroutine each.
func (b *Bot) lockSheet(cmd slack.SlashCommand) func() {
	v, _ := b.sheetLocks.LoadOrStore(sheetKey(cmd.ChannelID, cmd.UserID), &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (b *Bot) postEphemeral(cmd slack.SlashCommand, text string) {
	if _, err := b.api.PostEphemeral(cmd.ChannelID, cmd.UserID, slack.MsgOptionText(text, false)); err != nil {
		b.logger.Warn("ephemeral post failed", zap.String("channel", cmd.ChannelID), zap.Error(err))
	}
}

func (b *Bot) postMessage(channelID, text string) error {
	_, _, err := b.api.PostMessage(channelID, slack.MsgOptionText(text, false))
	return err
}
