package slackbot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"techsheet/internal/domain"
	"techsheet/internal/render"
	"techsheet/internal/sheet"
	"techsheet/internal/storage"
)

var fixPairRegex = regexp.MustCompile(`(\w+)=("[^"]*"|\S+)`)

func (b *Bot) HandleCommand(ctx context.Context, cmd slack.SlashCommand) {
	switch cmd.Command {
	case "/sheet":
		defer b.lockSheet(cmd)()
		b.handleSheet(ctx, cmd)
	case "/sheet-fix":
		defer b.lockSheet(cmd)()
		b.handleFix(ctx, cmd)
	case "/sheet-stats":
		b.handleStats(cmd)
	case "/sheet-help":
		b.handleHelp(cmd)
	default:
		b.logger.Debug("ignoring unknown command", zap.String("command", cmd.Command))
	}
}

func sheetKey(channelID, userID string) string {
	return "sheet:" + channelID + ":" + userID
}

// splitThird strips a leading "third" flag from the command text.
func splitThird(text string) (string, bool) {
	text = strings.TrimSpace(text)
	first, rest, _ := strings.Cut(text, " ")
	if f := strings.ToLower(strings.TrimSpace(first)); f == "third" || f == "--third" {
		return strings.TrimSpace(rest), true
	}
	// Slack may keep the newline after the flag.
	if first, rest, ok := strings.Cut(text, "\n"); ok && strings.EqualFold(strings.TrimSpace(first), "third") {
		return strings.TrimSpace(rest), true
	}
	return text, false
}

func (b *Bot) handleSheet(ctx context.Context, cmd slack.SlashCommand) {
	text, third := splitThird(cmd.Text)
	s, err := sheet.Build(ctx, b.learner, text, third, b.now())
	if errors.Is(err, sheet.ErrEmptyRunningOrder) {
		b.postEphemeral(cmd, "Paste the running order after the command, one item per line. Start with `third` for a third-Sunday service.")
		return
	}
	if err != nil {
		b.logger.Warn("sheet build failed", zap.Error(err))
		b.postEphemeral(cmd, fmt.Sprintf("Could not build the sheet: %v", err))
		return
	}
	if err := b.saveSheet(ctx, cmd, s); err != nil {
		b.logger.Warn("sheet not remembered", zap.String("user", cmd.UserID), zap.Error(err))
	}

	msg := codeBlock(render.Plain().Sheet(s)) +
		"\nFix a row with `/sheet-fix <row> camera=2 scene=\"Band Wide\"`. Rows marked `?` had no learned match."
	if err := b.postMessage(cmd.ChannelID, msg); err != nil {
		b.logger.Warn("sheet post failed", zap.String("channel", cmd.ChannelID), zap.Error(err))
		b.postEphemeral(cmd, codeBlock(render.Plain().Sheet(s)))
		return
	}
	b.logger.Info("sheet posted", zap.String("user", cmd.UserID), zap.Int("items", len(s.Items)), zap.String("phase", s.Phase))
}

// parseFix reads "<row> field=value ..." where values may be double quoted.
func parseFix(text string) (int, map[domain.Field]string, error) {
	text = strings.TrimSpace(text)
	rowText, rest, _ := strings.Cut(text, " ")
	row, err := strconv.Atoi(rowText)
	if err != nil || row < 1 {
		return 0, nil, fmt.Errorf("first argument must be a row number, got %q", rowText)
	}
	pairs := fixPairRegex.FindAllStringSubmatch(rest, -1)
	if len(pairs) == 0 {
		return 0, nil, errors.New("give at least one field=value")
	}
	values := make(map[domain.Field]string, len(pairs))
	for _, p := range pairs {
		f, ok := domain.ParseField(p[1])
		if !ok {
			return 0, nil, fmt.Errorf("unknown field %q (use camera, scene, mic, stream or notes)", p[1])
		}
		values[f] = strings.Trim(p[2], `"`)
	}
	return row, values, nil
}

func (b *Bot) handleFix(ctx context.Context, cmd slack.SlashCommand) {
	row, values, err := parseFix(cmd.Text)
	if err != nil {
		b.postEphemeral(cmd, "Usage: `/sheet-fix <row> field=value ...`. "+err.Error())
		return
	}
	s, err := b.loadSheet(ctx, cmd)
	if errors.Is(err, storage.ErrNotFound) {
		b.postEphemeral(cmd, "No sheet to fix yet. Run `/sheet` first.")
		return
	}
	if err != nil {
		b.logger.Warn("sheet load failed", zap.String("user", cmd.UserID), zap.Error(err))
		b.postEphemeral(cmd, fmt.Sprintf("Could not load your last sheet: %v", err))
		return
	}

	if err := sheet.Correct(ctx, b.learner, &s, row-1, values); err != nil {
		b.postEphemeral(cmd, err.Error())
		return
	}
	if err := b.saveSheet(ctx, cmd, s); err != nil {
		b.logger.Warn("corrected sheet not remembered", zap.String("user", cmd.UserID), zap.Error(err))
	}

	item := s.Items[row-1]
	var parts []string
	for _, f := range domain.TechFields {
		if v, ok := values[f]; ok {
			parts = append(parts, fmt.Sprintf("%s=%s", f, v))
		}
	}
	st := b.learner.Status()
	b.postEphemeral(cmd, fmt.Sprintf("Learned row %d (%s): %s. Phase %s, %d examples.",
		row, item.Title, strings.Join(parts, ", "), st.Phase, st.TotalExamples))
	b.logger.Info("sheet corrected", zap.String("user", cmd.UserID), zap.Int("row", row), zap.Int("fields", len(values)))
}

func (b *Bot) handleStats(cmd slack.SlashCommand) {
	b.postEphemeral(cmd, "*Learning status*\n"+codeBlock(render.Plain().Status(b.learner.Status())))
}

func (b *Bot) handleHelp(cmd slack.SlashCommand) {
	lines := []string{
		"*Production sheet commands*",
		"",
		"`/sheet <running order>` - Build a tech sheet, one item per line.",
		"`/sheet third <running order>` - Same, for a third-Sunday service.",
		"`/sheet-fix <row> field=value ...` - Correct a row of your last sheet. Fields: camera, scene, mic, stream, notes.",
		">*Example:* `/sheet-fix 2 scene=\"Band Wide\" mic=\"Band mics\"`",
		"`/sheet-stats` - Show how well the predictor is doing.",
		"`/sheet-help` - Show this help.",
	}
	b.postEphemeral(cmd, strings.Join(lines, "\n"))
}

func (b *Bot) saveSheet(ctx context.Context, cmd slack.SlashCommand, s sheet.Sheet) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode sheet: %w", err)
	}
	return b.sheets.Save(ctx, sheetKey(cmd.ChannelID, cmd.UserID), data)
}

func (b *Bot) loadSheet(ctx context.Context, cmd slack.SlashCommand) (sheet.Sheet, error) {
	var s sheet.Sheet
	data, err := b.sheets.Load(ctx, sheetKey(cmd.ChannelID, cmd.UserID))
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("decode sheet: %w", err)
	}
	return s, nil
}

func codeBlock(s string) string {
	return "```\n" + s + "\n```"
}
