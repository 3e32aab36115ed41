package slackbot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"techsheet/internal/domain"
	"techsheet/internal/learning"
	"techsheet/internal/rules"
	"techsheet/internal/storage"
)

type post struct {
	channel   string
	user      string
	text      string
	ephemeral bool
}

type fakePoster struct {
	mu      sync.Mutex
	posts   []post
	failPub bool
}

func textOf(t *testing.T, channel string, opts []slack.MsgOption) string {
	t.Helper()
	_, vals, err := slack.UnsafeApplyMsgOptions("", channel, "", opts...)
	require.NoError(t, err)
	return vals.Get("text")
}

type recorder struct {
	t *testing.T
	*fakePoster
}

func (r recorder) PostMessage(channelID string, options ...slack.MsgOption) (string, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failPub {
		return "", "", errors.New("not_in_channel")
	}
	r.posts = append(r.posts, post{channel: channelID, text: textOf(r.t, channelID, options)})
	return channelID, "1700000000.000100", nil
}

func (r recorder) PostEphemeral(channelID, userID string, options ...slack.MsgOption) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posts = append(r.posts, post{channel: channelID, user: userID, text: textOf(r.t, channelID, options), ephemeral: true})
	return "1700000000.000200", nil
}

func (f *fakePoster) last() post {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.posts) == 0 {
		return post{}
	}
	return f.posts[len(f.posts)-1]
}

func newTestBot(t *testing.T) (*Bot, *fakePoster, *storage.MemoryStore, *learning.Coordinator) {
	t.Helper()
	now := time.Date(2026, 9, 20, 9, 0, 0, 0, time.UTC)
	c, err := learning.NewCoordinator(learning.DefaultConfig(), rules.Default(), nil,
		learning.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	fp := &fakePoster{}
	store := storage.NewMemoryStore()
	b := New(c, store, recorder{t: t, fakePoster: fp}, zaptest.NewLogger(t))
	b.now = func() time.Time { return now }
	return b, fp, store, c
}

func cmd(command, text string) slack.SlashCommand {
	return slack.SlashCommand{Command: command, Text: text, ChannelID: "C123", UserID: "U42"}
}

func TestSplitThird(t *testing.T) {
	cases := []struct {
		in    string
		want  string
		third bool
	}{
		{"third 1. Welcome\n2. Prayer", "1. Welcome\n2. Prayer", true},
		{"Third\n1. Welcome", "1. Welcome", true},
		{"--third Welcome", "Welcome", true},
		{"1. Welcome\n2. Third Sunday lunch", "1. Welcome\n2. Third Sunday lunch", false},
		{"thirdly Welcome", "thirdly Welcome", false},
	}
	for _, tc := range cases {
		got, third := splitThird(tc.in)
		assert.Equal(t, tc.want, got, tc.in)
		assert.Equal(t, tc.third, third, tc.in)
	}
}

func TestParseFix(t *testing.T) {
	row, values, err := parseFix(`2 scene="Band Wide" Camera=3 mic=N/A`)
	require.NoError(t, err)
	assert.Equal(t, 2, row)
	assert.Equal(t, map[domain.Field]string{
		domain.FieldScene:  "Band Wide",
		domain.FieldCamera: "3",
		domain.FieldMic:    "N/A",
	}, values)

	for _, bad := range []string{"", "x camera=1", "0 camera=1", "3", "3 lighting=red"} {
		_, _, err := parseFix(bad)
		assert.Error(t, err, bad)
	}
}

func TestSheetCommandPostsAndRemembers(t *testing.T) {
	b, fp, store, _ := newTestBot(t)
	ctx := context.Background()

	b.HandleCommand(ctx, cmd("/sheet", "third\n1. Welcome | Major Davies\n2. Worship Group\n3. Prayer"))

	p := fp.last()
	assert.False(t, p.ephemeral)
	assert.Equal(t, "C123", p.channel)
	assert.Contains(t, p.text, "third Sunday, RULE_BASED")
	assert.Contains(t, p.text, "Band Wide")
	assert.Contains(t, p.text, "/sheet-fix")
	assert.Equal(t, []string{"sheet:C123:U42"}, store.Keys())
}

func TestSheetCommandEmpty(t *testing.T) {
	b, fp, store, _ := newTestBot(t)
	b.HandleCommand(context.Background(), cmd("/sheet", "  "))

	p := fp.last()
	assert.True(t, p.ephemeral)
	assert.Contains(t, p.text, "Paste the running order")
	assert.Empty(t, store.Keys())
}

func TestSheetCommandFallsBackToEphemeral(t *testing.T) {
	b, fp, _, _ := newTestBot(t)
	fp.failPub = true
	b.HandleCommand(context.Background(), cmd("/sheet", "Welcome"))

	p := fp.last()
	assert.True(t, p.ephemeral)
	assert.Contains(t, p.text, "Welcome")
}

func TestFixCommandTeachesLearner(t *testing.T) {
	b, fp, _, c := newTestBot(t)
	ctx := context.Background()

	b.HandleCommand(ctx, cmd("/sheet-fix", "1 camera=2"))
	assert.Contains(t, fp.last().text, "Run `/sheet` first")

	b.HandleCommand(ctx, cmd("/sheet", "1. Welcome\n2. Offertory | Piano"))
	b.HandleCommand(ctx, cmd("/sheet-fix", `2 camera=2 scene="Piano Close"`))

	p := fp.last()
	assert.True(t, p.ephemeral)
	assert.Contains(t, p.text, "Learned row 2 (Offertory)")
	assert.Contains(t, p.text, "camera=2, scene=Piano Close")
	assert.Equal(t, 1, c.Status().TotalExamples)

	s, err := b.loadSheet(ctx, cmd("/sheet-fix", ""))
	require.NoError(t, err)
	assert.Equal(t, "Piano Close", s.Items[1].AI.Predictions[domain.FieldScene].Value)
	assert.Equal(t, 1.0, s.Items[1].AI.Predictions[domain.FieldScene].Confidence)

	b.HandleCommand(ctx, cmd("/sheet-fix", "7 camera=1"))
	assert.Contains(t, fp.last().text, "out of range")

	b.HandleCommand(ctx, cmd("/sheet-fix", "two camera=1"))
	assert.Contains(t, fp.last().text, "Usage")
}

func TestConcurrentFixesKeepEveryCorrection(t *testing.T) {
	b, _, _, c := newTestBot(t)
	ctx := context.Background()

	const rows = 8
	var order strings.Builder
	for i := 1; i <= rows; i++ {
		fmt.Fprintf(&order, "%d. Reading %d\n", i, i)
	}
	b.HandleCommand(ctx, cmd("/sheet", order.String()))

	var wg sync.WaitGroup
	for i := 1; i <= rows; i++ {
		wg.Add(1)
		go func(row int) {
			defer wg.Done()
			b.HandleCommand(ctx, cmd("/sheet-fix", fmt.Sprintf(`%d scene="Lectern %d"`, row, row)))
		}(i)
	}
	wg.Wait()

	s, err := b.loadSheet(ctx, cmd("/sheet-fix", ""))
	require.NoError(t, err)
	require.Len(t, s.Items, rows)
	for i, item := range s.Items {
		assert.Equal(t, fmt.Sprintf("Lectern %d", i+1), item.AI.Predictions[domain.FieldScene].Value, "row %d", i+1)
	}
	assert.Equal(t, rows, c.Status().TotalExamples)
}

func TestStatsAndHelp(t *testing.T) {
	b, fp, _, _ := newTestBot(t)

	b.HandleCommand(context.Background(), cmd("/sheet-stats", ""))
	p := fp.last()
	assert.True(t, p.ephemeral)
	assert.Contains(t, p.text, "RULE_BASED")
	assert.Contains(t, p.text, "PATTERN_LEARNING in 50 examples")

	b.HandleCommand(context.Background(), cmd("/sheet-help", ""))
	assert.Contains(t, fp.last().text, "/sheet-fix <row>")

	before := len(fp.posts)
	b.HandleCommand(context.Background(), cmd("/unknown", ""))
	assert.Len(t, fp.posts, before)
}
