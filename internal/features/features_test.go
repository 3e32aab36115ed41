package features

import (
	"testing"
	"unicode"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"  SASB 123  Amazing Grace! ", "sasbNUM amazing grace"},
		{"SOF 456 - Here I Am to Worship WG", "sofNUM - here i am to worship wg"},
		{"Reading: Psalm 23 (NIV)", "reading psalm NUM niv"},
		{"Well-known   tune...", "well-known tune"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.input), "Normalize(%q)", tt.input)
	}
}

func TestNormalizeHasNoDigitsOrPunctuation(t *testing.T) {
	faker := gofakeit.New(42)
	inputs := []string{"1. Welcome & Notices (Captain J. Smith)", "Song #12: 'Blessed Assurance' – 3 verses"}
	for i := 0; i < 200; i++ {
		inputs = append(inputs, faker.Sentence(8)+" "+faker.Numerify("### - (##)")+" "+faker.HipsterPhrase())
	}

	for _, in := range inputs {
		out := Normalize(in)
		for _, r := range out {
			require.False(t, unicode.IsDigit(r), "digit %q in Normalize(%q) = %q", r, in, out)
			if unicode.IsPunct(r) || unicode.IsSymbol(r) {
				require.Equal(t, '-', r, "punctuation %q in Normalize(%q) = %q", r, in, out)
			}
		}
	}
}

func TestExtractSongItem(t *testing.T) {
	fs := Extract("SOF 456 - Here I Am to Worship WG")

	assert.Equal(t, ContentSong, fs.ContentType)
	assert.Equal(t, PerformerWorshipGroup, fs.PerformerType)
	assert.Equal(t, SongSOF, fs.SongType)
	assert.True(t, fs.HasNumbers)
	assert.True(t, fs.HasSongNumber)
	assert.True(t, fs.HasPerformer)
	assert.False(t, fs.StartsWithNumber)
	assert.False(t, fs.HasParentheses)
	assert.Contains(t, fs.ImportantKeywords, "sof")
	assert.Contains(t, fs.ImportantKeywords, "worship")
	assert.Contains(t, fs.ImportantKeywords, "wg")
	assert.Equal(t, 8, fs.WordCount)
}

func TestExtractPianoSolo(t *testing.T) {
	fs := Extract("SASB 234 Piano Solo")

	assert.Equal(t, ContentSong, fs.ContentType)
	assert.Equal(t, PerformerPiano, fs.PerformerType)
	assert.Equal(t, SongSASB, fs.SongType)
	assert.False(t, fs.HasPersonName, "keywords are not names")
}

func TestExtractContentPriority(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Opening Prayer", ContentPrayer},
		{"Prayer song", ContentSong},
		{"Bible Reading - John 3", ContentReading},
		{"Sermon: Walking in Faith", ContentMessage},
		{"Welcome and Announcements", ContentAnnouncement},
		{"Tithes and Offering", ContentOffering},
		{"Mission video", ContentMedia},
		{"Youth Dedication", ContentYouth},
		{"Benediction", ContentBenediction},
		{"Closing blessing", ContentBenediction},
		{"Coffee afterwards", ContentOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Extract(tt.input).ContentType, "content type of %q", tt.input)
	}
}

func TestExtractStructuralFlags(t *testing.T) {
	fs := Extract("3 Testimony from Mary Jones (5 min) -")

	assert.True(t, fs.StartsWithNumber)
	assert.True(t, fs.EndsWithDash)
	assert.True(t, fs.HasParentheses)
	assert.True(t, fs.HasPersonName)
	assert.False(t, fs.HasSongNumber)
}

func TestExtractEmptyText(t *testing.T) {
	for _, in := range []string{"", "   ", "\t\n"} {
		fs := Extract(in)
		assert.Zero(t, fs.WordCount)
		assert.Zero(t, fs.CharCount)
		assert.Empty(t, fs.UniqueWords)
		assert.Equal(t, ContentOther, fs.ContentType)
		assert.Equal(t, Unknown, fs.PerformerType)
		assert.Equal(t, Unknown, fs.SongType)
	}
}

func TestExtractUniqueWords(t *testing.T) {
	fs := Extract("Song song SONG of praise")
	assert.Equal(t, []string{"song", "of", "praise"}, fs.UniqueWords)
	assert.Equal(t, 5, fs.WordCount)
	assert.Equal(t, []string{"song"}, fs.ImportantKeywords)
	assert.Equal(t, 24, fs.CharCount)
}
