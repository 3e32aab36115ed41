// Package features turns running-order item text into normalized tokens and
// the structural and categorical signals the learner compares items by.
package features

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	ContentSong         = "song"
	ContentPrayer       = "prayer"
	ContentReading      = "reading"
	ContentMessage      = "message"
	ContentAnnouncement = "announcement"
	ContentOffering     = "offering"
	ContentMedia        = "media"
	ContentYouth        = "youth"
	ContentBenediction  = "benediction"
	ContentOther        = "other"

	PerformerBand         = "band"
	PerformerPiano        = "piano"
	PerformerWorshipGroup = "worship_group"
	PerformerChoir        = "choir"
	PerformerSolo         = "solo"
	PerformerQuartet      = "quartet"

	SongSASB    = "sasb"
	SongSOF     = "sof"
	SongHymn    = "hymn"
	SongChorus  = "chorus"
	SongWorship = "worship"

	Unknown = "unknown"

	// NumberToken replaces every digit run in normalized text.
	NumberToken = "NUM"
)

var (
	songNumberRegex   = regexp.MustCompile(`(?i)(sasb|sof)\s*\d+`)
	songPrefixRegex   = regexp.MustCompile(`\b(sasb|sof)\s*(\d+)`)
	punctuationRegex  = regexp.MustCompile(`[^\p{L}\p{N}\s-]+`)
	digitRunRegex     = regexp.MustCompile(`\p{Nd}+`)
	capitalWordRegex  = regexp.MustCompile(`^\p{Lu}\p{Ll}+$`)
	wordSplitterRegex = regexp.MustCompile(`[^\p{L}\p{N}'-]+`)
)

// ImportantKeywords is the fixed vocabulary whose presence carries extra
// weight when two items are compared.
var ImportantKeywords = []string{
	"song", "hymn", "sasb", "sof", "chorus", "worship", "prayer", "reading", "scripture",
	"bible", "message", "sermon", "announcements", "welcome", "offering", "video", "media",
	"youth", "children", "benediction", "blessing", "band", "piano", "organ", "choir",
	"solo", "quartet", "wg", "songsters", "testimony", "dedication", "communion",
}

var importantSet = toSet(ImportantKeywords)

// PerformerKeywords are matched as substrings of the lower-cased text.
var PerformerKeywords = []string{
	"band", "piano", "organ", "keyboard", "choir", "songsters", "worship group",
	"worship team", "wg", "solo", "soloist", "quartet", "singers", "vocal",
}

type bucket struct {
	name     string
	keywords []string
}

// contentBuckets are checked in order; the first bucket with a hit wins.
var contentBuckets = []bucket{
	{ContentSong, []string{"song", "hymn", "sasb", "sof", "chorus", "worship", "sing"}},
	{ContentPrayer, []string{"prayer", "pray"}},
	{ContentReading, []string{"reading", "scripture", "bible", "psalm"}},
	{ContentMessage, []string{"message", "sermon", "preach", "homily"}},
	{ContentAnnouncement, []string{"announcement", "notices", "welcome"}},
	{ContentOffering, []string{"offering", "tithe", "collection"}},
	{ContentMedia, []string{"video", "media", "slides", "clip"}},
	{ContentYouth, []string{"youth", "children", "kids", "junior"}},
	{ContentBenediction, []string{"benediction", "blessing", "dismissal"}},
}

var performerBuckets = []bucket{
	{PerformerWorshipGroup, []string{"worship group", "worship team", "wg"}},
	{PerformerBand, []string{"band"}},
	{PerformerChoir, []string{"choir", "songsters"}},
	{PerformerQuartet, []string{"quartet"}},
	{PerformerPiano, []string{"piano", "organ", "keyboard"}},
	{PerformerSolo, []string{"solo"}},
}

var songBuckets = []bucket{
	{SongSASB, []string{"sasb"}},
	{SongSOF, []string{"sof"}},
	{SongHymn, []string{"hymn"}},
	{SongChorus, []string{"chorus"}},
	{SongWorship, []string{"worship"}},
}

// FeatureSet is derived from text and never persisted on its own.
type FeatureSet struct {
	WordCount         int      `json:"wordCount"`
	CharCount         int      `json:"charCount"`
	UniqueWords       []string `json:"uniqueWords"`
	ImportantKeywords []string `json:"importantKeywords"`

	HasNumbers       bool `json:"hasNumbers"`
	HasSongNumber    bool `json:"hasSongNumber"`
	HasPersonName    bool `json:"hasPersonName"`
	HasPerformer     bool `json:"hasPerformer"`
	StartsWithNumber bool `json:"startsWithNumber"`
	EndsWithDash     bool `json:"endsWithDash"`
	HasParentheses   bool `json:"hasParentheses"`

	ContentType   string `json:"contentType"`
	PerformerType string `json:"performerType"`
	SongType      string `json:"songType"`
}

// Flags returns the seven structural booleans in a fixed order.
func (f FeatureSet) Flags() [7]bool {
	return [7]bool{
		f.HasNumbers, f.HasSongNumber, f.HasPersonName, f.HasPerformer,
		f.StartsWithNumber, f.EndsWithDash, f.HasParentheses,
	}
}

// Normalize lower-cases text, joins song-book prefixes to their number,
// strips punctuation other than hyphens and replaces digit runs with NUM.
func Normalize(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = songPrefixRegex.ReplaceAllString(s, "${1}${2}")
	s = punctuationRegex.ReplaceAllString(s, " ")
	s = digitRunRegex.ReplaceAllString(s, NumberToken)
	return strings.Join(strings.Fields(s), " ")
}

func Tokens(text string) []string {
	return strings.Fields(Normalize(text))
}

// Extract never fails: empty text yields zero counts and neutral classes.
func Extract(text string) FeatureSet {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	tokens := Tokens(trimmed)

	fs := FeatureSet{
		WordCount:     len(tokens),
		CharCount:     len([]rune(trimmed)),
		UniqueWords:   unique(tokens),
		ContentType:   ContentOther,
		PerformerType: Unknown,
		SongType:      Unknown,
	}
	if trimmed == "" {
		return fs
	}

	seen := make(map[string]bool)
	for _, tok := range tokens {
		base := strings.TrimSuffix(tok, NumberToken)
		if importantSet[base] && !seen[base] {
			seen[base] = true
			fs.ImportantKeywords = append(fs.ImportantKeywords, base)
		}
	}

	fs.HasNumbers = strings.IndexFunc(trimmed, unicode.IsDigit) >= 0
	fs.HasSongNumber = songNumberRegex.MatchString(trimmed)
	fs.HasPersonName = hasPersonName(trimmed)
	fs.HasPerformer = containsAny(lower, PerformerKeywords)
	first := []rune(trimmed)[0]
	fs.StartsWithNumber = unicode.IsDigit(first)
	fs.EndsWithDash = strings.HasSuffix(trimmed, "-") || strings.HasSuffix(trimmed, "–")
	fs.HasParentheses = strings.Contains(trimmed, "(") && strings.Contains(trimmed, ")")

	fs.ContentType = classify(tokens, contentBuckets, ContentOther)
	fs.PerformerType = classify(tokens, performerBuckets, Unknown)
	fs.SongType = classify(tokens, songBuckets, Unknown)
	return fs
}

// classify returns the first bucket with a keyword hit. Single-word keywords
// match as word prefixes ("prayers", "sasbNUM"); phrases match whole words.
func classify(tokens []string, buckets []bucket, fallback string) string {
	padded := " " + strings.Join(tokens, " ") + " "
	for _, b := range buckets {
		for _, kw := range b.keywords {
			if strings.Contains(kw, " ") {
				if strings.Contains(padded, " "+kw+" ") {
					return b.name
				}
				continue
			}
			for _, tok := range tokens {
				if strings.HasPrefix(tok, kw) {
					return b.name
				}
			}
		}
	}
	return fallback
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// hasPersonName looks for two consecutive capitalised words that are not
// part of the keyword vocabulary ("John Smith", not "Piano Solo").
func hasPersonName(text string) bool {
	words := wordSplitterRegex.Split(text, -1)
	prev := false
	for _, w := range words {
		isName := capitalWordRegex.MatchString(w) && !isKnownWord(strings.ToLower(w))
		if isName && prev {
			return true
		}
		prev = isName
	}
	return false
}

func isKnownWord(w string) bool {
	if importantSet[w] {
		return true
	}
	for _, b := range contentBuckets {
		for _, kw := range b.keywords {
			if kw == w {
				return true
			}
		}
	}
	for _, kw := range PerformerKeywords {
		if kw == w {
			return true
		}
	}
	return false
}

func unique(tokens []string) []string {
	if len(tokens) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func toSet(words []string) map[string]bool {
	out := make(map[string]bool, len(words))
	for _, w := range words {
		out[w] = true
	}
	return out
}
