package neural

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"techsheet/internal/domain"
	"techsheet/internal/features"
)

const (
	MaxVocabulary = 90
	ScalarSlots   = 10
	EncodedSize   = MaxVocabulary + ScalarSlots

	// HeuristicSize is the input width used before a vocabulary exists.
	HeuristicSize = 8
)

// FeatureEncoder turns items into fixed-width network inputs. Once Build has
// run, inputs are word presence over the vocabulary followed by scalar
// slots; before that a small heuristic vector is used.
type FeatureEncoder struct {
	mu    sync.RWMutex
	vocab []string
	index map[string]int
}

func NewFeatureEncoder() *FeatureEncoder {
	return &FeatureEncoder{}
}

// Build selects the most frequent normalized words of the corpus, ties
// broken alphabetically. An empty corpus leaves the encoder unchanged.
func (e *FeatureEncoder) Build(corpus []string) {
	counts := make(map[string]int)
	for _, text := range corpus {
		for _, w := range features.Tokens(text) {
			if w == features.NumberToken || w == "-" {
				continue
			}
			counts[w]++
		}
	}
	if len(counts) == 0 {
		return
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > MaxVocabulary {
		words = words[:MaxVocabulary]
	}
	e.SetVocabulary(words)
}

// SetVocabulary installs a vocabulary, e.g. from a snapshot.
func (e *FeatureEncoder) SetVocabulary(words []string) {
	if len(words) > MaxVocabulary {
		words = words[:MaxVocabulary]
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vocab = append([]string(nil), words...)
	e.index = make(map[string]int, len(words))
	for i, w := range words {
		e.index[w] = i
	}
}

func (e *FeatureEncoder) Vocabulary() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.vocab...)
}

func (e *FeatureEncoder) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.vocab) > 0
}

// Dim is the width of vectors Encode currently produces.
func (e *FeatureEncoder) Dim() int {
	if e.Ready() {
		return EncodedSize
	}
	return HeuristicSize
}

func (e *FeatureEncoder) Encode(item domain.ProgramItem, position int) []float64 {
	text := item.Text()
	fs := features.Extract(text)

	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.vocab) == 0 {
		return heuristic(item, fs, position)
	}

	out := make([]float64, EncodedSize)
	for _, w := range fs.UniqueWords {
		if i, ok := e.index[w]; ok {
			out[i] = 1
		}
	}
	s := out[MaxVocabulary:]
	s[0] = flag(hasDigit(item.Title))
	s[1] = float64(len([]rune(item.Title))) / 100
	s[2] = flag(strings.TrimSpace(item.Performer) != "" || fs.HasPerformer)
	s[3] = float64(position) / 50
	s[4] = flag(fs.HasSongNumber)
	s[5] = flag(fs.HasParentheses)
	s[6] = flag(fs.StartsWithNumber)
	s[7] = flag(fs.EndsWithDash)
	s[8] = flag(strings.TrimSpace(item.Notes) != "")
	s[9] = float64(fs.WordCount) / 20
	return out
}

func heuristic(item domain.ProgramItem, fs features.FeatureSet, position int) []float64 {
	return []float64{
		flag(hasDigit(item.Title)),
		math.Min(1, float64(len([]rune(item.Title)))/100),
		flag(strings.TrimSpace(item.Performer) != "" || fs.HasPerformer),
		math.Min(1, float64(position)/50),
		flag(fs.HasSongNumber),
		flag(fs.ContentType == features.ContentSong),
		flag(fs.ContentType == features.ContentPrayer),
		flag(fs.HasParentheses),
	}
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func flag(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}
