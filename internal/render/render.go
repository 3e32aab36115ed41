package render

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"techsheet/internal/domain"
	"techsheet/internal/learning"
	"techsheet/internal/sheet"
)

// LowConfidence is the level below which a predicted value is dimmed.
const LowConfidence = 0.5

// Renderer draws sheets and learner reports as terminal tables. Colours
// follow what the output writer supports.
type Renderer struct {
	header lipgloss.Style
	cell   lipgloss.Style
	muted  lipgloss.Style
	warn   lipgloss.Style
	title  lipgloss.Style
}

func New(w io.Writer) *Renderer {
	r := lipgloss.NewRenderer(w)
	return &Renderer{
		header: r.NewStyle().Bold(true).Foreground(lipgloss.Color("62")).Padding(0, 1),
		cell:   r.NewStyle().Padding(0, 1),
		muted:  r.NewStyle().Foreground(lipgloss.Color("241")).Padding(0, 1),
		warn:   r.NewStyle().Foreground(lipgloss.Color("212")).Padding(0, 1),
		title:  r.NewStyle().Bold(true),
	}
}

// Plain renders without colour codes, for chat messages and files.
func Plain() *Renderer {
	return New(io.Discard)
}

// Sheet draws one row per item. Unmatched rows are flagged with "?" and
// low-confidence values are dimmed.
func (r *Renderer) Sheet(s sheet.Sheet) string {
	headers := []string{"#", "Item", "Performer"}
	for _, f := range domain.TechFields {
		headers = append(headers, fieldLabel(f))
	}

	rows := make([][]string, 0, len(s.Items))
	lowConf := make(map[[2]int]bool)
	for i, it := range s.Items {
		num := strconv.Itoa(i + 1)
		if it.AI != nil && it.AI.Unmatched {
			num += "?"
		}
		row := []string{num, it.Title, it.Performer}
		for j, f := range domain.TechFields {
			var p domain.FieldPrediction
			if it.AI != nil {
				p = it.AI.Predictions[f]
			}
			row = append(row, p.Value)
			if p.Source == domain.SourceError || p.Confidence < LowConfidence {
				lowConf[[2]int{i, 3 + j}] = true
			}
		}
		rows = append(rows, row)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return r.header
			case col == 0 && strings.HasSuffix(rows[row][0], "?"):
				return r.warn
			case lowConf[[2]int{row, col}]:
				return r.muted
			default:
				return r.cell
			}
		})

	kind := "regular Sunday"
	if s.IsThirdSunday {
		kind = "third Sunday"
	}
	heading := r.title.Render(fmt.Sprintf("Production sheet (%s, %s)", kind, s.Phase))
	return heading + "\n" + t.String()
}

// Status draws the learner status as a two-column table.
func (r *Renderer) Status(st learning.Status) string {
	rows := [][]string{
		{"Phase", st.Phase},
		{"AI / rules weight", fmt.Sprintf("%.0f%% / %.0f%%", st.AIWeight*100, st.RulesWeight*100)},
		{"Examples", strconv.Itoa(st.TotalExamples)},
		{"Predictions scored", strconv.Itoa(st.Performance.TotalPredictions)},
		{"Overall accuracy", percent(st.Performance.OverallAccuracy)},
		{"Recent accuracy", percent(st.Performance.RecentAccuracy)},
		{"Trend", string(st.Performance.Trend)},
	}
	if st.NextPhase != "" {
		rows = append(rows, []string{"Next phase", fmt.Sprintf("%s in %d examples", st.NextPhase, st.ExamplesToNextPhase)})
	}
	network := "not trained"
	if st.NetworkInitialized {
		network = fmt.Sprintf("%d steps, %d words", st.NetworkSteps, st.VocabularySize)
		if st.NetworkLoss > 0 {
			network += fmt.Sprintf(", last error %.4f", st.NetworkLoss)
		}
	}
	rows = append(rows,
		[]string{"Network", network},
		[]string{"Storage", storageLabel(st)},
	)
	if st.RuleOnly {
		rows = append(rows, []string{"Mode", "rules only"})
	}
	if st.HasError {
		rows = append(rows, []string{"Errors", fmt.Sprintf("%d (last: %s)", st.ErrorCount, st.LastErrorMessage)})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return r.header
			}
			return r.cell
		})
	return t.String()
}

// Report draws the status followed by per-field accuracy and the phase table.
func (r *Renderer) Report(rep learning.Report) string {
	var b strings.Builder
	b.WriteString(r.title.Render("Learning status"))
	b.WriteString("\n")
	b.WriteString(r.Status(rep.Status))
	b.WriteString("\n\n")

	fields := make([][]string, 0, len(rep.Fields))
	for _, f := range rep.Fields {
		top := make([]string, 0, len(f.TopValues))
		for _, v := range f.TopValues {
			top = append(top, fmt.Sprintf("%s (%d)", v.Value, v.Count))
		}
		fields = append(fields, []string{
			fieldLabel(f.Field),
			percent(f.Accuracy),
			fmt.Sprintf("%d/%d", f.CorrectPredictions, f.TotalPredictions),
			strconv.Itoa(f.Patterns),
			strings.Join(top, ", "),
		})
	}
	b.WriteString(r.title.Render("Fields"))
	b.WriteString(r.muted.Render(fmt.Sprintf("  patterns match at %.0f%% similarity", rep.SimilarityThreshold*100)))
	b.WriteString("\n")
	b.WriteString(r.simpleTable([]string{"Field", "Accuracy", "Correct", "Patterns", "Common values"}, fields))
	b.WriteString("\n\n")

	phases := make([][]string, 0, len(rep.PhaseTable))
	for _, p := range rep.PhaseTable {
		upper := "-"
		if p.MaxExamples != math.MaxInt {
			upper = strconv.Itoa(p.MaxExamples)
		}
		minAcc := "-"
		if p.MinAccuracy > 0 {
			minAcc = percent(p.MinAccuracy)
		}
		phases = append(phases, []string{
			p.Phase.String(),
			fmt.Sprintf("%d..%s", p.MinExamples, upper),
			fmt.Sprintf("%.0f%% / %.0f%%", p.AIWeight*100, p.RulesWeight*100),
			minAcc,
		})
	}
	b.WriteString(r.title.Render("Phases"))
	b.WriteString("\n")
	b.WriteString(r.simpleTable([]string{"Phase", "Examples", "AI / rules", "Min accuracy"}, phases))
	return b.String()
}

func (r *Renderer) simpleTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.header
			}
			return r.cell
		}).
		String()
}

func storageLabel(st learning.Status) string {
	s := st.Storage
	switch {
	case !s.HasPrimary && !s.HasFallback:
		return "memory only"
	case !s.HasPrimary:
		return "local"
	case s.IsPrimaryAvailable:
		return "remote (available)"
	case s.HasFallback:
		return "remote unavailable, using local"
	default:
		return "remote unavailable"
	}
}

func fieldLabel(f domain.Field) string {
	s := string(f)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}
