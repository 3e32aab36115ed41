package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"techsheet/internal/domain"
)

func TestDefaultTableParses(t *testing.T) {
	e := Default()
	assert.NotEmpty(t, e.Rules())
	assert.Equal(t, "worship-group", e.Rules()[0])
}

func TestApplyRulesFirstMatchWins(t *testing.T) {
	e := Default()

	got := e.ApplyRules("SOF 456 - Here I Am to Worship WG", false)
	assert.Equal(t, "Band mics", got[domain.FieldMic])
	assert.Equal(t, "Band", got[domain.FieldScene])
	assert.Equal(t, "ON", got[domain.FieldStream])

	piano := e.ApplyRules("SASB 234 Piano Solo", false)
	assert.Equal(t, "2", piano[domain.FieldCamera], "piano rule precedes the song rule")
	assert.Equal(t, "N/A", piano[domain.FieldMic])
}

func TestApplyRulesThirdSunday(t *testing.T) {
	e := Default()

	normal := e.ApplyRules("Youth Band", false)
	third := e.ApplyRules("Youth Band", true)
	assert.Equal(t, "Band", normal[domain.FieldScene])
	assert.Equal(t, "Band Wide", third[domain.FieldScene])

	kids := e.ApplyRules("Kids talk", true)
	assert.Equal(t, "ON", kids[domain.FieldStream])
	assert.Equal(t, "All-age service", kids[domain.FieldNotes])
	assert.Equal(t, "OFF", e.ApplyRules("Kids talk", false)[domain.FieldStream])
}

func TestApplyRulesDefaultAndEmpty(t *testing.T) {
	e := Default()

	got := e.ApplyRules("Coffee afterwards", false)
	assert.Equal(t, "Wide", got[domain.FieldScene])
	_, hasNotes := got[domain.FieldNotes]
	assert.False(t, hasNotes)

	empty := e.ApplyRules("", false)
	assert.Equal(t, "1", empty[domain.FieldCamera])
}

func TestPhraseKeywordsMatchWholeWords(t *testing.T) {
	e, err := Parse([]byte(`
rules:
  - name: team
    keywords: ["Worship Team"]
    values: {scene: Team}
`))
	require.NoError(t, err)
	assert.Equal(t, "Team", e.ApplyRules("worship team (acoustic)", false)[domain.FieldScene])
	assert.Empty(t, e.ApplyRules("worship teams", false))
}

func TestParseRejectsBadTables(t *testing.T) {
	_, err := Parse([]byte("rules:\n  - name: x\n    values: {camera: '1'}\n"))
	assert.ErrorContains(t, err, "no keywords")

	_, err = Parse([]byte("rules:\n  - name: x\n    keywords: [a]\n    values: {lighting: red}\n"))
	assert.ErrorContains(t, err, "unknown field")

	_, err = Parse([]byte("rules: ["))
	assert.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - name: x\n    keywords: [offering]\n    values: {notes: Plate}\n"), 0o644))

	e, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, map[domain.Field]string{domain.FieldNotes: "Plate"}, e.ApplyRules("Offering", false))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	def, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Rules(), def.Rules())
}
