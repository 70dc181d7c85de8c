package laws

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchByKeyword(t *testing.T) {
	lib := DefaultCorpus()

	refs := lib.Match([]string{"repair", "mold"}, "")
	require.Len(t, refs, 1)
	assert.Equal(t, "habitability", refs[0].ID)
}

func TestMatchByDocType(t *testing.T) {
	lib := DefaultCorpus()

	refs := lib.Match(nil, "eviction_notice")
	require.Len(t, refs, 1)
	assert.Equal(t, "notice-requirements", refs[0].ID)

	refs = lib.Match(nil, "court_summons")
	require.Len(t, refs, 1)
	assert.Equal(t, "court-process", refs[0].ID)
}

func TestMatchDeduplicatesAndOrders(t *testing.T) {
	lib := DefaultCorpus()

	// "eviction" and "notice" both hit notice-requirements; "summons" hits
	// court-process. Each id appears once, in load order.
	refs := lib.Match([]string{"eviction", "notice", "summons"}, "")
	require.Len(t, refs, 2)
	assert.Equal(t, "notice-requirements", refs[0].ID)
	assert.Equal(t, "court-process", refs[1].ID)
}

func TestMatchNoHits(t *testing.T) {
	lib := DefaultCorpus()
	assert.Empty(t, lib.Match([]string{"unrelated"}, "grocery_list"))
}

func TestRightsForIssue(t *testing.T) {
	rights := RightsForIssue("illegal_lockout")
	assert.Equal(t, []string{"right_to_possession", "right_to_re_entry"}, rights)
	assert.Empty(t, RightsForIssue("no_such_issue"))
}

func TestLoadCorpusFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "laws.yaml")
	corpus := `laws:
  - id: test-law
    category: testing
    jurisdiction: nowhere
    summary: A test law.
    keywords: [alpha, beta]
    tenant_rights: [right_to_test]
    time_limits:
      respond: 10 days
`
	require.NoError(t, os.WriteFile(path, []byte(corpus), 0o644))

	lib, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, lib.Len())

	ref, ok := lib.Get("test-law")
	require.True(t, ok)
	assert.Equal(t, "10 days", ref.TimeLimits["respond"])

	refs := lib.Match([]string{"ALPHA"}, "")
	require.Len(t, refs, 1)
	assert.Equal(t, "test-law", refs[0].ID)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/laws.yaml")
	assert.Error(t, err)
}
