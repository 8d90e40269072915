package tools

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/mcpflow/types"
)

func repoURLSchema() Schema {
	return ParseSchema(map[string]any{
		"type":     "object",
		"required": []any{"repo_url"},
		"properties": map[string]any{
			"repo_url": map[string]any{"type": "string"},
		},
	})
}

// ============================================================
// NormalizeArguments
// ============================================================

func TestNormalizeArguments_BackfillsRepoURLFromSlug(t *testing.T) {
	got := NormalizeArguments(map[string]any{"repo": "owner/name"}, repoURLSchema())

	assert.Equal(t, "https://github.com/owner/name", got["repo_url"])
	assert.NotContains(t, got, "repo", "undeclared donor field is dropped")
	assert.NoError(t, Validate(got, repoURLSchema()))
}

func TestNormalizeArguments_TrimsAndConverts(t *testing.T) {
	schema := ParseSchema(map[string]any{
		"properties": map[string]any{
			"url":   map[string]any{"type": "string"},
			"repo":  map[string]any{"type": "string"},
			"query": map[string]any{"type": "string"},
		},
	})
	in := map[string]any{
		"url":   "  acme/widgets ",
		"repo":  "https://github.com/acme/widgets.git",
		"query": "  hello  ",
		"limit": float64(3),
	}
	got := NormalizeArguments(in, schema)

	assert.Equal(t, "https://github.com/acme/widgets", got["url"])
	assert.Equal(t, "acme/widgets", got["repo"])
	assert.Equal(t, "hello", got["query"])
	assert.Equal(t, float64(3), got["limit"])
	assert.Equal(t, "  acme/widgets ", in["url"], "input must not be mutated")
}

func TestNormalizeArguments_SingleStringDonor(t *testing.T) {
	schema := ParseSchema(map[string]any{
		"required":   []any{"query"},
		"properties": map[string]any{"query": map[string]any{"type": "string"}},
	})
	got := NormalizeArguments(map[string]any{"q": "golang", "limit": float64(2)}, schema)
	assert.Equal(t, "golang", got["query"])
	assert.NotContains(t, got, "q")
}

func TestNormalizeArguments_AmbiguousDonorLeftAlone(t *testing.T) {
	schema := ParseSchema(map[string]any{
		"required":   []any{"query"},
		"properties": map[string]any{"query": map[string]any{"type": "string"}},
	})
	got := NormalizeArguments(map[string]any{"a": "x", "b": "y"}, schema)
	assert.NotContains(t, got, "query")
}

func TestNormalizeArguments_TwoMissingNoBackfill(t *testing.T) {
	schema := ParseSchema(map[string]any{"required": []any{"a", "b"}})
	got := NormalizeArguments(map[string]any{"c": "value"}, schema)
	assert.Equal(t, map[string]any{"c": "value"}, got)
}

// ============================================================
// BuildCandidates
// ============================================================

func TestBuildCandidates_FirstIsNormalized(t *testing.T) {
	schema := repoURLSchema()
	args := map[string]any{"repo": "owner/name"}

	cands := BuildCandidates("read_repo", args, schema)
	require.NotEmpty(t, cands)
	assert.Equal(t, NormalizeArguments(args, schema), cands[0])
}

func TestBuildCandidates_RepoSubstitutions(t *testing.T) {
	schema := ParseSchema(map[string]any{
		"required": []any{"owner", "repo"},
		"properties": map[string]any{
			"owner":    map[string]any{"type": "string"},
			"repo":     map[string]any{"type": "string"},
			"repo_url": map[string]any{"type": "string"},
			"branch":   map[string]any{"type": "string"},
		},
	})
	args := map[string]any{"owner": "acme", "repo": "widgets", "branch": "main"}

	cands := BuildCandidates("github_get_tree", args, schema)
	assert.LessOrEqual(t, len(cands), MaxCandidates)

	var sawURL bool
	for _, c := range cands {
		if c["repo_url"] == "https://github.com/acme/widgets" {
			sawURL = true
		}
	}
	assert.True(t, sawURL, "owner+repo hint should be substituted into repo_url")
}

func TestBuildCandidates_LegacyAlternate(t *testing.T) {
	schema := ParseSchema(map[string]any{
		"properties": map[string]any{"url": map[string]any{"type": "string"}},
	})
	cands := BuildCandidates("fetch", map[string]any{"url": "acme/widgets"}, schema)
	require.GreaterOrEqual(t, len(cands), 2)
	assert.Equal(t, "https://github.com/acme/widgets", cands[0]["url"])
	assert.Equal(t, "acme/widgets", cands[1]["url"])
}

func TestBuildCandidates_NonRepoToolSingleCandidate(t *testing.T) {
	schema := ParseSchema(map[string]any{
		"properties": map[string]any{"city": map[string]any{"type": "string"}},
	})
	cands := BuildCandidates("weather", map[string]any{"city": "Paris"}, schema)
	assert.Equal(t, []map[string]any{{"city": "Paris"}}, cands)
}

func TestBuildCandidates_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	schema := ParseSchema(map[string]any{
		"required": []any{"repo_url"},
		"properties": map[string]any{
			"repo_url":   map[string]any{"type": "string"},
			"repository": map[string]any{"type": "string"},
			"link":       map[string]any{"type": "string"},
			"owner":      map[string]any{"type": "string"},
			"name":       map[string]any{"type": "string"},
		},
	})

	properties.Property("candidates are bounded, unique and deterministic", prop.ForAll(
		func(owner, repo string, useURL bool) bool {
			value := owner + "/" + repo
			if useURL {
				value = "https://github.com/" + value
			}
			args := map[string]any{"repository": value, "link": value}
			a := BuildCandidates("git_clone", args, schema)
			b := BuildCandidates("git_clone", args, schema)
			if len(a) == 0 || len(a) > MaxCandidates || len(a) != len(b) {
				return false
			}
			seen := map[string]bool{}
			for i := range a {
				k := canonical(a[i])
				if seen[k] || k != canonical(b[i]) {
					return false
				}
				seen[k] = true
			}
			return true
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// ============================================================
// IsRecoverable
// ============================================================

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{assertErr("upstream returned 502"), true},
		{assertErr("Service Unavailable"), true},
		{assertErr("request timed out"), true},
		{assertErr("please try again later"), true},
		{types.NewError(types.ErrorTypeServer, "boom"), true},
		{assertErr("repository not found"), false},
		{assertErr("invalid owner"), false},
		{types.NewAbortError(nil), false},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRecoverable(tt.err))
		})
	}
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
