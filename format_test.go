package main

import (
	"database/sql"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatWithSpaces(t *testing.T) {
	cases := map[int]string{
		0:       "0",
		7:       "7",
		999:     "999",
		1000:    "1 000",
		1500:    "1 500",
		1234567: "1 234 567",
	}
	for n, want := range cases {
		require.Equal(t, want, formatWithSpaces(n))
	}
}

func TestFormatLeaderboard(t *testing.T) {
	out := formatLeaderboard("alpha", []ContributorTotal{
		{Contributor: "Мария", TotalAmount: 5000, DonationCount: 1},
		{Contributor: "Иван", TotalAmount: 300, DonationCount: 2},
	}, 10)

	require.Contains(t, out, "alpha")
	require.Contains(t, out, "Мария")
	require.Contains(t, out, "5 000")
	require.True(t, strings.HasSuffix(out, "```"))
}

func TestFormatLeaderboardEmpty(t *testing.T) {
	out := formatLeaderboard("alpha", nil, 10)
	require.Contains(t, out, "No donations recorded yet")
}

func TestFormatLeaderboardHonorsLimit(t *testing.T) {
	totals := []ContributorTotal{
		{Contributor: "a", TotalAmount: 3},
		{Contributor: "b", TotalAmount: 2},
		{Contributor: "c", TotalAmount: 1},
	}
	out := formatLeaderboard("alpha", totals, 2)
	require.Contains(t, out, "a")
	require.Contains(t, out, "b")
	require.NotContains(t, out, "\n3   c")
}

func TestFormatStats(t *testing.T) {
	out := formatStats("alpha", SourceStats{
		TotalCount:          3,
		DistinctContributor: 2,
		TotalAmount:         1842,
		LastUpdate:          sql.NullString{String: "2024-01-15T10:00:00Z", Valid: true},
	})
	require.Contains(t, out, "`3`")
	require.Contains(t, out, "`1 842`")
	require.Contains(t, out, "2024-01-15 10:00:00")
}

func TestFormatDeltaFailures(t *testing.T) {
	out := formatDelta("alpha", ScrapeResult{Termination: reasonConnectionFailed}, DeltaStats{}, PersistOutcome{})
	require.Contains(t, out, "could not reach")

	out = formatDelta("alpha", ScrapeResult{Termination: reasonTableNotFound}, DeltaStats{}, PersistOutcome{})
	require.Contains(t, out, "did not load")

	out = formatDelta("alpha", ScrapeResult{Termination: reasonStalled, Records: make([]DonationRecord, 5)}, DeltaStats{}, PersistOutcome{})
	require.Contains(t, out, "nothing new")
}

func TestFormatDeltaNewRecords(t *testing.T) {
	out := formatDelta("alpha",
		ScrapeResult{Termination: reasonStalled, Records: make([]DonationRecord, 10)},
		DeltaStats{NewCount: 2, NewContributors: 1, NewAmount: 1500},
		PersistOutcome{Saved: 2})
	require.Contains(t, out, "2 new donations")
	require.Contains(t, out, "1 500")
}

func TestSplitMessageShortPassthrough(t *testing.T) {
	parts := splitMessage("hello")
	require.Equal(t, []string{"hello"}, parts)
}

func TestSplitMessageChunksLongCodeBlock(t *testing.T) {
	var b strings.Builder
	b.WriteString("```\n")
	for i := 0; i < 200; i++ {
		b.WriteString(strings.Repeat("x", 40) + "\n")
	}
	b.WriteString("```")

	parts := splitMessage(b.String())
	require.Greater(t, len(parts), 1)
	for _, part := range parts {
		require.LessOrEqual(t, len(part), 2000)
		// Fences stay balanced so every chunk renders as monospace.
		require.Equal(t, 0, strings.Count(part, "```")%2)
	}
}
