package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// End-to-end over the in-process parts: fixture markup with three distinct
// donations (one rendered twice by the virtualized table) flows through
// extraction and reconciliation into storage exactly once, and a repeat run
// changes nothing.
func TestExtractAndReconcileEndToEnd(t *testing.T) {
	setupTestDB(t)
	src := registerTestSource(t, "alpha")

	rowA := donationRow("Иван", "1 500", "15 янв. 2024, 10:00")
	rowB := donationRow("Мария", "300", "16 янв. 2024, 11:30")
	rowC := donationRow("Пётр", "42", "1 мая 2024, 09:00")
	page := &fakePage{pages: []string{
		donationPage(rowA, rowB),
		donationPage(rowA, rowB, rowC, rowA),
	}}

	result := extractDonations(context.Background(), page, extractorOptions{})
	require.Equal(t, reasonStalled, result.Termination)
	require.Len(t, result.Records, 3)

	stats, outcome, err := reconcile(src, result)
	require.NoError(t, err)
	require.Equal(t, DeltaStats{NewCount: 3, NewContributors: 3, NewAmount: 1842}, stats)
	require.Equal(t, PersistOutcome{Saved: 3}, outcome)

	// A second scrape of the same page must be a no-op.
	page.index = 0
	result = extractDonations(context.Background(), page, extractorOptions{})
	stats, outcome, err = reconcile(src, result)
	require.NoError(t, err)
	require.Zero(t, stats.NewCount)
	require.Equal(t, PersistOutcome{}, outcome)

	detailed, err := detailedStats(src)
	require.NoError(t, err)
	require.Equal(t, 3, detailed.TotalCount)
}
