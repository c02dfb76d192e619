package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakePage serves a sequence of markup snapshots: CaptureHTML returns the
// current one, ScrollToBottom advances to the next (and sticks on the last,
// like a real page that has run out of rows).
type fakePage struct {
	pages   []string
	index   int
	scrolls int
	err     error
}

func (p *fakePage) CaptureHTML(ctx context.Context) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return p.pages[p.index], nil
}

func (p *fakePage) ScrollToBottom(ctx context.Context) error {
	p.scrolls++
	if p.index < len(p.pages)-1 {
		p.index++
	}
	return nil
}

func donationRow(name, amount, date string) string {
	return fmt.Sprintf(`
		<tr style="position: absolute; top: %dpx;">
			<td><span class="font-medium">%s</span></td>
			<td><div data-slot="badge">%s<svg></svg></div></td>
			<td><span class="text-muted-foreground">%s</span></td>
		</tr>`, 40, name, amount, date)
}

func donationPage(rows ...string) string {
	return fmt.Sprintf(`<html><body>
		<div data-sentry-component="VirtualizedDataTable">
			<table>
				<tr><th>Пользователь</th><th>Сумма</th><th>Дата</th></tr>
				%s
			</table>
		</div>
	</body></html>`, strings.Join(rows, "\n"))
}

func TestExtractDonationsAccumulatesAndStalls(t *testing.T) {
	rowA := donationRow("Иван", "1 500", "15 янв. 2024, 10:00")
	rowB := donationRow("Мария", "300", "16 янв. 2024, 11:30")
	rowC := donationRow("Пётр", "42", "1 мая 2024, 09:00")

	page := &fakePage{pages: []string{
		donationPage(rowA, rowB),
		// The virtualized window re-renders rowA alongside the new rowC.
		donationPage(rowA, rowB, rowC, rowA),
	}}

	result := extractDonations(context.Background(), page, extractorOptions{
		MaxAttempts:    20,
		StallThreshold: 3,
	})

	require.Equal(t, reasonStalled, result.Termination)
	require.Len(t, result.Records, 3)
	require.Equal(t, DonationRecord{Contributor: "Иван", Amount: 1500, EventDate: "2024-01-15"}, result.Records[0])
	require.Equal(t, DonationRecord{Contributor: "Мария", Amount: 300, EventDate: "2024-01-16"}, result.Records[1])
	require.Equal(t, DonationRecord{Contributor: "Пётр", Amount: 42, EventDate: "2024-05-01"}, result.Records[2])

	// Two growing snapshots plus three stalled iterations.
	require.Equal(t, 5, result.Attempts)
}

func TestExtractDonationsStopsAtAttemptCeiling(t *testing.T) {
	// A page that grows on every snapshot never stalls.
	pages := make([]string, 10)
	rows := []string{}
	for i := range pages {
		rows = append(rows, donationRow(fmt.Sprintf("User%d", i), "100", "15 янв. 2024"))
		pages[i] = donationPage(rows...)
	}

	page := &fakePage{pages: pages}
	result := extractDonations(context.Background(), page, extractorOptions{
		MaxAttempts:    5,
		StallThreshold: 3,
	})

	require.Equal(t, reasonMaxAttempts, result.Termination)
	require.Equal(t, 5, result.Attempts)
	require.Len(t, result.Records, 5)
}

func TestExtractDonationsTableNotFound(t *testing.T) {
	page := &fakePage{pages: []string{`<html><body><p>loading...</p></body></html>`}}

	result := extractDonations(context.Background(), page, extractorOptions{})
	require.Equal(t, reasonTableNotFound, result.Termination)
	require.Empty(t, result.Records)
	require.Equal(t, 1, result.Attempts)
	require.Zero(t, page.scrolls)
}

func TestExtractDonationsCaptureFailure(t *testing.T) {
	page := &fakePage{err: errors.New("target crashed")}

	result := extractDonations(context.Background(), page, extractorOptions{})
	require.Equal(t, reasonConnectionFailed, result.Termination)
	require.Empty(t, result.Records)
}

func TestExtractRowsFallsBackWithoutAbsolutePositioning(t *testing.T) {
	html := `<html><body><table>
		<tr><th>Пользователь</th><th>Сумма</th><th>Дата</th></tr>
		<tr><td>Иван</td><td>1 500</td><td>15 янв. 2024</td></tr>
	</table></body></html>`

	page := &fakePage{pages: []string{html}}
	result := extractDonations(context.Background(), page, extractorOptions{StallThreshold: 1})

	require.Equal(t, reasonStalled, result.Termination)
	require.Len(t, result.Records, 1)
	require.Equal(t, "Иван", result.Records[0].Contributor)
	require.Equal(t, 1500, result.Records[0].Amount)
}

func TestExtractRowsSkipsPlaceholderAndShortRows(t *testing.T) {
	html := donationPage(
		`<tr style="position: absolute;"><td><span class="font-medium">Пользователь</span></td><td>1</td><td>x</td></tr>`,
		`<tr style="position: absolute;"><td>only-two</td><td>cells</td></tr>`,
		donationRow("Мария", "300", "16 янв. 2024"),
	)

	page := &fakePage{pages: []string{html}}
	result := extractDonations(context.Background(), page, extractorOptions{StallThreshold: 1})

	require.Len(t, result.Records, 1)
	require.Equal(t, "Мария", result.Records[0].Contributor)
}
