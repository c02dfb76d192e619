package main

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const enableExtractorDebugLogs = false

// pageReader is the slice of a browser session the extraction loop needs:
// a snapshot of the rendered markup and a way to force more rows into it.
// The browser session implements it; tests drive the loop with a fake.
type pageReader interface {
	CaptureHTML(ctx context.Context) (string, error)
	ScrollToBottom(ctx context.Context) error
}

// tableSelectors is the ordered fallback chain for locating the donation
// table root. The target markup is not contractually stable, so each
// selector is tried in turn until one matches.
var tableSelectors = []string{
	"div[data-sentry-component='VirtualizedDataTable']",
	"div[data-sentry-component='GuildDonationsList']",
	"div[class*='table']",
	"table",
}

var absolutePositionRegex = regexp.MustCompile(`position:\s*absolute`)

// placeholderContributors are header/placeholder tokens that mark a row as
// structural rather than a donation.
var placeholderContributors = map[string]struct{}{
	"":             {},
	"Пользователь": {},
	"User":         {},
	"Неизвестный":  {},
}

type extractorOptions struct {
	MaxAttempts    int
	StallThreshold int
	SettleDelay    time.Duration
}

func (o extractorOptions) withDefaults() extractorOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 20
	}
	if o.StallThreshold <= 0 {
		o.StallThreshold = 3
	}
	return o
}

// extractDonations runs the incremental scroll-extract loop against a
// virtualized table. Only the currently scrolled-into-view window of rows
// exists in the DOM, and there is no end-of-list signal, so the loop
// accumulates rows across scroll steps and stops once the accumulated set
// has not grown for StallThreshold consecutive iterations.
//
// A page whose table never matches any candidate selector yields an empty
// result with reason table_not_found, not an error; callers distinguish
// "zero donations" from "could not read page" via the termination reason.
func extractDonations(ctx context.Context, page pageReader, opts extractorOptions) ScrapeResult {
	opts = opts.withDefaults()

	var accumulated []rawRecord
	seen := make(map[string]struct{})
	stallCount := 0

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		html, err := page.CaptureHTML(ctx)
		if err != nil {
			log.Printf("[W] [Extractor] Failed to capture markup on attempt %d: %v", attempt, err)
			return ScrapeResult{Records: normalizeAll(accumulated), Attempts: attempt, Termination: reasonConnectionFailed}
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			log.Printf("[W] [Extractor] Failed to parse markup on attempt %d: %v", attempt, err)
			return ScrapeResult{Records: normalizeAll(accumulated), Attempts: attempt, Termination: reasonConnectionFailed}
		}

		table := findTableRoot(doc)
		if table == nil {
			log.Println("[W] [Extractor] Donation table not found with any candidate selector.")
			return ScrapeResult{Records: normalizeAll(accumulated), Attempts: attempt, Termination: reasonTableNotFound}
		}

		newRows := 0
		for _, raw := range extractRows(table) {
			// Intra-run dedup keys on the raw triplet: normalization
			// happens once after accumulation, so re-rendered rows are
			// skipped without re-parsing them.
			key := fmt.Sprintf("%s|%s|%s", raw.Contributor, raw.Amount, raw.Date)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			accumulated = append(accumulated, raw)
			newRows++
		}

		if enableExtractorDebugLogs {
			log.Printf("[D] [Extractor] Attempt %d: %d accumulated (%d new).", attempt, len(accumulated), newRows)
		}

		if newRows == 0 {
			stallCount++
			if stallCount >= opts.StallThreshold {
				log.Printf("[I] [Extractor] No growth for %d iterations, finishing with %d records.", stallCount, len(accumulated))
				return ScrapeResult{Records: normalizeAll(accumulated), Attempts: attempt, Termination: reasonStalled}
			}
		} else {
			stallCount = 0
		}

		if err := page.ScrollToBottom(ctx); err != nil {
			log.Printf("[W] [Extractor] Scroll failed on attempt %d: %v", attempt, err)
		}
		// Rendering of newly scrolled rows is asynchronous relative to the
		// scroll command.
		if opts.SettleDelay > 0 {
			select {
			case <-ctx.Done():
				return ScrapeResult{Records: normalizeAll(accumulated), Attempts: attempt, Termination: reasonConnectionFailed}
			case <-time.After(opts.SettleDelay):
			}
		}
	}

	log.Printf("[W] [Extractor] Reached attempt ceiling with %d records accumulated.", len(accumulated))
	return ScrapeResult{Records: normalizeAll(accumulated), Attempts: opts.MaxAttempts, Termination: reasonMaxAttempts}
}

// findTableRoot walks the candidate selector chain.
func findTableRoot(doc *goquery.Document) *goquery.Selection {
	for _, selector := range tableSelectors {
		sel := doc.Find(selector).First()
		if sel.Length() > 0 {
			if enableExtractorDebugLogs {
				log.Printf("[D] [Extractor] Table root matched selector: %s", selector)
			}
			return sel
		}
	}
	return nil
}

// extractRows enumerates the currently rendered data rows. Virtualized rows
// carry an absolute-positioning style; when none do, it falls back to every
// <tr> that contains a data cell, which filters out wrapper rows.
func extractRows(table *goquery.Selection) []rawRecord {
	rows := table.Find("tr").FilterFunction(func(i int, s *goquery.Selection) bool {
		return absolutePositionRegex.MatchString(s.AttrOr("style", ""))
	})
	if rows.Length() == 0 {
		rows = table.Find("tr").FilterFunction(func(i int, s *goquery.Selection) bool {
			return s.Find("td").Length() > 0
		})
	}

	var records []rawRecord
	rows.Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td, th")
		if cells.Length() < 3 {
			return
		}

		contributor := extractContributor(cells.Eq(0))
		if _, skip := placeholderContributors[contributor]; skip {
			return
		}

		records = append(records, rawRecord{
			Contributor: contributor,
			Amount:      extractAmount(cells.Eq(1)),
			Date:        extractDate(cells.Eq(2)),
		})
	})
	return records
}

// extractContributor pulls the contributor name from the first cell: the
// primary span first, then the first non-empty, non-placeholder text node.
func extractContributor(cell *goquery.Selection) string {
	if span := cell.Find("span.font-medium").First(); span.Length() > 0 {
		return cleanCellText(span.Text())
	}

	found := ""
	cell.Contents().EachWithBreak(func(i int, s *goquery.Selection) bool {
		text := cleanCellText(s.Text())
		if text == "" {
			return true
		}
		if _, placeholder := placeholderContributors[text]; placeholder {
			return true
		}
		found = text
		return false
	})
	return found
}

// extractAmount pulls the amount text from the second cell. The badge nests
// an svg currency icon after the numeral, so only the text nodes before any
// child element are taken; fallback is the whole cell text.
func extractAmount(cell *goquery.Selection) string {
	badge := cell.Find("div[data-slot='badge']").First()
	if badge.Length() == 0 {
		text := cleanCellText(cell.Text())
		if text == "" {
			return "0"
		}
		return text
	}

	var parts []string
	badge.Contents().EachWithBreak(func(i int, s *goquery.Selection) bool {
		if goquery.NodeName(s) == "svg" {
			return false
		}
		parts = append(parts, s.Text())
		return true
	})
	text := cleanCellText(strings.Join(parts, ""))
	if text == "" {
		return "0"
	}
	return text
}

// extractDate pulls the date text from the third cell.
func extractDate(cell *goquery.Selection) string {
	if span := cell.Find("span.text-muted-foreground").First(); span.Length() > 0 {
		return cleanCellText(span.Text())
	}
	return cleanCellText(cell.Text())
}

// cleanCellText folds NBSP variants and squeezes whitespace so selector
// output is comparable across render passes.
func cleanCellText(s string) string {
	s = strings.NewReplacer("\u00a0", " ", "\u2007", " ", "\u202f", " ").Replace(s)
	return strings.TrimSpace(multiSpaceRegex.ReplaceAllString(s, " "))
}

func normalizeAll(raws []rawRecord) []DonationRecord {
	records := make([]DonationRecord, 0, len(raws))
	for _, raw := range raws {
		records = append(records, normalizeRecord(raw))
	}
	return records
}
