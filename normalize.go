package main

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// maxContributorLen matches the storage column cap.
	maxContributorLen = 25

	// fallbackDate is the sentinel for dates the parser cannot make sense
	// of. Malformed dates all collapse onto this value and become
	// indistinguishable from each other for dedup purposes.
	fallbackDate = "2025-01-01"
)

var (
	nonDigitRegex   = regexp.MustCompile(`[^\d]`)
	multiSpaceRegex = regexp.MustCompile(`\s+`)
)

// shortMonths maps the localized abbreviated month tokens the source renders
// to their two-digit month numbers.
var shortMonths = map[string]string{
	"янв.":  "01",
	"фев.":  "02",
	"мар.":  "03",
	"апр.":  "04",
	"мая":   "05",
	"июн.":  "06",
	"июл.":  "07",
	"авг.":  "08",
	"сен.":  "09",
	"окт.":  "10",
	"нояб.": "11",
	"дек.":  "12",
}

// normalizeAmount converts a locale-grouped numeral string like "1 500" or
// "1 500" into an integer. Inputs with no digits yield 0.
func normalizeAmount(raw string) int {
	cleaned := nonDigitRegex.ReplaceAllString(raw, "")
	if cleaned == "" {
		return 0
	}
	n, err := strconv.Atoi(cleaned)
	if err != nil {
		// Overflow from absurdly long digit runs; treat as unparseable.
		return 0
	}
	return n
}

// normalizeDate converts a localized short date like "15 янв. 2024, 10:00"
// into "2024-01-15". The time-of-day fragment after the first comma is
// discarded. Anything that does not tokenize into a day/month/year triplet
// yields the sentinel fallback date.
func normalizeDate(raw string) string {
	datePart := strings.TrimSpace(strings.SplitN(raw, ",", 2)[0])
	parts := strings.Fields(datePart)
	if len(parts) != 3 {
		return fallbackDate
	}
	day, monthToken, year := parts[0], parts[1], parts[2]

	month, ok := shortMonths[monthToken]
	if !ok {
		month = "01"
	}
	if _, err := strconv.Atoi(day); err != nil {
		return fallbackDate
	}
	if _, err := strconv.Atoi(year); err != nil {
		return fallbackDate
	}
	if len(day) == 1 {
		day = "0" + day
	}
	return fmt.Sprintf("%s-%s-%s", year, month, day)
}

// normalizeName collapses the Unicode space variants the source markup mixes
// in (no-break, figure, narrow no-break) to plain spaces, squeezes runs,
// trims, and truncates to the storage cap.
func normalizeName(raw string) string {
	s := strings.NewReplacer("\u00a0", " ", "\u2007", " ", "\u202f", " ").Replace(raw)
	s = strings.TrimSpace(multiSpaceRegex.ReplaceAllString(s, " "))
	if runes := []rune(s); len(runes) > maxContributorLen {
		s = string(runes[:maxContributorLen])
	}
	return s
}

// donationKey joins the normalized natural-key fields with a separator not
// expected inside contributor names. The same format is used for in-process
// dedup and for materializing the persisted key set.
func donationKey(contributor string, amount int, eventDate string) string {
	return fmt.Sprintf("%s|%d|%s", contributor, amount, eventDate)
}

// normalizeRecord converts a raw extracted row into its canonical form.
func normalizeRecord(raw rawRecord) DonationRecord {
	return DonationRecord{
		Contributor: normalizeName(raw.Contributor),
		Amount:      normalizeAmount(raw.Amount),
		EventDate:   normalizeDate(raw.Date),
	}
}
