package main

import (
	"log"
	"strings"
)

// computeDelta classifies the normalized records of a scrape against the
// persisted key set. It works on a local copy of the seen set, so duplicate
// rows within the same scrape collapse too, not just rows already in
// storage. Records keep their extraction order.
func computeDelta(records []DonationRecord, existing map[string]struct{}) ([]DonationRecord, DeltaStats) {
	seen := make(map[string]struct{}, len(existing)+len(records))
	for k := range existing {
		seen[k] = struct{}{}
	}

	var newRecords []DonationRecord
	var stats DeltaStats
	newContributors := make(map[string]struct{})

	for _, r := range records {
		key := r.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		newRecords = append(newRecords, r)
		stats.NewCount++
		stats.NewAmount += r.Amount
		newContributors[r.Contributor] = struct{}{}
	}
	stats.NewContributors = len(newContributors)

	return newRecords, stats
}

// persistNewRecords inserts each record individually. A failing row (most
// commonly the UNIQUE constraint when a concurrent run already stored the
// same event) is logged and counted; the rest of the batch proceeds.
// Partial success is the expected outcome here, not a failure mode.
func persistNewRecords(src SourceRegistration, newRecords []DonationRecord) PersistOutcome {
	var outcome PersistOutcome
	for _, r := range newRecords {
		if err := insertDonation(src, r); err != nil {
			if isUniqueViolation(err) {
				outcome.Skipped++
				continue
			}
			log.Printf("[E] [Delta] Failed to insert donation %s for '%s': %v", r.Key(), src.Name, err)
			outcome.Errors++
			continue
		}
		outcome.Saved++
	}
	return outcome
}

// isUniqueViolation detects the sqlite natural-key constraint error without
// depending on driver error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// reconcile runs the full delta step for one source: reload the persisted
// key set, diff, persist. It returns the stats for reporting even when some
// rows fail to insert.
func reconcile(src SourceRegistration, result ScrapeResult) (DeltaStats, PersistOutcome, error) {
	existing, err := loadExistingKeys(src)
	if err != nil {
		return DeltaStats{}, PersistOutcome{}, err
	}

	newRecords, stats := computeDelta(result.Records, existing)
	if len(newRecords) == 0 {
		log.Printf("[I] [Delta] '%s': no new donations (scraped %d, known %d).",
			src.Name, len(result.Records), len(existing))
		return stats, PersistOutcome{}, nil
	}

	outcome := persistNewRecords(src, newRecords)
	log.Printf("[I] [Delta] '%s': saved %d new donations, skipped %d, errors %d.",
		src.Name, outcome.Saved, outcome.Skipped, outcome.Errors)
	return stats, outcome, nil
}
