package main

import "database/sql"

// DonationRecord is one observed contribution event from a guild's donation
// table. Two records with the same (Contributor, Amount, EventDate) are the
// same logical event: the source exposes no stronger identifier, so two
// genuine donations by the same contributor for the same amount on the same
// day collapse into one stored record. This is a documented limitation of
// the source data model, not something the pipeline tries to repair.
type DonationRecord struct {
	Contributor string
	Amount      int
	EventDate   string // "YYYY-MM-DD"
	ObservedAt  string // assigned by the storage layer on insert
}

// Key returns the natural key used for dedup, built from normalized values.
func (r DonationRecord) Key() string {
	return donationKey(r.Contributor, r.Amount, r.EventDate)
}

// SourceRegistration is one registered scrape target.
type SourceRegistration struct {
	Name      string // unique display name
	URL       string // donation-settings page
	TableName string // storage partition, derived from URL
	CreatedAt string
}

// Termination reasons for a scrape run. An empty record set is only
// meaningful together with one of these: "zero donations" terminates with
// reasonStalled, while reasonTableNotFound / reasonConnectionFailed mean the
// page could not be read at all.
const (
	reasonStalled          = "stalled"
	reasonTableNotFound    = "table_not_found"
	reasonMaxAttempts      = "max_attempts_exhausted"
	reasonConnectionFailed = "connection_failed"
)

// ScrapeResult is the outcome of one pipeline run against one source.
type ScrapeResult struct {
	Records     []DonationRecord
	Attempts    int
	Termination string
}

// DeltaStats summarizes the records of a scrape that were not already
// persisted for the source.
type DeltaStats struct {
	NewCount        int
	NewContributors int
	NewAmount       int
}

// PersistOutcome counts the per-record results of one persist batch.
// Partial success is the expected outcome: a row that races a concurrent
// writer into the UNIQUE constraint lands in Errors without aborting the
// batch.
type PersistOutcome struct {
	Saved   int
	Skipped int
	Errors  int
}

// SourceStats is the detailed read projection shown by the bot.
type SourceStats struct {
	TotalCount          int
	DistinctContributor int
	TotalAmount         int
	LastUpdate          sql.NullString
}

// ContributorTotal is one row of the grouped leaderboard projection.
type ContributorTotal struct {
	Contributor   string
	TotalAmount   int
	DonationCount int
}

// rawRecord is a pre-normalization row as extracted from markup.
type rawRecord struct {
	Contributor string
	Amount      string
	Date        string
}
