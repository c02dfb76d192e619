package main

import (
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"net/url"
	"regexp"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var db *sql.DB

const createSourcesTableSQL = `
	CREATE TABLE IF NOT EXISTS sources (
		"id" INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		"name" TEXT NOT NULL UNIQUE,
		"url" TEXT NOT NULL,
		"table_name" TEXT NOT NULL,
		"created_at" TEXT NOT NULL
	);`

// donationTableSQL is instantiated per source. The UNIQUE constraint over the
// natural key is the storage-level half of the two-layer dedup: even if two
// runs race past the in-process key set, the second insert of the same
// logical event fails here instead of double-counting.
const donationTableSQL = `
	CREATE TABLE IF NOT EXISTS %q (
		"id" INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		"contributor" TEXT NOT NULL,
		"amount" INTEGER NOT NULL,
		"event_date" TEXT NOT NULL,
		"observed_at" TEXT NOT NULL,
		UNIQUE("contributor", "amount", "event_date")
	);`

func initDB(filepath string) (*sql.DB, error) {
	var err error
	db, err = sql.Open("sqlite3", filepath)
	if err != nil {
		return nil, err
	}

	if _, err = db.Exec(createSourcesTableSQL); err != nil {
		return nil, fmt.Errorf("could not create sources table: %w", err)
	}

	// Per-source donation tables are created lazily by ensureSourceTable,
	// but make sure every registered source still has its partition (the
	// DB file may have been copied without them).
	rows, err := db.Query("SELECT table_name FROM sources")
	if err != nil {
		return nil, fmt.Errorf("could not enumerate sources: %w", err)
	}
	defer rows.Close()
	var tables []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	for _, t := range tables {
		if _, err := db.Exec(fmt.Sprintf(donationTableSQL, t)); err != nil {
			return nil, fmt.Errorf("could not ensure donation table %s: %w", t, err)
		}
	}

	return db, nil
}

var tableSanitizeRegex = regexp.MustCompile(`[^a-z0-9_]+`)

// tableNameForURL derives the storage partition identifier for a source.
// It must be stable across re-registrations and collision-resistant, so it
// combines the sanitized guild slug from the URL path with a short hash of
// the full URL.
func tableNameForURL(sourceURL string) string {
	slug := "guild"
	if u, err := url.Parse(sourceURL); err == nil {
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		for i, p := range parts {
			if p == "guild" && i+1 < len(parts) {
				slug = parts[i+1]
				break
			}
		}
	}
	slug = strings.ToLower(slug)
	slug = tableSanitizeRegex.ReplaceAllString(slug, "_")
	slug = strings.Trim(slug, "_")
	if slug == "" {
		slug = "guild"
	}
	if len(slug) > 40 {
		slug = slug[:40]
	}

	sum := sha1.Sum([]byte(sourceURL))
	return fmt.Sprintf("donations_%s_%s", slug, hex.EncodeToString(sum[:4]))
}

// ensureSourceTable creates the donation partition for a source if missing.
func ensureSourceTable(src SourceRegistration) error {
	_, err := db.Exec(fmt.Sprintf(donationTableSQL, src.TableName))
	if err != nil {
		return fmt.Errorf("could not create donation table %s: %w", src.TableName, err)
	}
	return nil
}

// saveSource registers a source (or updates the URL of an existing name) and
// creates its donation partition.
func saveSource(name, sourceURL string) (SourceRegistration, error) {
	src := SourceRegistration{
		Name:      name,
		URL:       sourceURL,
		TableName: tableNameForURL(sourceURL),
		CreatedAt: time.Now().Format(time.RFC3339),
	}

	_, err := db.Exec(`
		INSERT INTO sources (name, url, table_name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			url=excluded.url,
			table_name=excluded.table_name`,
		src.Name, src.URL, src.TableName, src.CreatedAt)
	if err != nil {
		return SourceRegistration{}, fmt.Errorf("failed to save source '%s': %w", name, err)
	}

	if err := ensureSourceTable(src); err != nil {
		return SourceRegistration{}, err
	}
	return src, nil
}

// loadAllSources reads the registry, ordered by name for a stable keyboard.
func loadAllSources() ([]SourceRegistration, error) {
	rows, err := db.Query("SELECT name, url, table_name, created_at FROM sources ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}
	defer rows.Close()

	var sources []SourceRegistration
	for rows.Next() {
		var src SourceRegistration
		if err := rows.Scan(&src.Name, &src.URL, &src.TableName, &src.CreatedAt); err != nil {
			log.Printf("[W] [DB] Failed to scan source row: %v", err)
			continue
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// deleteSource removes a registration and drops its donation partition.
// This is the only path that ever deletes donation records.
func deleteSource(src SourceRegistration) error {
	if _, err := db.Exec("DELETE FROM sources WHERE name = ?", src.Name); err != nil {
		return fmt.Errorf("failed to delete source '%s': %w", src.Name, err)
	}
	if _, err := db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %q", src.TableName)); err != nil {
		return fmt.Errorf("failed to drop donation table %s: %w", src.TableName, err)
	}
	return nil
}

// loadExistingKeys materializes the persisted natural keys for a source.
// It is reloaded fresh on every run instead of cached across runs, trading
// a cheap query for correctness under concurrent modification.
func loadExistingKeys(src SourceRegistration) (map[string]struct{}, error) {
	rows, err := db.Query(fmt.Sprintf(
		`SELECT contributor, amount, event_date FROM %q`, src.TableName))
	if err != nil {
		return nil, fmt.Errorf("failed to load existing keys for '%s': %w", src.Name, err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var contributor, eventDate string
		var amount int
		if err := rows.Scan(&contributor, &amount, &eventDate); err != nil {
			log.Printf("[W] [DB] Failed to scan donation key row: %v", err)
			continue
		}
		keys[donationKey(contributor, amount, eventDate)] = struct{}{}
	}
	return keys, rows.Err()
}

// insertDonation inserts one record into the source's partition. A UNIQUE
// violation is reported via the returned error; callers count it instead of
// aborting their batch.
func insertDonation(src SourceRegistration, r DonationRecord) error {
	_, err := db.Exec(fmt.Sprintf(
		`INSERT INTO %q (contributor, amount, event_date, observed_at) VALUES (?, ?, ?, ?)`,
		src.TableName),
		r.Contributor, r.Amount, r.EventDate, time.Now().Format(time.RFC3339))
	return err
}

// groupedTotals returns the leaderboard projection: per-contributor totals,
// descending by total amount. Ties fall back to sqlite's stable group order.
func groupedTotals(src SourceRegistration, limit int) ([]ContributorTotal, error) {
	rows, err := db.Query(fmt.Sprintf(`
		SELECT contributor, SUM(amount) AS total, COUNT(*) AS cnt
		FROM %q
		GROUP BY contributor
		ORDER BY total DESC
		LIMIT ?`, src.TableName), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query grouped totals for '%s': %w", src.Name, err)
	}
	defer rows.Close()

	var totals []ContributorTotal
	for rows.Next() {
		var t ContributorTotal
		if err := rows.Scan(&t.Contributor, &t.TotalAmount, &t.DonationCount); err != nil {
			log.Printf("[W] [DB] Failed to scan grouped total row: %v", err)
			continue
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// recentDonations returns the newest records for one source, most recent
// event first; same-day records keep insertion order newest-first.
func recentDonations(src SourceRegistration, limit int) ([]DonationRecord, error) {
	rows, err := db.Query(fmt.Sprintf(`
		SELECT contributor, amount, event_date, observed_at
		FROM %q
		ORDER BY event_date DESC, id DESC
		LIMIT ?`, src.TableName), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent donations for '%s': %w", src.Name, err)
	}
	defer rows.Close()

	var records []DonationRecord
	for rows.Next() {
		var r DonationRecord
		if err := rows.Scan(&r.Contributor, &r.Amount, &r.EventDate, &r.ObservedAt); err != nil {
			log.Printf("[W] [DB] Failed to scan donation row: %v", err)
			continue
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// detailedStats returns the summary projection for one source.
func detailedStats(src SourceRegistration) (SourceStats, error) {
	var stats SourceStats
	var totalAmount sql.NullInt64
	err := db.QueryRow(fmt.Sprintf(`
		SELECT COUNT(*), COUNT(DISTINCT contributor), SUM(amount), MAX(observed_at)
		FROM %q`, src.TableName)).
		Scan(&stats.TotalCount, &stats.DistinctContributor, &totalAmount, &stats.LastUpdate)
	if err != nil {
		return SourceStats{}, fmt.Errorf("failed to query stats for '%s': %w", src.Name, err)
	}
	if totalAmount.Valid {
		stats.TotalAmount = int(totalAmount.Int64)
	}
	return stats, nil
}

// lastUpdateDisplay formats a MAX(observed_at) value for chat output.
func lastUpdateDisplay(ts sql.NullString) string {
	if !ts.Valid {
		return "never"
	}
	parsed, err := time.Parse(time.RFC3339, ts.String)
	if err != nil {
		return ts.String
	}
	return parsed.Format("2006-01-02 15:04:05")
}
