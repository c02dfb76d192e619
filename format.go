package main

import (
	"fmt"
	"strconv"
	"strings"
)

// discordMessageLimit leaves headroom under the hard 2000-char cap for the
// code-block fences chunking may re-open.
const discordMessageLimit = 1900

// formatWithSpaces renders 1500000 as "1 500 000", the grouping style the
// source site itself uses.
func formatWithSpaces(n int) string {
	s := strconv.Itoa(n)
	if len(s) <= 3 {
		return s
	}
	var groups []string
	for i := len(s); i > 0; i -= 3 {
		start := i - 3
		if start < 0 {
			start = 0
		}
		groups = append([]string{s[start:i]}, groups...)
	}
	return strings.Join(groups, " ")
}

// formatLeaderboard renders the grouped-totals projection as a monospace
// table.
func formatLeaderboard(name string, totals []ContributorTotal, limit int) string {
	if len(totals) == 0 {
		return fmt.Sprintf("No donations recorded yet for **%s**.", name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🏆 **Top %d contributors — %s**\n```\n", min(limit, len(totals)), name)
	fmt.Fprintf(&b, "%-3s %-25s %12s %7s\n", "#", "Contributor", "Total", "Count")
	b.WriteString(strings.Repeat("-", 50) + "\n")
	for i, t := range totals {
		if i >= limit {
			break
		}
		fmt.Fprintf(&b, "%-3d %-25s %12s %7d\n", i+1, t.Contributor, formatWithSpaces(t.TotalAmount), t.DonationCount)
	}
	b.WriteString("```")
	return b.String()
}

// formatStats renders the detailed-stats projection.
func formatStats(name string, stats SourceStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 **Stats — %s**\n", name)
	fmt.Fprintf(&b, "• Donations: `%d`\n", stats.TotalCount)
	fmt.Fprintf(&b, "• Contributors: `%d`\n", stats.DistinctContributor)
	fmt.Fprintf(&b, "• Total amount: `%s`\n", formatWithSpaces(stats.TotalAmount))
	fmt.Fprintf(&b, "• Last update: `%s`", lastUpdateDisplay(stats.LastUpdate))
	return b.String()
}

// formatDelta renders the outcome of a refresh run.
func formatDelta(name string, result ScrapeResult, stats DeltaStats, outcome PersistOutcome) string {
	switch result.Termination {
	case reasonConnectionFailed:
		return fmt.Sprintf("😔 Sorry, I could not reach the page for **%s** this time. I'll try again on the next cycle.", name)
	case reasonTableNotFound:
		return fmt.Sprintf("😔 Sorry, the donation table for **%s** did not load (stale cookies, maybe?). Nothing was changed.", name)
	}

	if stats.NewCount == 0 {
		return fmt.Sprintf("ℹ️ **%s**: scraped %d records, nothing new.", name, len(result.Records))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🆕 **%s**: %d new donations\n", name, stats.NewCount)
	fmt.Fprintf(&b, "• New contributors: `%d`\n", stats.NewContributors)
	fmt.Fprintf(&b, "• New amount: `%s`\n", formatWithSpaces(stats.NewAmount))
	fmt.Fprintf(&b, "• Saved: `%d`  Skipped: `%d`  Errors: `%d`", outcome.Saved, outcome.Skipped, outcome.Errors)
	return b.String()
}

// formatHistory renders the most recent donations as a monospace table.
func formatHistory(name string, records []DonationRecord) string {
	if len(records) == 0 {
		return fmt.Sprintf("No donations recorded yet for **%s**.", name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🕘 **Recent donations — %s**\n```\n", name)
	fmt.Fprintf(&b, "%-10s %-25s %12s\n", "Date", "Contributor", "Amount")
	b.WriteString(strings.Repeat("-", 50) + "\n")
	for _, r := range records {
		fmt.Fprintf(&b, "%-10s %-25s %12s\n", r.EventDate, r.Contributor, formatWithSpaces(r.Amount))
	}
	b.WriteString("```")
	return b.String()
}

// formatSourceList renders the registry for the !guilds command.
func formatSourceList(sources []SourceRegistration) string {
	if len(sources) == 0 {
		return "No guilds registered yet. Use `!addguild <name> <url>` to add one."
	}
	var b strings.Builder
	b.WriteString("📋 **Registered guilds**\n")
	for i, src := range sources {
		fmt.Fprintf(&b, "%d. %s\n", i+1, src.Name)
	}
	fmt.Fprintf(&b, "Total: %d", len(sources))
	return b.String()
}

// splitMessage chunks a long message under the Discord size cap, breaking on
// line boundaries and re-opening code blocks across chunks so monospace
// tables stay aligned.
func splitMessage(message string) []string {
	if len(message) <= discordMessageLimit {
		return []string{message}
	}

	var parts []string
	var current strings.Builder
	inCodeBlock := false

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunk := current.String()
		if inCodeBlock {
			chunk += "\n```"
		}
		parts = append(parts, chunk)
		current.Reset()
		if inCodeBlock {
			current.WriteString("```\n")
		}
	}

	for _, line := range strings.Split(message, "\n") {
		if current.Len()+len(line)+1 > discordMessageLimit {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inCodeBlock = !inCodeBlock
		}
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}
