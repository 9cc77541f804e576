package scrape

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// Summary is the subset of receiver metrics shown by the scraper.
type Summary struct {
	Datagrams        float64
	Bytes            float64
	Messages         map[string]float64
	DecodeErrors     map[string]float64
	Gaps             map[string]float64
	Missing          float64
	Dropped          map[string]float64
	ExpectedSequence float64
}

func Summarize(f Families) Summary {
	return Summary{
		Datagrams:        f.Total("mdfeed_datagrams_total"),
		Bytes:            f.Total("mdfeed_datagram_bytes_total"),
		Messages:         f.ByLabel("mdfeed_messages_total", "type"),
		DecodeErrors:     f.ByLabel("mdfeed_decode_errors_total", "kind"),
		Gaps:             f.ByLabel("mdfeed_sequence_gaps_total", "direction"),
		Missing:          f.Total("mdfeed_sequence_missing_total"),
		Dropped:          f.ByLabel("mdfeed_channel_dropped_total", "channel"),
		ExpectedSequence: f.Total("mdfeed_expected_sequence"),
	}
}

// Write prints the summary block.
func (s Summary) Write(w io.Writer, at time.Time) {
	fmt.Fprintf(w, "\n=== mdfeed metrics (%s) ===\n", at.Format("15:04:05"))
	fmt.Fprintf(w, "Datagrams: %.0f (%.0f bytes)\n", s.Datagrams, s.Bytes)
	fmt.Fprintf(w, "Messages: %s\n", formatCounts(s.Messages))
	fmt.Fprintf(w, "Decode errors: %s\n", formatCounts(s.DecodeErrors))
	fmt.Fprintf(w, "Gaps: %.0f total %s, ~%.0f missing\n", sum(s.Gaps), formatCounts(s.Gaps), s.Missing)
	fmt.Fprintf(w, "Dropped: %s\n", formatCounts(s.Dropped))
	fmt.Fprintf(w, "Expected sequence: %.0f\n", s.ExpectedSequence)
	fmt.Fprintln(w, strings.Repeat("-", 50))
}

func sum(m map[string]float64) float64 {
	var total float64
	for _, v := range m {
		total += v
	}
	return total
}

func formatCounts(m map[string]float64) string {
	if len(m) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%.0f", k, m[k]))
	}
	return "[" + strings.Join(parts, " ") + "]"
}
