package reader

import "time"

// Progress is one snapshot of a run, rebuilt fresh each time it is emitted.
// TotalPages 0 means the probe never found a total; percentage then falls
// back to the last externally supplied value and no ETA is computed.
type Progress struct {
	CurrentPage               int     `json:"currentPage"`
	TotalPages                int     `json:"totalPages,omitempty"`
	Percentage                float64 `json:"percentage"`
	ElapsedSeconds            float64 `json:"elapsedSeconds"`
	EstimatedRemainingSeconds float64 `json:"estimatedRemainingSeconds,omitempty"`
}

// Snapshot derives the reportable progress fields from the raw counters.
// The ETA extrapolates the observed pace: (elapsed/current) * remaining,
// defined only once at least one page was turned and the total is known.
func Snapshot(currentPage, totalPages int, elapsed time.Duration, fallbackPercent float64) Progress {
	p := Progress{
		CurrentPage:    currentPage,
		TotalPages:     totalPages,
		ElapsedSeconds: elapsed.Seconds(),
	}
	if totalPages > 0 {
		p.Percentage = float64(currentPage) / float64(totalPages) * 100
		if currentPage > 0 {
			pace := elapsed.Seconds() / float64(currentPage)
			p.EstimatedRemainingSeconds = pace * float64(totalPages-currentPage)
		}
	} else {
		p.Percentage = fallbackPercent
	}
	return p
}
