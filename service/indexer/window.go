package indexer

import "time"

// InRange reports whether blockTime lies in the closed interval [start, end].
func InRange(blockTime, start, end time.Time) bool {
	return !blockTime.Before(start) && !blockTime.After(end)
}
