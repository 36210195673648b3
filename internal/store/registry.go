package store

import "sync"

// locations tracks the store locations open in this process.
var locations = struct {
	mu   sync.Mutex
	open map[string]struct{}
}{open: make(map[string]struct{})}

func claimLocation(loc string) bool {
	locations.mu.Lock()
	defer locations.mu.Unlock()
	if _, busy := locations.open[loc]; busy {
		return false
	}
	locations.open[loc] = struct{}{}
	return true
}

func releaseLocation(loc string) {
	locations.mu.Lock()
	defer locations.mu.Unlock()
	delete(locations.open, loc)
}
