package types

// FeedStats contains refresh counters for one feed
type FeedStats struct {
	Feed         Feed   `json:"feed"`
	Status       Status `json:"status"`
	Ticks        uint64 `json:"ticks"`
	SkippedTicks uint64 `json:"skipped_ticks"`
	Successes    uint64 `json:"successes"`
	Failures     uint64 `json:"failures"`
	LastDuration string `json:"last_duration"`
}

// SchedulerStats contains performance and health statistics
type SchedulerStats struct {
	IsRunning      bool        `json:"is_running"`
	Uptime         string      `json:"uptime"`
	WatchedAddress string      `json:"watched_address,omitempty"`
	Feeds          []FeedStats `json:"feeds"`
}
