package models

import "time"

// SyncState is the orchestrator phase. Exactly one pass runs at a time.
type SyncState string

const (
	SyncStateIdle    SyncState = "idle"
	SyncStateSyncing SyncState = "syncing"
)

// SyncStatus is a point-in-time snapshot for diagnostics.
type SyncStatus struct {
	State        SyncState  `json:"state"`
	Online       bool       `json:"online"`
	Pending      int        `json:"pending"`
	Exhausted    int        `json:"exhausted"`
	LastSyncTime *time.Time `json:"last_sync_time,omitempty"`
}

// SyncReport summarizes one finished sync pass.
type SyncReport struct {
	Attempted  int           `json:"attempted"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Exhausted  int           `json:"exhausted"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finished_at"`
}

func (r SyncReport) Clean() bool {
	return r.Failed == 0 && r.Exhausted == 0
}

// QueueStatus reports queue depth without mutating it.
type QueueStatus struct {
	Pending    int              `json:"pending"`
	Exhausted  int              `json:"exhausted"`
	ByPriority map[Priority]int `json:"by_priority,omitempty"`
	OldestAge  time.Duration    `json:"oldest_age,omitempty"`
}

// CacheStats reports live cache usage. Expired entries are counted
// separately and left in place.
type CacheStats struct {
	Entries int        `json:"entries"`
	Expired int        `json:"expired"`
	Bytes   int64      `json:"bytes"`
	Oldest  *time.Time `json:"oldest,omitempty"`
	Newest  *time.Time `json:"newest,omitempty"`
}
