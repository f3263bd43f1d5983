package messages

import "time"

// SyncCompleted is published after every successful sync run so downstream
// consumers (reporting, label printing) can react without polling.
type SyncCompleted struct {
	CompletedAt time.Time `json:"completed_at"`
	FullSync    bool      `json:"full_sync"`

	RowsFetched int `json:"rows_fetched"`
	Created     int `json:"created"`
	Updated     int `json:"updated"`
	Skipped     int `json:"skipped"`

	DateRange string `json:"date_range"`
}
