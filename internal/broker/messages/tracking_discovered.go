package messages

import "time"

// TrackingDiscovered is published when a sync run attaches a newly discovered
// tracking number to orders that were waiting for it.
type TrackingDiscovered struct {
	SRN            int64     `json:"srn"`
	TrackingNumber string    `json:"tracking_number"`
	TrackingSlug   string    `json:"tracking_slug,omitempty"`
	OrderIDs       []uint64  `json:"order_ids"`
	DiscoveredAt   time.Time `json:"discovered_at"`
}
