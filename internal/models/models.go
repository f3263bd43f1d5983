package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Buyer is the recipient identity. (Country, Phone) is the natural key:
// Phone is always the canonical international form produced by internal/phone.
type Buyer struct {
	ID         uint64
	Name       string
	Address    string
	Address2   *string
	City       string
	Province   string
	PostalCode string
	Country    string // ISO-2
	Phone      string
	Email      *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// BuyerSaleRecord is one KRS sale record (SRN). The SRN itself is the primary
// key, assigned by the platform. Shipment id, tracking number and tracking slug
// fill in as the platform progresses the shipment.
type BuyerSaleRecord struct {
	SRN            int64
	BuyerID        uint64
	ShipmentID     *string
	TrackingNumber *string
	TrackingSlug   *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ShipmentMirror is a denormalized snapshot of platform-side shipment state,
// keyed by the external shipment id and replaced wholesale on every sync.
type ShipmentMirror struct {
	ID               uint64
	ShipmentID       string
	SRN              *int64
	BuyerName        string
	BuyerAddress     string
	BuyerCity        string
	BuyerProvince    string
	BuyerPostalCode  string
	BuyerCountry     string
	ServiceName      string
	Carrier          string
	Fee              decimal.Decimal
	ChargeableWeight *float64
	ActualWeight     *float64
	TrackingNumber   *string
	ReceivedAt       *time.Time
	LabelCreatedAt   *time.Time
	ShippedAt        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Order rows are created by the order-management side. The sync core only
// reads the references and fills in SRN / tracking data as it is discovered.
type Order struct {
	ID                uint64
	BuyerID           uint64
	SRN               *int64
	PackageID         *uint64
	KRSTrackingNumber *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type BuyerUpsertInput struct {
	Name       string
	Address    string
	Address2   *string
	City       string
	Province   string
	PostalCode string
	Country    string
	Phone      string
	Email      *string
}
