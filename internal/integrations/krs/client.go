// Package krs defines the boundary to the external KRS shipping platform.
// Concrete transports live in subpackages (krshttp for the real API, fake for
// tests and local runs).
package krs

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PageRequest struct {
	StartDate    time.Time
	EndDate      time.Time
	AccountCode  string
	SortOrder    string
	StatusFilter string
	Offset       int
	Limit        int
	Token        string
}

type PageResult struct {
	Rows []ShipmentRow
	// Total is the platform-reported row count for the window, when the
	// platform bothers to send one.
	Total *int
}

// TrackingEntry is one element of a row's tracking-events list.
type TrackingEntry struct {
	Slug           string
	TrackingNumber string
}

// ShipmentRow is one listing row as returned by the platform. Timestamps and
// the fee stay in wire form; ParseTime/ParseFee convert on consumption.
type ShipmentRow struct {
	SaleRecordNumber string
	ShipmentID       string

	BuyerName      string
	BuyerAddress   string
	BuyerAddress2  string
	BuyerCity      string
	BuyerProvince  string
	BuyerZip       string
	BuyerCountry   string
	BuyerPhone     string
	BuyerPhoneCode string
	BuyerEmail     string

	ServiceName      string
	Carrier          string
	Fee              string
	ChargeableWeight *float64
	ActualWeight     *float64

	TrackingNumber string
	Trackings      []TrackingEntry

	ReceivedAt     string
	LabelCreatedAt string
	ShippedAt      string
}

type Client interface {
	Authenticate(ctx context.Context, username, password string) (string, error)
	ListShipments(ctx context.Context, req PageRequest) (PageResult, error)
}

const timeLayout = "2006/01/02 15:04:05"

// ParseTime parses a platform lifecycle timestamp. The platform sends the
// literal string "null" (or nothing) for stages not reached yet.
func ParseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// ParseFee parses a formatted fee string like "104,000". Unparseable input
// yields zero rather than an error: the fee is display data on a mirror row.
func ParseFee(s string) decimal.Decimal {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
