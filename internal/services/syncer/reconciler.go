package syncer

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/integrations/krs"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/models"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/phone"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/storage/pgstore"
)

// RowStore is the slice of storage the reconciler needs. pgstore.Storage
// implements it; tests substitute an in-memory fake.
type RowStore interface {
	ApplyRow(ctx context.Context, row pgstore.RowUpsert) (pgstore.RowResult, error)
}

type SkipReason string

const (
	SkipMissingIdentifier SkipReason = "missing_identifier"
	SkipInvalidPhone      SkipReason = "invalid_phone"
	SkipStoreError        SkipReason = "store_error"
)

// RowOutcome is the per-row result. Skips are data, not errors: a bad row is
// counted and the batch moves on.
type RowOutcome struct {
	Result  pgstore.RowResult
	Skipped bool
	Reason  SkipReason
}

// Reconciler turns one fetched platform row into idempotent upserts of the
// shipment mirror, the buyer and the sale record.
type Reconciler struct {
	store RowStore
}

func NewReconciler(store RowStore) *Reconciler {
	return &Reconciler{store: store}
}

func (r *Reconciler) ReconcileRow(ctx context.Context, row krs.ShipmentRow) RowOutcome {
	srn := parseSRN(row.SaleRecordNumber)
	shipmentID := strings.TrimSpace(row.ShipmentID)

	// A row with neither identifier cannot be linked to anything.
	if srn == nil && shipmentID == "" {
		return RowOutcome{Skipped: true, Reason: SkipMissingIdentifier}
	}

	phoneRes, err := phone.Normalize(row.BuyerPhone, row.BuyerPhoneCode, row.BuyerCountry)
	if err != nil {
		// No usable digits at all: the buyer key cannot be built.
		slog.Warn("skip row: unusable phone",
			"srn", row.SaleRecordNumber, "shipment_id", shipmentID, "error", err.Error())
		return RowOutcome{Skipped: true, Reason: SkipInvalidPhone}
	}

	trackingNumber, trackingSlug := pickTracking(row)

	upsert := pgstore.RowUpsert{
		Buyer: &models.BuyerUpsertInput{
			Name:       row.BuyerName,
			Address:    row.BuyerAddress,
			Address2:   optString(row.BuyerAddress2),
			City:       row.BuyerCity,
			Province:   row.BuyerProvince,
			PostalCode: row.BuyerZip,
			Country:    strings.ToUpper(strings.TrimSpace(row.BuyerCountry)),
			Phone:      phoneRes.Number,
			Email:      optString(row.BuyerEmail),
		},
		SRN:            srn,
		TrackingNumber: optString(trackingNumber),
		TrackingSlug:   optString(trackingSlug),
	}
	if shipmentID != "" {
		upsert.ShipmentID = &shipmentID
		upsert.Mirror = buildMirror(row, shipmentID, srn)
	}

	res, err := r.store.ApplyRow(ctx, upsert)
	if err != nil {
		slog.Error("reconcile row failed",
			"srn", row.SaleRecordNumber, "shipment_id", shipmentID, "error", err.Error())
		return RowOutcome{Skipped: true, Reason: SkipStoreError}
	}
	return RowOutcome{Result: res}
}

func buildMirror(row krs.ShipmentRow, shipmentID string, srn *int64) *models.ShipmentMirror {
	return &models.ShipmentMirror{
		ShipmentID:       shipmentID,
		SRN:              srn,
		BuyerName:        row.BuyerName,
		BuyerAddress:     joinAddress(row.BuyerAddress, row.BuyerAddress2),
		BuyerCity:        row.BuyerCity,
		BuyerProvince:    row.BuyerProvince,
		BuyerPostalCode:  row.BuyerZip,
		BuyerCountry:     strings.ToUpper(strings.TrimSpace(row.BuyerCountry)),
		ServiceName:      row.ServiceName,
		Carrier:          row.Carrier,
		Fee:              krs.ParseFee(row.Fee),
		ChargeableWeight: row.ChargeableWeight,
		ActualWeight:     row.ActualWeight,
		TrackingNumber:   optString(row.TrackingNumber),
		ReceivedAt:       krs.ParseTime(row.ReceivedAt),
		LabelCreatedAt:   krs.ParseTime(row.LabelCreatedAt),
		ShippedAt:        krs.ParseTime(row.ShippedAt),
	}
}

// pickTracking prefers the row's top-level tracking number, then the first
// entry of the tracking-events list. When no slug is known the lower-cased
// carrier name stands in.
func pickTracking(row krs.ShipmentRow) (number, slug string) {
	number = strings.TrimSpace(row.TrackingNumber)
	if number == "" && len(row.Trackings) > 0 {
		number = strings.TrimSpace(row.Trackings[0].TrackingNumber)
		slug = strings.TrimSpace(row.Trackings[0].Slug)
	}
	if number != "" && slug == "" && row.Carrier != "" {
		slug = strings.ToLower(strings.TrimSpace(row.Carrier))
	}
	return number, slug
}

func parseSRN(s string) *int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return nil
	}
	return &n
}

func optString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func joinAddress(a, b string) string {
	b = strings.TrimSpace(b)
	if b == "" {
		return a
	}
	if a == "" {
		return b
	}
	return a + ", " + b
}
