package pgstore

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/models"
	"github.com/pkg/errors"
)

// RowUpsert is everything the reconciler derived from one platform row.
// Nil sections are absent from the row and simply not written.
type RowUpsert struct {
	Mirror *models.ShipmentMirror
	Buyer  *models.BuyerUpsertInput

	SRN            *int64
	ShipmentID     *string
	TrackingNumber *string
	TrackingSlug   *string
}

type RowResult struct {
	Created int
	Updated int

	// TrackingUpdatedOrders lists orders whose tracking number changed while
	// applying this row, so the caller can announce the discovery downstream.
	TrackingUpdatedOrders []uint64
}

// ApplyRow writes one row's entities inside a single transaction, so a
// failure on one row never leaves another row half-written. Safe to re-run:
// every write is keyed on the entity's natural key.
func (s *Storage) ApplyRow(ctx context.Context, row RowUpsert) (RowResult, error) {
	var res RowResult

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return res, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if row.Mirror != nil {
		inserted, err := upsertMirrorTx(ctx, tx, row.Mirror)
		if err != nil {
			return res, err
		}
		res.bump(inserted)
	}

	var buyerID uint64
	if row.Buyer != nil {
		id, inserted, err := upsertBuyerTx(ctx, tx, row.Buyer)
		if err != nil {
			return res, err
		}
		buyerID = id
		res.bump(inserted)
	}

	if row.SRN != nil && buyerID != 0 {
		var inserted bool
		err := tx.QueryRow(ctx, `
INSERT INTO buyer_sale_records (srn, buyer_id, shipment_id, tracking_number, tracking_slug, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,now(),now())
ON CONFLICT (srn) DO UPDATE SET
  buyer_id = EXCLUDED.buyer_id,
  shipment_id = COALESCE(EXCLUDED.shipment_id, buyer_sale_records.shipment_id),
  tracking_number = COALESCE(EXCLUDED.tracking_number, buyer_sale_records.tracking_number),
  tracking_slug = COALESCE(EXCLUDED.tracking_slug, buyer_sale_records.tracking_slug),
  updated_at = now()
RETURNING (xmax = 0)
`, *row.SRN, buyerID, row.ShipmentID, row.TrackingNumber, row.TrackingSlug).Scan(&inserted)
		if err != nil {
			return res, errors.Wrap(err, "upsert sale record")
		}
		res.bump(inserted)

		if row.TrackingNumber != nil {
			rows, err := tx.Query(ctx, `
UPDATE orders
SET krs_tracking_number = $2, updated_at = now()
WHERE srn = $1 AND krs_tracking_number IS DISTINCT FROM $2
RETURNING id
`, *row.SRN, *row.TrackingNumber)
			if err != nil {
				return res, errors.Wrap(err, "propagate tracking to orders")
			}
			for rows.Next() {
				var orderID uint64
				if err := rows.Scan(&orderID); err != nil {
					rows.Close()
					return res, errors.Wrap(err, "scan order id")
				}
				res.TrackingUpdatedOrders = append(res.TrackingUpdatedOrders, orderID)
			}
			rows.Close()
			if rows.Err() != nil {
				return res, errors.Wrap(rows.Err(), "rows")
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return res, errors.Wrap(err, "commit tx")
	}
	return res, nil
}

func (r *RowResult) bump(inserted bool) {
	if inserted {
		r.Created++
	} else {
		r.Updated++
	}
}

// upsertMirrorTx replaces the mirror row wholesale: it is a read model of
// platform state, never merged field-by-field.
func upsertMirrorTx(ctx context.Context, tx pgx.Tx, m *models.ShipmentMirror) (bool, error) {
	var inserted bool
	err := tx.QueryRow(ctx, `
INSERT INTO shipment_mirrors (
  shipment_id, srn,
  buyer_name, buyer_address, buyer_city, buyer_province, buyer_postal_code, buyer_country,
  service_name, carrier, fee, chargeable_weight, actual_weight, tracking_number,
  received_at, label_created_at, shipped_at,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,now(),now())
ON CONFLICT (shipment_id) DO UPDATE SET
  srn = EXCLUDED.srn,
  buyer_name = EXCLUDED.buyer_name,
  buyer_address = EXCLUDED.buyer_address,
  buyer_city = EXCLUDED.buyer_city,
  buyer_province = EXCLUDED.buyer_province,
  buyer_postal_code = EXCLUDED.buyer_postal_code,
  buyer_country = EXCLUDED.buyer_country,
  service_name = EXCLUDED.service_name,
  carrier = EXCLUDED.carrier,
  fee = EXCLUDED.fee,
  chargeable_weight = EXCLUDED.chargeable_weight,
  actual_weight = EXCLUDED.actual_weight,
  tracking_number = EXCLUDED.tracking_number,
  received_at = EXCLUDED.received_at,
  label_created_at = EXCLUDED.label_created_at,
  shipped_at = EXCLUDED.shipped_at,
  updated_at = now()
RETURNING (xmax = 0)
`,
		m.ShipmentID, m.SRN,
		m.BuyerName, m.BuyerAddress, m.BuyerCity, m.BuyerProvince, m.BuyerPostalCode, m.BuyerCountry,
		m.ServiceName, m.Carrier, m.Fee.String(), m.ChargeableWeight, m.ActualWeight, m.TrackingNumber,
		m.ReceivedAt, m.LabelCreatedAt, m.ShippedAt,
	).Scan(&inserted)
	if err != nil {
		return false, errors.Wrap(err, "upsert shipment mirror")
	}
	return inserted, nil
}

// upsertBuyerTx creates or updates a buyer by its (country, phone) natural
// key. Mutable contact fields are overwritten; the key itself never changes.
func upsertBuyerTx(ctx context.Context, tx pgx.Tx, b *models.BuyerUpsertInput) (uint64, bool, error) {
	var id uint64
	var inserted bool
	err := tx.QueryRow(ctx, `
INSERT INTO buyers (name, address, address2, city, province, postal_code, country, phone, email, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now(),now())
ON CONFLICT (country, phone) DO UPDATE SET
  name = EXCLUDED.name,
  address = EXCLUDED.address,
  address2 = EXCLUDED.address2,
  city = EXCLUDED.city,
  province = EXCLUDED.province,
  postal_code = EXCLUDED.postal_code,
  email = COALESCE(EXCLUDED.email, buyers.email),
  updated_at = now()
RETURNING id, (xmax = 0)
`, b.Name, b.Address, b.Address2, b.City, b.Province, b.PostalCode, b.Country, b.Phone, b.Email).Scan(&id, &inserted)
	if err != nil {
		return 0, false, errors.Wrap(err, "upsert buyer")
	}
	return id, inserted, nil
}
