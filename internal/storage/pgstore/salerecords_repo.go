package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/models"
	"github.com/pkg/errors"
)

func (s *Storage) GetSaleRecord(ctx context.Context, srn int64) (*models.BuyerSaleRecord, error) {
	var r models.BuyerSaleRecord
	err := s.db.QueryRow(ctx, `
SELECT srn, buyer_id, shipment_id, tracking_number, tracking_slug, created_at, updated_at
FROM buyer_sale_records
WHERE srn = $1
`, srn).Scan(&r.SRN, &r.BuyerID, &r.ShipmentID, &r.TrackingNumber, &r.TrackingSlug, &r.CreatedAt, &r.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, models.ErrSaleRecordNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select sale record")
	}
	return &r, nil
}

func (s *Storage) ListSaleRecordsByBuyer(ctx context.Context, buyerID uint64) ([]*models.BuyerSaleRecord, error) {
	rows, err := s.db.Query(ctx, `
SELECT srn, buyer_id, shipment_id, tracking_number, tracking_slug, created_at, updated_at
FROM buyer_sale_records
WHERE buyer_id = $1
ORDER BY srn
`, buyerID)
	if err != nil {
		return nil, errors.Wrap(err, "select sale records")
	}
	defer rows.Close()

	var out []*models.BuyerSaleRecord
	for rows.Next() {
		var r models.BuyerSaleRecord
		if err := rows.Scan(&r.SRN, &r.BuyerID, &r.ShipmentID, &r.TrackingNumber, &r.TrackingSlug, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan sale record")
		}
		out = append(out, &r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// AssignSaleRecordToOrder links an existing SRN to an order. The SRN must
// belong to the order's buyer; anything else is a conflict, never a silent
// overwrite. Tracking data already known for the SRN is copied onto the order.
func (s *Storage) AssignSaleRecordToOrder(ctx context.Context, orderID uint64, srn int64) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var orderBuyerID uint64
	err = tx.QueryRow(ctx, `SELECT buyer_id FROM orders WHERE id = $1`, orderID).Scan(&orderBuyerID)
	if err == pgx.ErrNoRows {
		return models.ErrOrderNotFound
	}
	if err != nil {
		return errors.Wrap(err, "select order")
	}

	var recordBuyerID uint64
	var trackingNumber *string
	err = tx.QueryRow(ctx, `SELECT buyer_id, tracking_number FROM buyer_sale_records WHERE srn = $1`, srn).
		Scan(&recordBuyerID, &trackingNumber)
	if err == pgx.ErrNoRows {
		return models.ErrSaleRecordNotFound
	}
	if err != nil {
		return errors.Wrap(err, "select sale record")
	}

	if recordBuyerID != orderBuyerID {
		return &models.UniquenessConflictError{
			Entity: "sale_record",
			Key:    fmt.Sprintf("srn=%d (linked to buyer %d, order belongs to buyer %d)", srn, recordBuyerID, orderBuyerID),
		}
	}

	if _, err := tx.Exec(ctx, `
UPDATE orders SET srn = $2, krs_tracking_number = COALESCE($3, krs_tracking_number), updated_at = now()
WHERE id = $1
`, orderID, srn, trackingNumber); err != nil {
		return errors.Wrap(err, "assign sale record")
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}
