package pgstore

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/models"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var errShipmentMirrorNotFound = errors.New("shipment mirror not found")

func (s *Storage) GetShipmentMirror(ctx context.Context, shipmentID string) (*models.ShipmentMirror, error) {
	var m models.ShipmentMirror
	var fee string
	err := s.db.QueryRow(ctx, `
SELECT
  id, shipment_id, srn,
  buyer_name, buyer_address, buyer_city, buyer_province, buyer_postal_code, buyer_country,
  service_name, carrier, fee::text, chargeable_weight, actual_weight, tracking_number,
  received_at, label_created_at, shipped_at,
  created_at, updated_at
FROM shipment_mirrors
WHERE shipment_id = $1
`, shipmentID).Scan(
		&m.ID, &m.ShipmentID, &m.SRN,
		&m.BuyerName, &m.BuyerAddress, &m.BuyerCity, &m.BuyerProvince, &m.BuyerPostalCode, &m.BuyerCountry,
		&m.ServiceName, &m.Carrier, &fee, &m.ChargeableWeight, &m.ActualWeight, &m.TrackingNumber,
		&m.ReceivedAt, &m.LabelCreatedAt, &m.ShippedAt,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errShipmentMirrorNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment mirror")
	}

	m.Fee, err = decimal.NewFromString(fee)
	if err != nil {
		return nil, errors.Wrap(err, "parse fee")
	}
	return &m, nil
}

func (s *Storage) CountShipmentMirrors(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM shipment_mirrors`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count shipment mirrors")
	}
	return n, nil
}
