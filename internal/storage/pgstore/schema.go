package pgstore

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS buyers (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  address TEXT NOT NULL DEFAULT '',
  address2 TEXT NULL,
  city TEXT NOT NULL DEFAULT '',
  province TEXT NOT NULL DEFAULT '',
  postal_code TEXT NOT NULL DEFAULT '',
  country TEXT NOT NULL,
  phone TEXT NOT NULL,
  email TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (country, phone)
)`,
		`
CREATE TABLE IF NOT EXISTS buyer_sale_records (
  srn BIGINT PRIMARY KEY,
  buyer_id BIGINT NOT NULL REFERENCES buyers(id),
  shipment_id TEXT NULL,
  tracking_number TEXT NULL,
  tracking_slug TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_buyer_sale_records_buyer_id ON buyer_sale_records(buyer_id)`,
		`
CREATE TABLE IF NOT EXISTS shipment_mirrors (
  id BIGSERIAL PRIMARY KEY,
  shipment_id TEXT NOT NULL,
  srn BIGINT NULL,
  buyer_name TEXT NOT NULL DEFAULT '',
  buyer_address TEXT NOT NULL DEFAULT '',
  buyer_city TEXT NOT NULL DEFAULT '',
  buyer_province TEXT NOT NULL DEFAULT '',
  buyer_postal_code TEXT NOT NULL DEFAULT '',
  buyer_country TEXT NOT NULL DEFAULT '',
  service_name TEXT NOT NULL DEFAULT '',
  carrier TEXT NOT NULL DEFAULT '',
  fee NUMERIC(14,2) NOT NULL DEFAULT 0,
  chargeable_weight DOUBLE PRECISION NULL,
  actual_weight DOUBLE PRECISION NULL,
  tracking_number TEXT NULL,
  received_at TIMESTAMPTZ NULL,
  label_created_at TIMESTAMPTZ NULL,
  shipped_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (shipment_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipment_mirrors_srn ON shipment_mirrors(srn)`,
		`
CREATE TABLE IF NOT EXISTS package_details (
  id BIGSERIAL PRIMARY KEY,
  description TEXT NOT NULL DEFAULT '',
  weight DOUBLE PRECISION NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`
CREATE TABLE IF NOT EXISTS orders (
  id BIGSERIAL PRIMARY KEY,
  buyer_id BIGINT NOT NULL REFERENCES buyers(id),
  srn BIGINT NULL REFERENCES buyer_sale_records(srn),
  package_id BIGINT NULL REFERENCES package_details(id),
  krs_tracking_number TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_buyer_id ON orders(buyer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_srn ON orders(srn)`,
		`
CREATE TABLE IF NOT EXISTS sync_checkpoint (
  id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
  resume_before TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
