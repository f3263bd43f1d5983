package pgstore

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/models"
	"github.com/pkg/errors"
)

// UpsertBuyer is the manual-entry path. It honors the same (country, phone)
// natural key as the sync reconciler.
func (s *Storage) UpsertBuyer(ctx context.Context, in models.BuyerUpsertInput) (*models.Buyer, bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id, created, err := upsertBuyerTx(ctx, tx, &in)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, errors.Wrap(err, "commit tx")
	}

	b, err := s.GetBuyerByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return b, created, nil
}

func (s *Storage) GetBuyerByID(ctx context.Context, id uint64) (*models.Buyer, error) {
	return s.getBuyer(ctx, `WHERE id = $1`, id)
}

func (s *Storage) GetBuyerByKey(ctx context.Context, country, phone string) (*models.Buyer, error) {
	return s.getBuyer(ctx, `WHERE country = $1 AND phone = $2`, country, phone)
}

func (s *Storage) getBuyer(ctx context.Context, where string, args ...any) (*models.Buyer, error) {
	var b models.Buyer
	err := s.db.QueryRow(ctx, `
SELECT id, name, address, address2, city, province, postal_code, country, phone, email, created_at, updated_at
FROM buyers `+where,
		args...,
	).Scan(&b.ID, &b.Name, &b.Address, &b.Address2, &b.City, &b.Province, &b.PostalCode, &b.Country, &b.Phone, &b.Email, &b.CreatedAt, &b.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, models.ErrBuyerNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select buyer")
	}
	return &b, nil
}

// MergeBuyers reassigns every order and sale record from source to target and
// removes the source buyer. All or nothing.
func (s *Storage) MergeBuyers(ctx context.Context, sourceID, targetID uint64) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, id := range []uint64{sourceID, targetID} {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM buyers WHERE id = $1)`, id).Scan(&exists); err != nil {
			return errors.Wrap(err, "check buyer")
		}
		if !exists {
			return errors.Wrapf(models.ErrBuyerNotFound, "buyer %d", id)
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE orders SET buyer_id = $2, updated_at = now() WHERE buyer_id = $1`, sourceID, targetID); err != nil {
		return errors.Wrap(err, "reassign orders")
	}
	if _, err := tx.Exec(ctx, `UPDATE buyer_sale_records SET buyer_id = $2, updated_at = now() WHERE buyer_id = $1`, sourceID, targetID); err != nil {
		return errors.Wrap(err, "reassign sale records")
	}
	if _, err := tx.Exec(ctx, `DELETE FROM buyers WHERE id = $1`, sourceID); err != nil {
		return errors.Wrap(err, "delete source buyer")
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

// DeleteBuyer removes a buyer and its sale records. A buyer with dependent
// orders is rejected unless force is set; force cascades to the orders, and
// to their package details when cascadePackages is set.
func (s *Storage) DeleteBuyer(ctx context.Context, id uint64, force, cascadePackages bool) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM buyers WHERE id = $1)`, id).Scan(&exists); err != nil {
		return errors.Wrap(err, "check buyer")
	}
	if !exists {
		return models.ErrBuyerNotFound
	}

	var orderCount int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM orders WHERE buyer_id = $1`, id).Scan(&orderCount); err != nil {
		return errors.Wrap(err, "count orders")
	}
	if orderCount > 0 {
		if !force {
			return &models.ReferentialBlockError{Entity: "buyer", ID: id, Dependents: "orders"}
		}
		// Orders reference the packages, so collect ids first, drop the
		// orders, then drop the packages.
		var packageIDs []uint64
		if cascadePackages {
			rows, err := tx.Query(ctx, `SELECT package_id FROM orders WHERE buyer_id = $1 AND package_id IS NOT NULL`, id)
			if err != nil {
				return errors.Wrap(err, "select package ids")
			}
			for rows.Next() {
				var pid uint64
				if err := rows.Scan(&pid); err != nil {
					rows.Close()
					return errors.Wrap(err, "scan package id")
				}
				packageIDs = append(packageIDs, pid)
			}
			rows.Close()
			if rows.Err() != nil {
				return errors.Wrap(rows.Err(), "rows")
			}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM orders WHERE buyer_id = $1`, id); err != nil {
			return errors.Wrap(err, "delete orders")
		}
		if len(packageIDs) > 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM package_details WHERE id = ANY($1)`, packageIDs); err != nil {
				return errors.Wrap(err, "delete package details")
			}
		}
	}

	// Sync may have moved a sale record to this buyer while an order of the
	// previous owner still references the SRN. Such records cannot be deleted
	// without breaking the order's linkage, so the whole delete is rejected.
	var foreignRefs bool
	if err := tx.QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1 FROM orders o
  JOIN buyer_sale_records r ON r.srn = o.srn
  WHERE r.buyer_id = $1 AND o.buyer_id <> $1
)`, id).Scan(&foreignRefs); err != nil {
		return errors.Wrap(err, "check sale record references")
	}
	if foreignRefs {
		return &models.ReferentialBlockError{Entity: "buyer", ID: id, Dependents: "orders referencing its sale records"}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM buyer_sale_records WHERE buyer_id = $1`, id); err != nil {
		return errors.Wrap(err, "delete sale records")
	}
	if _, err := tx.Exec(ctx, `DELETE FROM buyers WHERE id = $1`, id); err != nil {
		return errors.Wrap(err, "delete buyer")
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

// ClearUnreferencedBuyers removes buyers with no dependent orders (and their
// sale records) ahead of a full resync. Buyers that orders still point at are
// kept so referential integrity survives the wipe.
func (s *Storage) ClearUnreferencedBuyers(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
DELETE FROM buyer_sale_records r
WHERE NOT EXISTS (SELECT 1 FROM orders o WHERE o.srn = r.srn)
  AND NOT EXISTS (SELECT 1 FROM orders o WHERE o.buyer_id = r.buyer_id)
`); err != nil {
		return 0, errors.Wrap(err, "clear sale records")
	}

	tag, err := tx.Exec(ctx, `
DELETE FROM buyers b
WHERE NOT EXISTS (SELECT 1 FROM orders o WHERE o.buyer_id = b.id)
  AND NOT EXISTS (SELECT 1 FROM buyer_sale_records r WHERE r.buyer_id = b.id)
`)
	if err != nil {
		return 0, errors.Wrap(err, "clear buyers")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit tx")
	}
	return tag.RowsAffected(), nil
}
