package buyers

import (
	"context"

	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/models"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/phone"
	"github.com/pkg/errors"
)

type Repository interface {
	UpsertBuyer(ctx context.Context, in models.BuyerUpsertInput) (*models.Buyer, bool, error)
	GetBuyerByID(ctx context.Context, id uint64) (*models.Buyer, error)
	MergeBuyers(ctx context.Context, sourceID, targetID uint64) error
	DeleteBuyer(ctx context.Context, id uint64, force, cascadePackages bool) error
	AssignSaleRecordToOrder(ctx context.Context, orderID uint64, srn int64) error
}

// CascadeConfig pins down what a forced buyer deletion takes with it. Kept
// explicit (and configurable) instead of hard-coding one cascade path.
type CascadeConfig struct {
	DeletePackageDetails bool
}

type Service struct {
	repo    Repository
	cascade CascadeConfig
}

func New(repo Repository, cascade CascadeConfig) *Service {
	return &Service{repo: repo, cascade: cascade}
}

// UpsertInput is the manual-entry form of a buyer: the phone arrives raw and
// is canonicalized here, so manual entry and sync share one natural key.
type UpsertInput struct {
	Name        string
	Address     string
	Address2    *string
	City        string
	Province    string
	PostalCode  string
	Country     string
	Phone       string
	CallingCode string
	Email       *string
}

func (s *Service) Upsert(ctx context.Context, in UpsertInput) (*models.Buyer, bool, error) {
	if in.Name == "" {
		return nil, false, errors.New("name is required")
	}
	if in.Country == "" {
		return nil, false, errors.New("country is required")
	}

	res, err := phone.Normalize(in.Phone, in.CallingCode, in.Country)
	if err != nil {
		return nil, false, errors.Wrap(err, "normalize phone")
	}

	return s.repo.UpsertBuyer(ctx, models.BuyerUpsertInput{
		Name:       in.Name,
		Address:    in.Address,
		Address2:   in.Address2,
		City:       in.City,
		Province:   in.Province,
		PostalCode: in.PostalCode,
		Country:    in.Country,
		Phone:      res.Number,
		Email:      in.Email,
	})
}

type MergeResult struct {
	OK         bool   `json:"ok"`
	MergedInto uint64 `json:"mergedInto"`
}

// Merge reassigns all of source's orders and sale records to target and
// deletes source, atomically. It is the sanctioned way to remove a buyer that
// still has dependent orders.
func (s *Service) Merge(ctx context.Context, sourceID, targetID uint64) (MergeResult, error) {
	if sourceID == 0 || targetID == 0 {
		return MergeResult{}, errors.New("sourceBuyerId and targetBuyerId are required")
	}
	if sourceID == targetID {
		return MergeResult{}, errors.New("cannot merge a buyer into itself")
	}

	if err := s.repo.MergeBuyers(ctx, sourceID, targetID); err != nil {
		return MergeResult{}, err
	}
	return MergeResult{OK: true, MergedInto: targetID}, nil
}

func (s *Service) Delete(ctx context.Context, id uint64, force bool) error {
	if id == 0 {
		return errors.New("buyerId is required")
	}
	return s.repo.DeleteBuyer(ctx, id, force, s.cascade.DeletePackageDetails)
}

func (s *Service) Get(ctx context.Context, id uint64) (*models.Buyer, error) {
	if id == 0 {
		return nil, errors.New("buyerId is required")
	}
	return s.repo.GetBuyerByID(ctx, id)
}

// AssignSaleRecord links an SRN to an order. A record held by a different
// buyer than the order's surfaces as a uniqueness conflict to the caller.
func (s *Service) AssignSaleRecord(ctx context.Context, orderID uint64, srn int64) error {
	if orderID == 0 {
		return errors.New("orderId is required")
	}
	if srn <= 0 {
		return errors.New("srn must be a positive integer")
	}
	return s.repo.AssignSaleRecordToOrder(ctx, orderID, srn)
}
