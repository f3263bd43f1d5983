// Package fake is an offline stand-in for the KRS platform, used in local
// runs and tests when no base URL is configured.
package fake

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/integrations/krs"
)

type FakeClient struct {
	// RowsPerWindow controls how many rows one date window pretends to hold.
	RowsPerWindow int
}

func New() *FakeClient { return &FakeClient{RowsPerWindow: 25} }

func (f *FakeClient) Authenticate(ctx context.Context, username, password string) (string, error) {
	return "fake-token", nil
}

func (f *FakeClient) ListShipments(ctx context.Context, req krs.PageRequest) (krs.PageResult, error) {
	total := f.RowsPerWindow
	if total <= 0 {
		total = 25
	}

	start := req.Offset
	if start > total {
		start = total
	}
	end := start + req.Limit
	if end > total {
		end = total
	}

	rows := make([]krs.ShipmentRow, 0, end-start)
	for i := start; i < end; i++ {
		rows = append(rows, f.row(req, i))
	}
	return krs.PageResult{Rows: rows, Total: &total}, nil
}

func (f *FakeClient) row(req krs.PageRequest, i int) krs.ShipmentRow {
	h := fnv.New32a()
	_, _ = h.Write([]byte(req.StartDate.Format("2006-01")))
	seed := h.Sum32()

	srn := int64(seed%100_000)*1000 + int64(i) + 1
	day := req.StartDate.AddDate(0, 0, i%28)

	return krs.ShipmentRow{
		SaleRecordNumber: fmt.Sprintf("%d", srn),
		ShipmentID:       fmt.Sprintf("FAKE-%s-%04d", req.StartDate.Format("200601"), i),
		BuyerName:        fmt.Sprintf("Fake Buyer %d", i%7),
		BuyerAddress:     "Jl. Contoh No. 1",
		BuyerCity:        "Jakarta",
		BuyerProvince:    "DKI Jakarta",
		BuyerZip:         "10110",
		BuyerCountry:     "ID",
		BuyerPhone:       fmt.Sprintf("08121234%04d", i%7),
		BuyerPhoneCode:   "+62",
		ServiceName:      "Regular",
		Carrier:          "JNE",
		Fee:              "25,000",
		TrackingNumber:   fmt.Sprintf("JNE%08d", srn),
		ReceivedAt:       day.Format("2006/01/02") + " 09:00:00",
		LabelCreatedAt:   "null",
		ShippedAt:        "null",
	}
}
