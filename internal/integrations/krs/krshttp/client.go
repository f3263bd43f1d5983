package krshttp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/integrations/krs"
	"github.com/pkg/errors"
)

type Client struct {
	baseURL string
	httpc   *http.Client
}

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9000"
	}
	return &Client{
		baseURL: baseURL,
		httpc: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResp struct {
	Token string `json:"token"`
}

func (c *Client) Authenticate(ctx context.Context, username, password string) (string, error) {
	var out loginResp
	err := c.postJSON(ctx, "/api/v1/auth/login", "", loginReq{Username: username, Password: password}, &out)
	if err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("krs login: empty token")
	}
	return out.Token, nil
}

type listReq struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	PosCode   string `json:"posCode"`
	SortOrder string `json:"sortOrder"`
	Status    string `json:"status,omitempty"`
	Offset    int    `json:"offset"`
	Limit     int    `json:"limit"`
}

type listResp struct {
	Data  []wireRow `json:"data"`
	Total *int      `json:"total,omitempty"`
}

type wireRow struct {
	SaleRecordNumber string `json:"saleRecordNumber"`
	ShipmentID       string `json:"shipmentId"`

	BuyerName      string `json:"buyerName"`
	BuyerAddress   string `json:"buyerAddress"`
	BuyerAddress2  string `json:"buyerAddress2"`
	BuyerCity      string `json:"buyerCity"`
	BuyerProvince  string `json:"buyerProvince"`
	BuyerZip       string `json:"buyerZip"`
	BuyerCountry   string `json:"buyerCountry"`
	BuyerPhone     string `json:"buyerPhone"`
	BuyerPhoneCode string `json:"buyerPhoneCode"`
	BuyerEmail     string `json:"buyerEmail"`

	ServiceName      string   `json:"serviceName"`
	Carrier          string   `json:"carrier"`
	ShippingFee      string   `json:"shippingFee"`
	ChargeableWeight *float64 `json:"chargeableWeight"`
	ActualWeight     *float64 `json:"actualWeight"`

	TrackingNumber string `json:"trackingNumber"`
	Trackings      []struct {
		Slug           string `json:"slug"`
		TrackingNumber string `json:"trackingNumber"`
	} `json:"trackings"`

	ReceivedDate string `json:"receivedDate"`
	PrintDate    string `json:"printDate"`
	SendDate     string `json:"sendDate"`
}

const dateLayout = "2006-01-02"

func (c *Client) ListShipments(ctx context.Context, req krs.PageRequest) (krs.PageResult, error) {
	body := listReq{
		StartDate: req.StartDate.Format(dateLayout),
		EndDate:   req.EndDate.Format(dateLayout),
		PosCode:   req.AccountCode,
		SortOrder: req.SortOrder,
		Status:    req.StatusFilter,
		Offset:    req.Offset,
		Limit:     req.Limit,
	}

	var out listResp
	if err := c.postJSON(ctx, "/api/v1/shipments/list", req.Token, body, &out); err != nil {
		return krs.PageResult{}, err
	}

	rows := make([]krs.ShipmentRow, 0, len(out.Data))
	for _, w := range out.Data {
		rows = append(rows, toRow(w))
	}
	return krs.PageResult{Rows: rows, Total: out.Total}, nil
}

func toRow(w wireRow) krs.ShipmentRow {
	r := krs.ShipmentRow{
		SaleRecordNumber: w.SaleRecordNumber,
		ShipmentID:       w.ShipmentID,
		BuyerName:        w.BuyerName,
		BuyerAddress:     w.BuyerAddress,
		BuyerAddress2:    w.BuyerAddress2,
		BuyerCity:        w.BuyerCity,
		BuyerProvince:    w.BuyerProvince,
		BuyerZip:         w.BuyerZip,
		BuyerCountry:     w.BuyerCountry,
		BuyerPhone:       w.BuyerPhone,
		BuyerPhoneCode:   w.BuyerPhoneCode,
		BuyerEmail:       w.BuyerEmail,
		ServiceName:      w.ServiceName,
		Carrier:          w.Carrier,
		Fee:              w.ShippingFee,
		ChargeableWeight: w.ChargeableWeight,
		ActualWeight:     w.ActualWeight,
		TrackingNumber:   w.TrackingNumber,
		ReceivedAt:       w.ReceivedDate,
		LabelCreatedAt:   w.PrintDate,
		ShippedAt:        w.SendDate,
	}
	for _, t := range w.Trackings {
		r.Trackings = append(r.Trackings, krs.TrackingEntry{Slug: t.Slug, TrackingNumber: t.TrackingNumber})
	}
	return r
}

func (c *Client) postJSON(ctx context.Context, path, token string, in, out any) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return errors.Wrap(err, "parse base url")
	}
	u.Path = path

	b, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(b))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &krs.StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}
