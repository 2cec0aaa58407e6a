package paystack

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"payplatform/internal/common/money"
	"payplatform/internal/providers"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, SecretKey: "sk_test"}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestChargeSendsMetadata(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transaction/initialize" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["amount"].(float64) != 500000 {
			t.Errorf("amount = %v", body["amount"])
		}
		meta := body["metadata"].(map[string]any)
		if meta["purpose"] != "ticket" {
			t.Errorf("metadata = %v", meta)
		}
		_, _ = w.Write([]byte(`{"status":true,"data":{"authorization_url":"https://checkout.paystack.com/abc","access_code":"abc","reference":"ref-123"}}`))
	})

	res, err := c.Charge(context.Background(), providers.ChargeRequest{
		Reference: "ref-123",
		Amount:    money.Kobo(500000),
		Email:     "ada@example.com",
		Metadata:  map[string]string{"purpose": "ticket"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.AuthorizationURL != "https://checkout.paystack.com/abc" || res.Reference != "ref-123" {
		t.Errorf("result = %+v", res)
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus providers.Status
		wantMeta   string
	}{
		{
			name:       "success",
			body:       `{"status":true,"data":{"status":"success","reference":"ref-123","amount":500000,"currency":"NGN","metadata":{"purpose":"ticket","copies":2},"customer":{"email":"ada@example.com"}}}`,
			wantStatus: providers.StatusSuccess,
			wantMeta:   "ticket",
		},
		{
			name:       "abandoned",
			body:       `{"status":true,"data":{"status":"abandoned","reference":"ref-123","amount":500000,"metadata":""}}`,
			wantStatus: providers.StatusFailed,
		},
		{
			name:       "ongoing",
			body:       `{"status":true,"data":{"status":"ongoing","reference":"ref-123","amount":500000}}`,
			wantStatus: providers.StatusPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/transaction/verify/ref-123" {
					t.Errorf("path = %s", r.URL.Path)
				}
				_, _ = w.Write([]byte(tt.body))
			})
			res, err := c.Verify(context.Background(), "ref-123")
			if err != nil {
				t.Fatal(err)
			}
			if res.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", res.Status, tt.wantStatus)
			}
			if res.Metadata["purpose"] != tt.wantMeta {
				t.Errorf("metadata = %v", res.Metadata)
			}
			if res.AmountPaid.AmountMinor != 500000 {
				t.Errorf("amount = %d", res.AmountPaid.AmountMinor)
			}
		})
	}
}

func TestVerifyNumericMetadataFlattened(t *testing.T) {
	got := flattenMetadata(json.RawMessage(`{"copies":2,"label":"VIP","none":null}`))
	if got["copies"] != "2" || got["label"] != "VIP" {
		t.Errorf("flatten = %v", got)
	}
	if _, ok := got["none"]; ok {
		t.Error("null values should be dropped")
	}
}

func TestTransferOutcomes(t *testing.T) {
	tests := []struct {
		status     string
		wantStatus providers.Status
		wantErr    bool
	}{
		{status: "success", wantStatus: providers.StatusSuccess},
		{status: "pending", wantStatus: providers.StatusPending},
		{status: "otp", wantStatus: providers.StatusPending},
		{status: "failed", wantStatus: providers.StatusFailed, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"status":true,"data":{"reference":"po-1","transfer_code":"TRF_1","status":"` + tt.status + `"}}`))
			})
			res, err := c.Transfer(context.Background(), providers.TransferRequest{Reference: "po-1", Amount: money.Kobo(499750), RecipientCode: "RCP_1"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if res.Status != tt.wantStatus {
				t.Errorf("status = %s", res.Status)
			}
		})
	}
}

func TestTransferDeclined(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":false,"message":"Your balance is not enough to fulfil this request"}`))
	})
	_, err := c.Transfer(context.Background(), providers.TransferRequest{Reference: "po-2", Amount: money.Kobo(100), RecipientCode: "RCP_1"})
	if !errors.Is(err, providers.ErrProviderRejected) {
		t.Fatalf("err = %v", err)
	}
	if len(providers.ErrorPayload(err)) == 0 {
		t.Error("expected payload to be kept")
	}
}

func TestCreatePayoutRecipient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["type"] != "nuban" || body["bank_code"] != "058" {
			t.Errorf("body = %v", body)
		}
		_, _ = w.Write([]byte(`{"status":true,"data":{"recipient_code":"RCP_abc"}}`))
	})
	code, err := c.CreatePayoutRecipient(context.Background(), providers.RecipientRequest{Name: "Ada", AccountNumber: "0123456789", BankCode: "058"})
	if err != nil {
		t.Fatal(err)
	}
	if code != "RCP_abc" {
		t.Errorf("code = %q", code)
	}
}

func TestFetchTransferStatus(t *testing.T) {
	tests := []struct {
		name       string
		code       int
		body       string
		wantStatus providers.Status
		wantErr    bool
	}{
		{name: "reversed", code: 200, body: `{"status":true,"data":{"reference":"po-1","status":"reversed"}}`, wantStatus: providers.StatusFailed},
		{name: "success", code: 200, body: `{"status":true,"data":{"reference":"po-1","status":"success"}}`, wantStatus: providers.StatusSuccess},
		{name: "unknown reference", code: 404, body: `{"status":false,"message":"Transfer not found"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/transfer/verify/po-1" {
					t.Errorf("path = %s", r.URL.Path)
				}
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			})
			res, err := c.FetchTransferStatus(context.Background(), "po-1")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if !tt.wantErr && res.Status != tt.wantStatus {
				t.Errorf("status = %s", res.Status)
			}
		})
	}
}
