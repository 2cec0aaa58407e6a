package rova

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
	return NewClient(Config{BaseURL: srv.URL, Token: "rova-token"}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTransferSuccess(t *testing.T) {
	var got transferBody
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transfer" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer rova-token" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"status":"SUCCESS","message":"ok","data":{"status":"SUCCESSFUL","transactionReference":"RV-1"}}`))
	})

	res, err := c.Transfer(context.Background(), providers.TransferRequest{
		Reference:           "ref-1",
		Amount:              money.Kobo(7850),
		DestinationAccount:  "1234567890",
		DestinationBankCode: "214001",
		Narration:           "Payout-Mama Put Kitchen Lekki",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != providers.StatusSuccess || res.ProviderReference != "RV-1" {
		t.Errorf("result = %+v", res)
	}
	if got.Amount != "78.50" {
		t.Errorf("amount sent = %q, want 78.50", got.Amount)
	}
	if len([]rune(got.Narration)) > 20 {
		t.Errorf("narration not truncated: %q", got.Narration)
	}
	if got.ClientReference != "ref-1" {
		t.Errorf("client reference = %q", got.ClientReference)
	}
}

func TestTransferRequiresInnerSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"SUCCESS","data":{"status":"FAILED","message":"Insufficient funds","code":"51"}}`))
	})

	res, err := c.Transfer(context.Background(), providers.TransferRequest{Reference: "ref-2", Amount: money.Kobo(100)})
	if !errors.Is(err, providers.ErrProviderRejected) {
		t.Fatalf("err = %v, want rejected", err)
	}
	var rej *providers.RejectedError
	if !errors.As(err, &rej) || rej.Code != "51" {
		t.Errorf("rejected = %+v", rej)
	}
	if res.Status != providers.StatusFailed {
		t.Errorf("status = %s", res.Status)
	}
}

func TestTransferPending(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"SUCCESS","data":{"status":"PROCESSING"}}`))
	})
	res, err := c.Transfer(context.Background(), providers.TransferRequest{Reference: "ref-3", Amount: money.Kobo(100)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != providers.StatusPending {
		t.Errorf("status = %s, want pending", res.Status)
	}
}

func TestEnvelopeFailureIsRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"FAILED","message":"invalid account"}`))
	})
	_, err := c.VerifyAccountName(context.Background(), "0000000000", "000003")
	if !errors.Is(err, providers.ErrProviderRejected) {
		t.Fatalf("err = %v", err)
	}
}

func TestServerErrorIsUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := c.ListBanks(context.Background())
	if !errors.Is(err, providers.ErrProviderUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestOpenAccountAndBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/virtual-account/static":
			_, _ = w.Write([]byte(`{"status":"SUCCESS","data":{"successfulVirtualAccounts":[{"virtualAccountNumber":"9012345678"}]}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/virtual-account/static/9012345678":
			_, _ = w.Write([]byte(`{"status":"SUCCESS","data":{"virtualAccountId":"va-1","virtualAccountName":"ADA OBI","bankName":"Rova","transactionAmount":"1500.25"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"status":"FAILED"}`))
		}
	})

	acct, err := c.OpenAccount(context.Background(), providers.OpenAccountRequest{Email: "ada@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if acct.AccountNumber != "9012345678" {
		t.Errorf("account = %+v", acct)
	}

	bal, err := c.AccountBalance(context.Background(), "9012345678")
	if err != nil {
		t.Fatal(err)
	}
	if bal.Balance.AmountMinor != 150025 || bal.AccountName != "ADA OBI" {
		t.Errorf("balance = %+v", bal)
	}
}
