package paygate

import (
	"context"
	"crypto/aes"
	"encoding/base64"
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

const testAESKey = "12345678901234567890123456789012"

func TestSignature(t *testing.T) {
	if got := Signature("ref-1", "secret"); len(got) != 32 {
		t.Fatalf("signature length = %d", len(got))
	}
	if Signature("ref-1", "secret") == Signature("ref-2", "secret") {
		t.Error("signature should depend on request ref")
	}
}

func TestEncryptAccountRoundTrip(t *testing.T) {
	enc, err := EncryptAccount("0123456789", testAESKey)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != aes.BlockSize {
		t.Fatalf("ciphertext length = %d, want one block", len(raw))
	}

	block, _ := aes.NewCipher([]byte(testAESKey))
	plain := make([]byte, len(raw))
	block.Decrypt(plain, raw)
	pad := int(plain[len(plain)-1])
	if string(plain[:len(plain)-pad]) != "0123456789" {
		t.Errorf("decrypted = %q", plain)
	}
}

func TestEncryptAccountRejectsShortKey(t *testing.T) {
	if _, err := EncryptAccount("0123456789", "short"); err == nil {
		t.Fatal("expected key size error")
	}
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := Config{BaseURL: srv.URL, APIKey: "key", AppSecret: "secret", AESKey: testAESKey, MockMode: "Inspect", AuthProvider: "Fidelity"}
	return NewClient(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTransferSignsRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body transactRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding body: %v", err)
			return
		}
		if r.Header.Get("Signature") != Signature(body.RequestRef, "secret") {
			t.Errorf("bad signature header")
		}
		if body.Transaction.Amount != 500000 {
			t.Errorf("amount = %d, want kobo", body.Transaction.Amount)
		}
		if body.Auth.Secure == "" || body.Auth.Secure == "0123456789" {
			t.Errorf("account not encrypted: %q", body.Auth.Secure)
		}
		_, _ = w.Write([]byte(`{"status":"Successful","message":"Transaction processed successfully"}`))
	})

	res, err := c.Transfer(context.Background(), providers.TransferRequest{
		Reference:     "txn-1",
		Amount:        money.Kobo(500000),
		SourceAccount: "0123456789",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != providers.StatusSuccess {
		t.Errorf("status = %s", res.Status)
	}
}

func TestTransferWaitingForOTPIsPending(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"WaitingForOTP","message":"OTP sent"}`))
	})
	res, err := c.Transfer(context.Background(), providers.TransferRequest{Reference: "txn-2", Amount: money.Kobo(100), SourceAccount: "0123456789"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != providers.StatusPending {
		t.Errorf("status = %s, want pending", res.Status)
	}
}

func TestTransferFailedIsRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"Failed","message":"Insufficient funds","data":{"provider_response_code":"51"}}`))
	})
	_, err := c.Transfer(context.Background(), providers.TransferRequest{Reference: "txn-3", Amount: money.Kobo(100), SourceAccount: "0123456789"})
	var rej *providers.RejectedError
	if !errors.As(err, &rej) || rej.Code != "51" {
		t.Fatalf("err = %v", err)
	}
}

func TestFetchTransferStatusFailedIsAnswer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transact/query" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"status":"Failed","message":"Transaction reversed","data":{"provider_response_code":"91"}}`))
	})
	res, err := c.FetchTransferStatus(context.Background(), "txn-4")
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if res.Status != providers.StatusFailed {
		t.Errorf("status = %s", res.Status)
	}
}

func TestFetchTransferStatusUnreadableIsError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>bad gateway</html>`))
	})
	if _, err := c.FetchTransferStatus(context.Background(), "txn-5"); err == nil {
		t.Fatal("expected error")
	}
}
