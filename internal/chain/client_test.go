package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(ClientConfig{
		Endpoint:  server.URL,
		Contract:  "0x1111111111111111111111111111111111111111",
		Token:     "0x2222222222222222222222222222222222222222",
		Recipient: "0x3333333333333333333333333333333333333333",
	}, nil)
	return client, server
}

func rpcResult(w http.ResponseWriter, result string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"result":  result,
	})
}

func TestCurrentPrice_ReadsQuote(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Method != "eth_call" {
			t.Errorf("expected eth_call, got %s", req.Method)
		}
		// 0.005 ether in wei
		rpcResult(w, "0x11c37937e08000")
	})

	quote, err := client.CurrentPrice(context.Background(), ModeNative)
	if err != nil {
		t.Fatalf("CurrentPrice failed: %v", err)
	}
	if quote.Amount.String() != "5000000000000000" {
		t.Errorf("unexpected amount: %s", quote.Amount)
	}
	if !quote.Valid() {
		t.Error("expected valid quote")
	}
}

func TestCurrentPrice_ZeroIsNotUnavailable(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		rpcResult(w, "0x0000000000000000000000000000000000000000000000000000000000000000")
	})

	quote, err := client.CurrentPrice(context.Background(), ModeToken)
	if err != nil {
		t.Fatalf("a legitimate zero must not error: %v", err)
	}
	if quote.Amount.Sign() != 0 {
		t.Errorf("expected zero amount, got %s", quote.Amount)
	}
	if quote.Valid() {
		t.Error("zero quote must not validate as payable")
	}
}

func TestCurrentPrice_EmptyResultIsUnavailable(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		rpcResult(w, "0x")
	})

	_, err := client.CurrentPrice(context.Background(), ModeNative)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestCurrentPrice_RPCErrorSurfacesTyped(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"header not found"}}`))
	})

	_, err := client.CurrentPrice(context.Background(), ModeNative)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *RPCError, got %v", err)
	}
	if rpcErr.Code != -32000 {
		t.Errorf("unexpected code: %d", rpcErr.Code)
	}
}

func TestAllowance_EncodesBothAddresses(t *testing.T) {
	var gotData string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		params := req.Params[0].(map[string]interface{})
		gotData = params["data"].(string)
		rpcResult(w, "0x0000000000000000000000000000000000000000000000000de0b6b3a7640000")
	})

	owner := "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	spender := "0x1111111111111111111111111111111111111111"
	granted, err := client.Allowance(context.Background(), owner, spender)
	if err != nil {
		t.Fatalf("Allowance failed: %v", err)
	}
	if granted.String() != "1000000000000000000" {
		t.Errorf("unexpected allowance: %s", granted)
	}
	if !strings.HasPrefix(gotData, "0x"+selAllowance) {
		t.Errorf("calldata missing allowance selector: %s", gotData)
	}
	if !strings.Contains(gotData, strings.ToLower(strings.TrimPrefix(owner, "0x"))) {
		t.Errorf("calldata missing owner: %s", gotData)
	}
}

func TestPaymentMode_MapsContractValue(t *testing.T) {
	for result, want := range map[string]PaymentMode{
		"0x0000000000000000000000000000000000000000000000000000000000000000": ModeNative,
		"0x0000000000000000000000000000000000000000000000000000000000000001": ModeToken,
	} {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			rpcResult(w, result)
		})
		mode, err := client.PaymentMode(context.Background())
		if err != nil {
			t.Fatalf("PaymentMode failed: %v", err)
		}
		if mode != want {
			t.Errorf("result %s: expected %s, got %s", result, want, mode)
		}
	}
}

func TestCall_HTTPFailureIsUnavailable(t *testing.T) {
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	server.Close()

	_, err := client.Balance(context.Background(), "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on transport failure, got %v", err)
	}
}
