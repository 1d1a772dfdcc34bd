package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
)

// jsonRPCServer answers JSON-RPC 2.0 calls from a method table.
func jsonRPCServer(t *testing.T, results map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if res, ok := results[req.Method]; ok {
			resp["result"] = res
		} else {
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEVMClient(t *testing.T) {
	srv := jsonRPCServer(t, map[string]any{
		"eth_gasPrice":    "0x77359400",          // 2 gwei
		"eth_getBalance":  "0x1bc16d674ec80000", // 2 ether
		"eth_blockNumber": "0x10",
	})

	c, err := NewEVMClient(context.Background(), domain.NetworkBase, srv.URL, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	gas, err := c.GasPrice(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 2.0, gas, 1e-9)

	bal, err := c.Balance(context.Background(), "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(2)), "got %s", bal)

	_, err = c.Balance(context.Background(), "nope")
	assert.Error(t, err)

	require.NoError(t, c.Ping(context.Background()))
}

func TestNewEVMClientRejectsSolana(t *testing.T) {
	_, err := NewEVMClient(context.Background(), domain.NetworkSolana, "http://localhost", zap.NewNop())
	assert.ErrorIs(t, err, domain.ErrUnsupportedNetwork)
}

func TestSolanaClient(t *testing.T) {
	srv := jsonRPCServer(t, map[string]any{
		"getBalance": map[string]any{"context": map[string]any{"slot": 1}, "value": 1_500_000_000},
		"getRecentPrioritizationFees": []map[string]any{
			{"slot": 1, "prioritizationFee": 300},
			{"slot": 2, "prioritizationFee": 100},
			{"slot": 3, "prioritizationFee": 200},
		},
		"getHealth": "ok",
	})

	c, err := NewSolanaClient([]string{srv.URL}, zap.NewNop())
	require.NoError(t, err)

	bal, err := c.Balance(context.Background(), "So11111111111111111111111111111111111111112")
	require.NoError(t, err)
	assert.Equal(t, "1.5", bal.String())

	gas, err := c.GasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 200.0, gas)

	require.NoError(t, c.Ping(context.Background()))
}

func TestSolanaClientWrapsNodeErrors(t *testing.T) {
	srv := jsonRPCServer(t, map[string]any{})
	c, err := NewSolanaClient([]string{srv.URL}, zap.NewNop())
	require.NoError(t, err)

	_, err = c.GasPrice(context.Background())
	var rpcErr *Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, "getRecentPrioritizationFees", rpcErr.Method)
	assert.Equal(t, srv.URL, rpcErr.NodeURL)
}

func TestMedianFee(t *testing.T) {
	assert.Zero(t, medianFee(nil))
	assert.Equal(t, 5.0, medianFee([]uint64{5}))
	assert.Equal(t, 15.0, medianFee([]uint64{20, 10}))
}

type stubClient struct {
	network domain.Network
	gas     float64
	err     error
}

func (s stubClient) Network() domain.Network { return s.network }
func (s stubClient) Balance(context.Context, string) (decimal.Decimal, error) {
	return decimal.NewFromInt(1), s.err
}
func (s stubClient) GasPrice(context.Context) (float64, error) { return s.gas, s.err }
func (s stubClient) Ping(context.Context) error                { return s.err }
func (s stubClient) Close()                                    {}

func TestRouter(t *testing.T) {
	r := NewRouter(
		stubClient{network: domain.NetworkSolana, gas: 7},
		stubClient{network: domain.NetworkEthereum, err: errors.New("down")},
	)

	gas, err := r.GasPrice(context.Background(), domain.NetworkSolana)
	require.NoError(t, err)
	assert.Equal(t, 7.0, gas)

	_, err = r.GasPrice(context.Background(), domain.NetworkBase)
	assert.ErrorIs(t, err, ErrNoClient)

	assert.Error(t, r.Ping(context.Background()))
	assert.Equal(t, []domain.Network{domain.NetworkEthereum, domain.NetworkSolana}, r.Networks())
}
