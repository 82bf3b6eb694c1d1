package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"nftmarketd/core/events"
	"nftmarketd/native/settlement"
	"nftmarketd/storage"
)

func testAddr(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

func hexAddr(b byte) string {
	return fmt.Sprintf("0x%038x%02x", 0, b)
}

type rpcFixture struct {
	server  *httptest.Server
	ledger  *storage.BalanceLedger
	assets  *storage.AssetBook
	engine  *settlement.Engine
	admin   [20]byte
	authHdr string
}

func newRPCFixture(t *testing.T, authToken string) *rpcFixture {
	t.Helper()
	db := storage.NewMemDB()
	state := storage.NewSettlementState(db)
	ledger := storage.NewBalanceLedger(db)
	assets := storage.NewAssetBook(db)
	recorder := events.NewRecorder(64)

	engine := settlement.NewEngine()
	engine.SetState(state)
	engine.SetLedger(ledger)
	engine.SetVault(testAddr(0xEC))
	engine.SetAssets(assets)
	engine.SetEmitter(recorder)

	admin := testAddr(0xAD)
	cfg := &settlement.FeeConfig{PlatformFeeBps: 250, Recipient: testAddr(0xFE)}
	if err := engine.Initialize(admin, cfg, "USDC"); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	server := NewServer(engine, recorder, nil, authToken)
	fixture := &rpcFixture{
		server: httptest.NewServer(server.Router()),
		ledger: ledger,
		assets: assets,
		engine: engine,
		admin:  admin,
	}
	if authToken != "" {
		fixture.authHdr = "Bearer " + authToken
	}
	t.Cleanup(fixture.server.Close)
	return fixture
}

func (f *rpcFixture) call(t *testing.T, method string, params interface{}) RPCResponse {
	t.Helper()
	paramList := []interface{}{}
	if params != nil {
		paramList = append(paramList, params)
	}
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  paramList,
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if f.authHdr != "" {
		req.Header.Set("Authorization", f.authHdr)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var decoded RPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return decoded
}

func decodeResult(t *testing.T, resp RPCResponse, v interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("remarshal result: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func TestSaleLifecycleOverRPC(t *testing.T) {
	f := newRPCFixture(t, "")
	seller := testAddr(1)
	buyer := testAddr(2)
	asset := settlement.AssetRef{TokenID: 42}
	if err := f.assets.Mint(seller, asset); err != nil {
		t.Fatalf("mint asset: %v", err)
	}
	if err := f.ledger.Mint("USDC", buyer, big.NewInt(1000)); err != nil {
		t.Fatalf("mint funds: %v", err)
	}

	var sale saleView
	decodeResult(t, f.call(t, "market_createSale", map[string]interface{}{
		"seller":   hexAddr(1),
		"contract": hexAddr(0),
		"tokenId":  42,
		"price":    "1000",
		"currency": "usdc",
		"duration": 3600,
	}), &sale)
	if sale.ID != 1 || sale.State != "pending" || sale.Currency != "USDC" {
		t.Fatalf("unexpected sale view %+v", sale)
	}

	var execution executionView
	decodeResult(t, f.call(t, "market_executeSale", map[string]interface{}{
		"id":      sale.ID,
		"buyer":   hexAddr(2),
		"payment": "1000",
	}), &execution)
	if !execution.FundsDistributed || !strings.HasPrefix(execution.Receipt, "0x") {
		t.Fatalf("unexpected execution view %+v", execution)
	}

	var fetched saleView
	decodeResult(t, f.call(t, "market_getSale", map[string]interface{}{"id": sale.ID}), &fetched)
	if fetched.State != "executed" || fetched.PlatformFee != "25" || fetched.Buyer != hexAddr(2) {
		t.Fatalf("unexpected stored sale %+v", fetched)
	}

	var recent []eventView
	decodeResult(t, f.call(t, "market_recentEvents", nil), &recent)
	if len(recent) < 2 {
		t.Fatalf("expected created and executed events, got %+v", recent)
	}
	last := recent[len(recent)-1]
	if last.Type != settlement.EventTypeSaleExecuted || last.Attributes["platformFee"] != "25" {
		t.Fatalf("unexpected last event %+v", last)
	}
}

func TestAuctionLifecycleOverRPC(t *testing.T) {
	f := newRPCFixture(t, "")
	seller := testAddr(1)
	bidder := testAddr(2)
	asset := settlement.AssetRef{TokenID: 7}
	if err := f.assets.Mint(seller, asset); err != nil {
		t.Fatalf("mint asset: %v", err)
	}
	if err := f.ledger.Mint("USDC", bidder, big.NewInt(500)); err != nil {
		t.Fatalf("mint funds: %v", err)
	}

	var auction auctionView
	decodeResult(t, f.call(t, "market_createAuction", map[string]interface{}{
		"seller":        hexAddr(1),
		"contract":      hexAddr(0),
		"tokenId":       7,
		"startingPrice": "100",
		"bidIncrement":  "10",
		"duration":      3600,
	}), &auction)

	var bidAck map[string]bool
	decodeResult(t, f.call(t, "market_placeBid", map[string]interface{}{
		"auctionId": auction.ID,
		"bidder":    hexAddr(2),
		"amount":    "200",
	}), &bidAck)
	if !bidAck["accepted"] {
		t.Fatalf("bid not accepted: %+v", bidAck)
	}

	var fetched auctionView
	decodeResult(t, f.call(t, "market_getAuction", map[string]interface{}{"id": auction.ID}), &fetched)
	if fetched.HighestBid != "200" || fetched.HighestBidder != hexAddr(2) {
		t.Fatalf("unexpected auction view %+v", fetched)
	}
	if len(fetched.Bids) != 1 {
		t.Fatalf("expected one bid, got %+v", fetched.Bids)
	}
}

func TestRPCErrorMapping(t *testing.T) {
	f := newRPCFixture(t, "")

	resp := f.call(t, "market_getSale", map[string]interface{}{"id": 99})
	if resp.Error == nil || resp.Error.Code != codeNotFound {
		t.Fatalf("expected not-found error, got %+v", resp.Error)
	}

	resp = f.call(t, "market_withdrawFees", map[string]interface{}{
		"caller":   hexAddr(9),
		"currency": "USDC",
		"amount":   "10",
	})
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized error, got %+v", resp.Error)
	}

	resp = f.call(t, "market_bogusMethod", nil)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found, got %+v", resp.Error)
	}
}

func TestRPCBearerAuth(t *testing.T) {
	f := newRPCFixture(t, "sekrit")
	seller := testAddr(1)
	if err := f.assets.Mint(seller, settlement.AssetRef{TokenID: 1}); err != nil {
		t.Fatalf("mint asset: %v", err)
	}
	params := map[string]interface{}{
		"seller":   hexAddr(1),
		"contract": hexAddr(0),
		"tokenId":  1,
		"price":    "100",
		"currency": "USDC",
		"duration": 3600,
	}

	// Missing token rejected on mutating methods.
	f.authHdr = ""
	resp := f.call(t, "market_createSale", params)
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized, got %+v", resp.Error)
	}

	// Reads pass without a token.
	resp = f.call(t, "market_recentEvents", nil)
	if resp.Error != nil {
		t.Fatalf("read should not require auth: %+v", resp.Error)
	}

	f.authHdr = "Bearer sekrit"
	var sale saleView
	decodeResult(t, f.call(t, "market_createSale", params), &sale)
	if sale.ID != 1 {
		t.Fatalf("unexpected sale %+v", sale)
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newRPCFixture(t, "")
	resp, err := http.Get(f.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", resp.StatusCode)
	}
}
