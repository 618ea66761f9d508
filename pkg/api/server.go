package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/nftmarket/pkg/abci"
	"github.com/uhyunpark/nftmarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/nftmarket/pkg/app/core/pubkey"
	"github.com/uhyunpark/nftmarket/pkg/app/fixedprice"
	"github.com/uhyunpark/nftmarket/pkg/chain"
	"github.com/uhyunpark/nftmarket/pkg/crypto"
	"github.com/uhyunpark/nftmarket/pkg/util"
)

const maxTxBody = 1 << 20

// Market is the application surface the server reads and submits to.
// *fixedprice.App implements it.
type Market interface {
	Config() fixedprice.MarketConfig
	Height() uint64
	AppHash() common.Hash
	PendingTxs() int
	PushTx(raw []byte) (common.Hash, error)
	Lookup(side orderbook.Side, key orderbook.Key) (orderbook.Record, error)
	OrdersFor(asset common.Address, tokenID *uint256.Int) []orderbook.Order
	Escrowed(account common.Address) *uint256.Int
	PubKey(account common.Address) ([]byte, error)
	Balances(account common.Address) fixedprice.Balances
}

// Store serves persisted results and the committed order index.
type Store interface {
	GetResult(h common.Hash) (abci.TxResult, bool, error)
	OrdersByAsset(asset common.Address) ([]fixedprice.OrderState, error)
}

// Head reports the last committed block.
type Head interface {
	Head() chain.Block
}

// Options configures a Server. Store, Head and Gatherer are optional.
type Options struct {
	Store          Store
	Head           Head
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	Logger         *zap.SugaredLogger
}

// Server handles REST API and WebSocket connections
type Server struct {
	market  Market
	store   Store
	head    Head
	router  *mux.Router
	hub     *Hub
	origins []string
	logger  *zap.SugaredLogger
	httpSrv *http.Server
}

func NewServer(market Market, opts Options) *Server {
	logger := util.OrNop(opts.Logger)
	s := &Server{
		market:  market,
		store:   opts.Store,
		head:    opts.Head,
		router:  mux.NewRouter(),
		hub:     NewHub(logger.Named("ws")),
		origins: opts.AllowedOrigins,
		logger:  logger,
	}
	if len(s.origins) == 0 {
		s.origins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	s.setupRoutes(opts.Gatherer)
	return s
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/chain/status", s.handleGetChainStatus).Methods("GET")

	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders/{side}/{asset}/{tokenId}/{paymentToken}/{price}", s.handleGetOrder).Methods("GET")

	api.HandleFunc("/escrow/{address}", s.handleGetEscrow).Methods("GET")
	api.HandleFunc("/pubkeys/{address}", s.handleGetPubKey).Methods("GET")
	api.HandleFunc("/balances/{address}", s.handleGetBalances).Methods("GET")

	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")
	api.HandleFunc("/tx/{hash}", s.handleGetTx).Methods("GET")

	api.HandleFunc("/messages/serialize", s.handleSerialize).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
}

// Handler is the router wrapped in CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start runs the WebSocket hub and serves until Shutdown.
func (s *Server) Start(addr string) error {
	go s.hub.Run()
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Infow("api_listening", "addr", addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Hub exposes the WebSocket hub so callers can run it without Start.
func (s *Server) Hub() *Hub { return s.hub }

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.market.Config())
}

func (s *Server) handleGetChainStatus(w http.ResponseWriter, r *http.Request) {
	status := ChainStatus{
		Height:      s.market.Height(),
		AppHash:     s.market.AppHash(),
		MempoolSize: s.market.PendingTxs(),
	}
	if s.head != nil {
		b := s.head.Head()
		if b.Height > 0 {
			status.BlockHash = "0x" + chain.HashOfBlock(b).String()
			status.BlockTime = b.Time.UnixMilli()
		}
	}
	respondJSON(w, status)
}

// handleGetOrders lists both sides for one token, or every committed order on
// an asset contract when tokenId is omitted.
func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	asset, ok := parseAddress(w, q.Get("asset"))
	if !ok {
		return
	}
	height := s.market.Height()

	if raw := q.Get("tokenId"); raw != "" {
		tokenID, err := parseUint256(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid tokenId", err)
			return
		}
		orders := s.market.OrdersFor(asset, tokenID)
		out := make([]OrderInfo, len(orders))
		for i, o := range orders {
			out[i] = orderInfo(o, height)
		}
		respondJSON(w, out)
		return
	}

	if s.store == nil {
		respondError(w, http.StatusBadRequest, "tokenId is required", nil)
		return
	}
	states, err := s.store.OrdersByAsset(asset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read orders", err)
		return
	}
	out := make([]OrderInfo, len(states))
	for i, st := range states {
		o := orderbook.Order{
			Side:   st.Side,
			Key:    orderbook.NewKey(st.Asset, st.TokenID, st.PaymentToken, st.Price),
			Record: orderbook.Record{Maker: st.Maker, Expiration: st.Expiration},
		}
		out[i] = orderInfo(o, height)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	side, err := orderbook.ParseSide(vars["side"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err)
		return
	}
	asset, ok := parseAddress(w, vars["asset"])
	if !ok {
		return
	}
	paymentToken, ok := parseAddress(w, vars["paymentToken"])
	if !ok {
		return
	}
	tokenID, err := parseUint256(vars["tokenId"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid tokenId", err)
		return
	}
	price, err := parseUint256(vars["price"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid price", err)
		return
	}

	key := orderbook.NewKey(asset, tokenID, paymentToken, price)
	rec, err := s.market.Lookup(side, key)
	if errors.Is(err, orderbook.ErrNotFound) {
		respondError(w, http.StatusNotFound, "order not found", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "lookup failed", err)
		return
	}
	respondJSON(w, orderInfo(orderbook.Order{Side: side, Key: key, Record: rec}, s.market.Height()))
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	respondJSON(w, EscrowInfo{Address: addr, Amount: s.market.Escrowed(addr)})
}

func (s *Server) handleGetPubKey(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	key, err := s.market.PubKey(addr)
	if errors.Is(err, pubkey.ErrNoKey) {
		respondError(w, http.StatusNotFound, "no public key registered", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "lookup failed", err)
		return
	}
	derived, err := crypto.AddressFromCompressedPub(key)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "stored key is malformed", err)
		return
	}
	respondJSON(w, PubKeyInfo{Address: addr, PubKey: key, KeyAddress: derived})
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	respondJSON(w, s.market.Balances(addr))
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTxBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err)
		return
	}
	h, err := s.market.PushTx(body)
	if err != nil {
		s.logger.Debugw("tx_rejected", "err", err)
		respondError(w, http.StatusBadRequest, "transaction rejected", err)
		return
	}
	s.logger.Infow("tx_submitted", "hash", h.Hex(), "bytes", len(body))
	respondJSON(w, SubmitTxResponse{Status: "submitted", Hash: h})
}

func (s *Server) handleGetTx(w http.ResponseWriter, r *http.Request) {
	raw, err := hexutil.Decode(mux.Vars(r)["hash"])
	if err != nil || len(raw) != common.HashLength {
		respondError(w, http.StatusBadRequest, "invalid hash", err)
		return
	}
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "results are not stored", nil)
		return
	}
	res, ok, err := s.store.GetResult(common.BytesToHash(raw))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read result", err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "transaction not found", nil)
		return
	}
	respondJSON(w, res)
}

func (s *Server) handleSerialize(w http.ResponseWriter, r *http.Request) {
	var req SerializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	msg, err := crypto.SerializeMessage(req.Asset, req.TokenID, req.Destination, req.Side, req.Price, req.PaymentToken, req.RefBlock)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid message", err)
		return
	}
	respondJSON(w, SerializeResponse{
		Format:  crypto.MessageFormatV1,
		Message: msg,
		Digest:  crypto.Digest(msg),
	})
}

// ==============================
// Broadcast (called after each block)
// ==============================

// BroadcastResults pushes a block's results to WebSocket subscribers: every
// result on the events channel and order events on orders:<asset>.
func (s *Server) BroadcastResults(height uint64, results []abci.TxResult) {
	for _, res := range results {
		s.hub.BroadcastToChannel(WSMessage{Type: "tx", Channel: ChannelEvents, Height: height, Data: res})
		for _, ev := range res.Events {
			switch ev.Type {
			case "CreateOrder", "CancelOrder", "FulfillOrder":
			default:
				continue
			}
			asset, ok := ev.Get("asset_contract")
			if !ok {
				continue
			}
			s.hub.BroadcastToChannel(WSMessage{
				Type:    "order",
				Channel: OrdersChannel(asset),
				Height:  height,
				Data:    orderUpdate(res.Hash, ev),
			})
		}
	}
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string, err error) {
	resp := ErrorResponse{Error: msg}
	if err != nil {
		resp.Message = err.Error()
		if code := fixedprice.ErrorCode(err); code != "InternalError" {
			resp.Code = code
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func parseAddress(w http.ResponseWriter, s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		respondError(w, http.StatusBadRequest, "invalid address", fmt.Errorf("%q is not a hex address", s))
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// parseUint256 accepts decimal or 0x-prefixed hex.
func parseUint256(s string) (*uint256.Int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return uint256.FromHex(s)
	}
	return uint256.FromDecimal(s)
}
