package query

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"BitLedger/internal/chain"
	"BitLedger/internal/observability"
)

// Handler serves the JSON query endpoints.
type Handler struct {
	svc     *Service
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewHandler(svc *Service, log zerolog.Logger, metrics *observability.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: metrics}
}

// Register mounts the query endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/orderbook", h.instrument("orderbook", h.handleOrderBook))
	mux.HandleFunc("/v1/balance", h.instrument("balance", h.handleBalance))
	mux.HandleFunc("/v1/positions", h.instrument("positions", h.handlePositions))
	mux.HandleFunc("/v1/bitasset", h.instrument("bitasset", h.handleBitasset))
	mux.HandleFunc("/v1/settlements", h.instrument("settlements", h.handleSettlements))
	mux.HandleFunc("/v1/bids", h.instrument("bids", h.handleBids))
	mux.HandleFunc("/v1/fills", h.instrument("fills", h.handleFills))
}

type handlerFunc func(w http.ResponseWriter, r *http.Request) (int, error)

func (h *Handler) instrument(endpoint string, fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		code, err := fn(w, r)
		if err != nil {
			http.Error(w, err.Error(), code)
		}
		if h.metrics != nil {
			h.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
			h.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) (int, error) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return http.StatusInternalServerError, err
	}
	return http.StatusOK, nil
}

func queryInt(r *http.Request, name string) (int64, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (h *Handler) handleOrderBook(w http.ResponseWriter, r *http.Request) (int, error) {
	sell, ok1 := queryInt(r, "sell")
	receive, ok2 := queryInt(r, "receive")
	if !ok1 || !ok2 {
		return http.StatusBadRequest, errBadRequest("sell and receive asset ids required")
	}
	limit, _ := queryInt(r, "limit")
	return writeJSON(w, h.svc.OrderBook(chain.AssetID(sell), chain.AssetID(receive), int(limit)))
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) (int, error) {
	account, ok1 := queryInt(r, "account")
	asset, ok2 := queryInt(r, "asset")
	if !ok1 || !ok2 {
		return http.StatusBadRequest, errBadRequest("account and asset ids required")
	}
	return writeJSON(w, h.svc.Balance(chain.AccountID(account), chain.AssetID(asset)))
}

func (h *Handler) handlePositions(w http.ResponseWriter, r *http.Request) (int, error) {
	debt, ok := queryInt(r, "asset")
	if !ok {
		return http.StatusBadRequest, errBadRequest("asset id required")
	}
	return writeJSON(w, h.svc.Positions(chain.AssetID(debt)))
}

func (h *Handler) handleBitasset(w http.ResponseWriter, r *http.Request) (int, error) {
	id, ok := queryInt(r, "asset")
	if !ok {
		return http.StatusBadRequest, errBadRequest("asset id required")
	}
	resp, err := h.svc.Bitasset(chain.AssetID(id))
	if err != nil {
		return http.StatusNotFound, err
	}
	return writeJSON(w, resp)
}

func (h *Handler) handleSettlements(w http.ResponseWriter, r *http.Request) (int, error) {
	id, ok := queryInt(r, "asset")
	if !ok {
		return http.StatusBadRequest, errBadRequest("asset id required")
	}
	return writeJSON(w, h.svc.Settlements(chain.AssetID(id)))
}

func (h *Handler) handleBids(w http.ResponseWriter, r *http.Request) (int, error) {
	id, ok := queryInt(r, "asset")
	if !ok {
		return http.StatusBadRequest, errBadRequest("asset id required")
	}
	return writeJSON(w, h.svc.Bids(chain.AssetID(id)))
}

func (h *Handler) handleFills(w http.ResponseWriter, r *http.Request) (int, error) {
	account, ok := queryInt(r, "account")
	if !ok {
		return http.StatusBadRequest, errBadRequest("account id required")
	}
	limit, _ := queryInt(r, "limit")
	var before *int64
	if b, ok := queryInt(r, "before"); ok {
		before = &b
	}
	fills, err := h.svc.FillHistory(r.Context(), chain.AccountID(account), int(limit), before)
	if err != nil {
		h.log.Warn().Err(err).Msg("fill history query failed")
		return http.StatusInternalServerError, err
	}
	return writeJSON(w, fills)
}

type errBadRequest string

func (e errBadRequest) Error() string { return string(e) }
