package rpc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"agchain/core"
	"agchain/core/types"
	"agchain/native/delaytransfer"
	"agchain/native/token"
)

// Server exposes the ledger over HTTP: read endpoints for campaigns,
// delayed transfers and balances, submit endpoints for operations, and the
// Prometheus scrape path.
type Server struct {
	processor *core.Processor
	log       *slog.Logger
	// buyerListLimiter throttles the buyer-list endpoint, which loads every
	// buy of a campaign.
	buyerListLimiter *rate.Limiter
}

func NewServer(processor *core.Processor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		processor:        processor,
		log:              logger,
		buyerListLimiter: rate.NewLimiter(rate.Limit(5), 10),
	}
}

// Router builds the HTTP route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/v1/status", s.handleStatus)
	r.Get("/v1/events", s.handleLastEvents)

	r.Route("/v1/token", func(r chi.Router) {
		r.Get("/campaigns/{id}", s.handleCampaign)
		r.Get("/campaigns/by-name/{name}", s.handleCampaignByName)
		r.Get("/campaigns/{id}/buyers", s.handleBuyerList)
		r.Get("/events/{id}", s.handleTokenEvent)
		r.Post("/publish", s.handlePublish)
		r.Post("/buy", s.handleBuy)
		r.Post("/event", s.handleSubmitEvent)
		r.Post("/update", s.handleUpdate)
	})

	r.Route("/v1/delay", func(r chi.Router) {
		r.Get("/transfers/from/{addr}", s.handleDelayByFrom)
		r.Get("/transfers/to/{addr}", s.handleDelayByTo)
		r.Get("/unexecuted/{addr}", s.handleUnexecuted)
		r.Post("/schedule", s.handleSchedule)
	})

	r.Get("/v1/balance/{addr}/{asset}", s.handleBalance)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Errno int    `json:"errno,omitempty"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	errno := token.RejectCode(err)
	if errno == 0 {
		errno = delaytransfer.RejectCode(err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Errno: errno})
}

func rejectStatus(err error) int {
	if token.RejectCode(err) != 0 || delaytransfer.RejectCode(err) != 0 {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func pathUint(r *http.Request, name string) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, name), 10, 64)
}

func pathAddr(r *http.Request, name string) (types.Address, error) {
	return types.ParseAddress(chi.URLParam(r, name))
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, errors.New("rpc: malformed amount " + s)
	}
	return v, nil
}

func upper(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]uint64{"height": s.processor.Height()})
}

func (s *Server) handleLastEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.processor.LastEvents())
}

// --- token reads ---

type campaignResponse struct {
	Campaign      *token.Campaign   `json:"campaign"`
	Statistics    *token.Statistics `json:"statistics"`
	Participation []*token.Buy      `json:"participation,omitempty"`
}

func (s *Server) handleCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeCampaign(w, r, id)
}

func (s *Server) handleCampaignByName(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	id, ok, err := s.processor.State().CampaignIDByName(upper(name))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("campaign not found"))
		return
	}
	s.writeCampaign(w, r, id)
}

func (s *Server) writeCampaign(w http.ResponseWriter, r *http.Request, id uint64) {
	st := s.processor.State()
	c, ok, err := st.CampaignGet(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("campaign not found"))
		return
	}
	stats, _, err := st.StatisticsGet(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := campaignResponse{Campaign: c, Statistics: stats}
	if caller := r.URL.Query().Get("caller"); caller != "" {
		addr, err := types.ParseAddress(caller)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		buys, err := st.BuysByCampaign(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		for _, b := range buys {
			if b.Buyer == addr {
				resp.Participation = append(resp.Participation, b)
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type buyerListResponse struct {
	Total uint64       `json:"total"`
	Buys  []*token.Buy `json:"buys"`
}

// handleBuyerList returns the full purchase record of a campaign, issuer
// only, paginated and rate limited.
func (s *Server) handleBuyerList(w http.ResponseWriter, r *http.Request) {
	if !s.buyerListLimiter.Allow() {
		writeError(w, http.StatusTooManyRequests, errors.New("buyer list rate limit exceeded"))
		return
	}
	id, err := pathUint(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := types.ParseAddress(r.URL.Query().Get("caller"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("caller query parameter required"))
		return
	}
	st := s.processor.State()
	c, ok, err := st.CampaignGet(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("campaign not found"))
		return
	}
	if c.Issuer != caller {
		writeError(w, http.StatusForbidden, errors.New("buyer list is issuer only"))
		return
	}
	buys, err := st.BuysByCampaign(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	total := uint64(len(buys))
	if offset < 0 {
		offset = 0
	}
	if offset > len(buys) {
		offset = len(buys)
	}
	end := offset + limit
	if end > len(buys) {
		end = len(buys)
	}
	writeJSON(w, http.StatusOK, buyerListResponse{Total: total, Buys: buys[offset:end]})
}

func (s *Server) handleTokenEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, ok, err := s.processor.State().EventGet(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("event not found"))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// --- token submits ---

type attributeJSON struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func toAttrs(in []attributeJSON) []token.Attribute {
	out := make([]token.Attribute, 0, len(in))
	for _, a := range in {
		out = append(out, token.Attribute{Key: a.Key, Value: a.Value})
	}
	return out
}

type phaseJSON struct {
	BeginTime  uint64 `json:"beginTime"`
	EndTime    uint64 `json:"endTime"`
	RatioBase  string `json:"ratioBase"`
	RatioQuote string `json:"ratioQuote"`
}

func (p phaseJSON) toPhase() (token.BuyPhase, error) {
	base, err := parseAmount(p.RatioBase)
	if err != nil {
		return token.BuyPhase{}, err
	}
	quote, err := parseAmount(p.RatioQuote)
	if err != nil {
		return token.BuyPhase{}, err
	}
	return token.BuyPhase{
		BeginTime: p.BeginTime,
		EndTime:   p.EndTime,
		Ratio:     token.ExchangeRatio{Base: base, Quote: quote},
	}, nil
}

type publishRequest struct {
	Issuer               string          `json:"issuer"`
	Fee                  string          `json:"fee"`
	DeferredFee          string          `json:"deferredFee"`
	AssetName            string          `json:"assetName"`
	AssetSymbol          string          `json:"assetSymbol"`
	LogoURL              string          `json:"logoUrl"`
	Brief                string          `json:"brief"`
	Description          string          `json:"description"`
	Type                 string          `json:"type"`
	Subtype              string          `json:"subtype"`
	MaxSupply            string          `json:"maxSupply"`
	PlanBuyTotal         string          `json:"planBuyTotal"`
	NeedRaising          bool            `json:"needRaising"`
	Phase1               phaseJSON       `json:"phase1"`
	Phase2               phaseJSON       `json:"phase2"`
	SucceedMinPercent    uint16          `json:"succeedMinPercent"`
	GuarantyAmount       string          `json:"guarantyAmount"`
	GuarantyMonths       uint32          `json:"guarantyMonths"`
	ReservedFrozenMonths uint32          `json:"reservedFrozenMonths"`
	Burn                 bool            `json:"burnRemainder"`
	Whitelist            []string        `json:"whitelist"`
	CustomAttributes     []attributeJSON `json:"customAttributes"`
	Exts                 []attributeJSON `json:"exts"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	op, err := req.toOp()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := s.processor.SubmitPublish(op)
	if err != nil {
		writeError(w, rejectStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"campaignId": id})
}

func (req *publishRequest) toOp() (*token.PublishOp, error) {
	issuer, err := types.ParseAddress(req.Issuer)
	if err != nil {
		return nil, err
	}
	fee, err := parseAmount(req.Fee)
	if err != nil {
		return nil, err
	}
	deferred, err := parseAmount(req.DeferredFee)
	if err != nil {
		return nil, err
	}
	maxSupply, err := parseAmount(req.MaxSupply)
	if err != nil {
		return nil, err
	}
	plan, err := parseAmount(req.PlanBuyTotal)
	if err != nil {
		return nil, err
	}
	guaranty, err := parseAmount(req.GuarantyAmount)
	if err != nil {
		return nil, err
	}
	phase1, err := req.Phase1.toPhase()
	if err != nil {
		return nil, err
	}
	phase2, err := req.Phase2.toPhase()
	if err != nil {
		return nil, err
	}
	whitelist := make([]types.Address, 0, len(req.Whitelist))
	for _, raw := range req.Whitelist {
		addr, err := types.ParseAddress(raw)
		if err != nil {
			return nil, err
		}
		whitelist = append(whitelist, addr)
	}
	disposition := token.DispositionDispatch
	if req.Burn {
		disposition = token.DispositionBurn
	}
	return &token.PublishOp{
		Issuer:      issuer,
		Fee:         fee,
		DeferredFee: deferred,
		Exts:        toAttrs(req.Exts),
		Params: token.Params{
			AssetName:            req.AssetName,
			AssetSymbol:          req.AssetSymbol,
			LogoURL:              req.LogoURL,
			Brief:                req.Brief,
			Description:          req.Description,
			Type:                 req.Type,
			Subtype:              req.Subtype,
			MaxSupply:            maxSupply,
			PlanBuyTotal:         plan,
			NeedRaising:          req.NeedRaising,
			Phase1:               phase1,
			Phase2:               phase2,
			SucceedMinPercent:    req.SucceedMinPercent,
			GuarantyAmount:       guaranty,
			GuarantyMonths:       req.GuarantyMonths,
			ReservedFrozenMonths: req.ReservedFrozenMonths,
			Disposition:          disposition,
			Whitelist:            whitelist,
			CustomAttributes:     toAttrs(req.CustomAttributes),
		},
	}, nil
}

type buyRequest struct {
	Buyer       string `json:"buyer"`
	CampaignID  uint64 `json:"campaignId"`
	Phase       uint8  `json:"phase"`
	Quantity    uint64 `json:"quantity"`
	Fee         string `json:"fee"`
	DeferredFee string `json:"deferredFee"`
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	buyer, err := types.ParseAddress(req.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	fee, err := parseAmount(req.Fee)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	deferred, err := parseAmount(req.DeferredFee)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := s.processor.SubmitBuy(&token.BuyOp{
		Buyer:       buyer,
		CampaignID:  req.CampaignID,
		Phase:       token.Phase(req.Phase),
		Quantity:    req.Quantity,
		Fee:         fee,
		DeferredFee: deferred,
	})
	if err != nil {
		writeError(w, rejectStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"buyId": id})
}

type eventRequest struct {
	Operator   string          `json:"operator"`
	CampaignID uint64          `json:"campaignId"`
	Event      string          `json:"event"`
	Options    []attributeJSON `json:"options"`
}

func (s *Server) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	operator, err := types.ParseAddress(req.Operator)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := s.processor.SubmitTokenEvent(&token.EventOp{
		Operator:   operator,
		CampaignID: req.CampaignID,
		Event:      token.EventName(req.Event),
		Options:    toAttrs(req.Options),
	})
	if err != nil {
		writeError(w, rejectStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"eventId": rec.ID,
		"handled": rec.Handled,
		"message": rec.Message,
	})
}

type updateRequest struct {
	Operator         string          `json:"operator"`
	CampaignID       uint64          `json:"campaignId"`
	Brief            *string         `json:"brief"`
	Description      *string         `json:"description"`
	LogoURL          *string         `json:"logoUrl"`
	CustomAttributes []attributeJSON `json:"customAttributes"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	operator, err := types.ParseAddress(req.Operator)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	op := &token.UpdateOp{
		Operator:    operator,
		CampaignID:  req.CampaignID,
		Brief:       req.Brief,
		Description: req.Description,
		LogoURL:     req.LogoURL,
	}
	if req.CustomAttributes != nil {
		op.CustomAttributes = toAttrs(req.CustomAttributes)
	}
	if err := s.processor.SubmitUpdate(op); err != nil {
		writeError(w, rejectStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- delayed transfers ---

type scheduleRequest struct {
	From         string `json:"from"`
	Receiver     string `json:"receiver"`
	AssetID      uint64 `json:"assetId"`
	Amount       string `json:"amount"`
	ScheduleTime uint64 `json:"scheduleTime"`
	ReleaseTime  uint64 `json:"releaseTime"`
	Memo         string `json:"memo"`
	Fee          string `json:"fee"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	from, err := types.ParseAddress(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	receiver, err := types.ParseAddress(req.Receiver)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	fee, err := parseAmount(req.Fee)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := s.processor.SubmitDelayTransfer(&delaytransfer.ScheduleOp{
		From:         from,
		Receiver:     receiver,
		AssetID:      types.AssetID(req.AssetID),
		Amount:       amount,
		ScheduleTime: req.ScheduleTime,
		ReleaseTime:  req.ReleaseTime,
		Memo:         req.Memo,
		Fee:          fee,
	})
	if err != nil {
		writeError(w, rejectStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"transferId": id})
}

func (s *Server) handleDelayByFrom(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddr(r, "addr")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	list, err := s.processor.State().DelayTransfersByFrom(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleDelayByTo(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddr(r, "addr")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	list, err := s.processor.State().DelayTransfersByTo(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleUnexecuted(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddr(r, "addr")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	list, err := s.processor.State().UnexecutedBalances(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddr(r, "addr")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	asset, err := pathUint(r, "asset")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	bal, err := s.processor.State().GetBalance(addr, types.AssetID(asset))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": bal.String()})
}
