package server

import (
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"reserveledger/core/types"
	"reserveledger/native/assets"
	"reserveledger/native/distributor"
	"reserveledger/native/fixedpoint"
	"reserveledger/native/pool"
	"reserveledger/services/ledgerd/journal"
)

type receiptResponse struct {
	Receipt types.Receipt `json:"receipt"`
}

type settlementResponse struct {
	Receipt    types.Receipt     `json:"receipt"`
	Compounded string            `json:"compounded"`
	Stake      string            `json:"stake"`
	Withdrawn  string            `json:"withdrawn"`
	Rewards    map[string]string `json:"rewards"`
}

func newSettlementResponse(s distributor.Settlement, receipt types.Receipt) settlementResponse {
	rewards := make(map[string]string, len(s.Rewards))
	for _, key := range s.Keys {
		rewards[key] = amountString(s.Reward(key))
	}
	return settlementResponse{
		Receipt:    receipt,
		Compounded: amountString(s.Compounded),
		Stake:      amountString(s.Stake),
		Withdrawn:  amountString(s.Withdrawn),
		Rewards:    rewards,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- queries ---

type assetResponse struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
	MCR      string `json:"mcr"`
	CCR      string `json:"ccr"`
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.Assets(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]assetResponse, 0, len(list))
	for _, a := range list {
		out = append(out, assetResponse{
			Address:  a.Address.Hex(),
			Symbol:   a.Symbol,
			Decimals: a.Decimals,
			MCR:      amountString(a.MCR),
			CCR:      amountString(a.CCR),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	role, err := pool.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", errBadInput, err))
		return
	}
	asset, err := parseAddress("asset", chi.URLParam(r, "asset"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	view, err := s.engine.Pool(r.Context(), role, asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"role":     string(view.Role),
		"asset":    asset.Hex(),
		"raw":      amountString(view.Account.Raw),
		"deployed": amountString(view.Account.Deployed),
		"shares":   amountString(view.Account.Shares),
		"total":    amountString(view.Account.Total),
		"debt":     amountString(view.Account.Debt),
		"normalized": map[string]string{
			"raw":      amountString(view.Normalized.Raw),
			"deployed": amountString(view.Normalized.Deployed),
			"total":    amountString(view.Normalized.Total),
		},
		"targetBps":      view.Yield.TargetBps,
		"claimThreshold": amountString(view.Yield.ClaimThreshold),
	})
}

func (s *Server) handleRebalancerConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.engine.RebalancerConfig(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"driftBps":     cfg.DriftBps,
		"treasury":     cfg.Treasury.Hex(),
		"treasuryBps":  cfg.Splits.TreasuryBps,
		"stabilityBps": cfg.Splits.StabilityBps,
		"stakingBps":   cfg.Splits.StakingBps,
	})
}

func (s *Server) handleStabilityDeposit(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("owner", chi.URLParam(r, "owner"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	pos, err := s.engine.StabilityDeposit(r.Context(), owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner":           owner.Hex(),
		"deposit":         amountString(pos.Deposit),
		"collateralGains": amountMap(pos.CollateralGains),
		"issuanceGain":    amountString(pos.IssuanceGain),
	})
}

func (s *Server) handleStabilitySnapshot(w http.ResponseWriter, r *http.Request) {
	g, err := s.engine.StabilitySnapshot(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"p":          amountString(g.P),
		"scale":      g.Scale,
		"epoch":      g.Epoch,
		"totalStake": amountString(g.TotalStake),
	})
}

func (s *Server) handleStakingPosition(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("owner", chi.URLParam(r, "owner"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	pos, err := s.engine.StakingPosition(r.Context(), owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner":           owner.Hex(),
		"stake":           amountString(pos.Stake),
		"collateralGains": amountMap(pos.CollateralGains),
		"debtGain":        amountString(pos.DebtGain),
	})
}

func (s *Server) handleIssuance(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.IssuanceState(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"totalIssued":      amountString(st.TotalIssued),
		"totalFunded":      amountString(st.TotalFunded),
		"ratePerSecond":    amountString(st.RatePerSecond),
		"lastDistribution": st.LastDistribution,
		"lastIssuance":     st.LastIssuance,
		"periodSeconds":    st.PeriodSeconds,
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	token, err := s.tokenParam(chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	holder, err := parseAddress("holder", chi.URLParam(r, "holder"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	bal, err := s.engine.Balance(r.Context(), token, holder)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token.Hex(), "holder": holder.Hex(), "balance": amountString(bal)})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "event journal disabled")
		return
	}
	q := journal.Query{
		Operation: r.URL.Query().Get("operation"),
		EventType: r.URL.Query().Get("type"),
	}
	if raw := r.URL.Query().Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: after must be an integer", errBadInput))
			return
		}
		q.After = after
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, fmt.Errorf("%w: limit must be a non-negative integer", errBadInput))
			return
		}
		q.Limit = limit
	}
	entries, err := s.events.List(r.Context(), q)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// tokenParam accepts a hex address or one of the "stable" and "governance"
// aliases.
func (s *Server) tokenParam(value string) (common.Address, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "stable":
		return s.engine.Tokens().Stable, nil
	case "governance":
		return s.engine.Tokens().Governance, nil
	default:
		return parseAddress("token", value)
	}
}

// --- assets and pools ---

type registerAssetRequest struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
	MCR      string `json:"mcr"`
	CCR      string `json:"ccr"`
}

func (s *Server) handleRegisterAsset(w http.ResponseWriter, r *http.Request) {
	var req registerAssetRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		s.writeError(w, err)
		return
	}
	mcr, ccr, err := parseRatios(req.MCR, req.CCR)
	if err != nil {
		s.writeError(w, err)
		return
	}
	receipt, err := s.engine.RegisterAsset(r.Context(), assets.Asset{
		Address:  addr,
		Symbol:   req.Symbol,
		Decimals: req.Decimals,
		MCR:      mcr,
		CCR:      ccr,
	})
	s.respondReceipt(w, receipt, err)
}

func parseRatios(mcrValue, ccrValue string) (*big.Int, *big.Int, error) {
	mcr, err := fixedpoint.ParseDecimal(mcrValue)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: mcr: %v", errBadInput, err)
	}
	ccr, err := fixedpoint.ParseDecimal(ccrValue)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: ccr: %v", errBadInput, err)
	}
	return mcr, ccr, nil
}

type ratiosRequest struct {
	Asset string `json:"asset"`
	MCR   string `json:"mcr"`
	CCR   string `json:"ccr"`
}

func (s *Server) handleUpdateRatios(w http.ResponseWriter, r *http.Request) {
	var req ratiosRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	mcr, ccr, err := parseRatios(req.MCR, req.CCR)
	if err != nil {
		s.writeError(w, err)
		return
	}
	receipt, err := s.engine.UpdateAssetRatios(r.Context(), asset, mcr, ccr)
	s.respondReceipt(w, receipt, err)
}

type poolAmountRequest struct {
	Role   string `json:"role"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	// Account is the source for pulls and the destination for sends.
	Account string `json:"account,omitempty"`
}

func (s *Server) decodePoolAmount(r *http.Request, needAccount bool) (pool.Role, common.Address, common.Address, *big.Int, error) {
	var req poolAmountRequest
	if err := decode(r, &req); err != nil {
		return "", common.Address{}, common.Address{}, nil, err
	}
	role := pool.RoleActive
	if strings.TrimSpace(req.Role) != "" {
		parsed, err := pool.ParseRole(req.Role)
		if err != nil {
			return "", common.Address{}, common.Address{}, nil, fmt.Errorf("%w: %v", errBadInput, err)
		}
		role = parsed
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		return "", common.Address{}, common.Address{}, nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return "", common.Address{}, common.Address{}, nil, err
	}
	var account common.Address
	if needAccount {
		if account, err = parseAddress("account", req.Account); err != nil {
			return "", common.Address{}, common.Address{}, nil, err
		}
	}
	return role, asset, account, amount, nil
}

func (s *Server) handleIncreaseDebt(w http.ResponseWriter, r *http.Request) {
	role, asset, _, amount, err := s.decodePoolAmount(r, false)
	if err != nil {
		s.writeError(w, err)
		return
	}
	receipt, err := s.engine.IncreaseDebt(r.Context(), role, asset, amount)
	s.respondReceipt(w, receipt, err)
}

func (s *Server) handleDecreaseDebt(w http.ResponseWriter, r *http.Request) {
	role, asset, _, amount, err := s.decodePoolAmount(r, false)
	if err != nil {
		s.writeError(w, err)
		return
	}
	receipt, err := s.engine.DecreaseDebt(r.Context(), role, asset, amount)
	s.respondReceipt(w, receipt, err)
}

func (s *Server) handlePullCollateral(w http.ResponseWriter, r *http.Request) {
	role, asset, from, amount, err := s.decodePoolAmount(r, true)
	if err != nil {
		s.writeError(w, err)
		return
	}
	receipt, err := s.engine.PullCollateral(r.Context(), role, asset, from, amount)
	s.respondReceipt(w, receipt, err)
}

func (s *Server) handleSendCollateral(w http.ResponseWriter, r *http.Request) {
	role, asset, to, amount, err := s.decodePoolAmount(r, true)
	if err != nil {
		s.writeError(w, err)
		return
	}
	receipt, err := s.engine.SendCollateral(r.Context(), role, asset, to, amount)
	s.respondReceipt(w, receipt, err)
}

type moveRequest struct {
	Asset      string `json:"asset"`
	Debt       string `json:"debt"`
	Collateral string `json:"collateral"`
}

func decodeMove(r *http.Request) (common.Address, *big.Int, *big.Int, error) {
	var req moveRequest
	if err := decode(r, &req); err != nil {
		return common.Address{}, nil, nil, err
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	debt, err := parseOptionalAmount("debt", req.Debt)
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	coll, err := parseOptionalAmount("collateral", req.Collateral)
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	return asset, debt, coll, nil
}

func (s *Server) handleRedistribute(w http.ResponseWriter, r *http.Request) {
	asset, debt, coll, err := decodeMove(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	receipt, err := s.engine.Redistribute(r.Context(), asset, debt, coll)
	s.respondReceipt(w, receipt, err)
}

func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	asset, debt, coll, err := decodeMove(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	receipt, err := s.engine.ReturnFromDefault(r.Context(), asset, debt, coll)
	s.respondReceipt(w, receipt, err)
}

type rebalanceRequest struct {
	Asset            string `json:"asset"`
	SimulatedLeaving string `json:"simulatedLeaving,omitempty"`
}

func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	var req rebalanceRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	leaving, err := parseOptionalAmount("simulatedLeaving", req.SimulatedLeaving)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, receipt, err := s.engine.ManualRebalance(r.Context(), asset, leaving)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"receipt":   receipt,
		"profit":    amountString(res.Profit),
		"treasury":  amountString(res.Treasury),
		"stability": amountString(res.Stability),
		"staking":   amountString(res.Staking),
		"deposited": amountString(res.Deposited),
		"withdrawn": amountString(res.Withdrawn),
	})
}

// --- stability pool and staking ---

type accountAmountRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

func decodeAccountAmount(r *http.Request, optional bool) (common.Address, *big.Int, error) {
	var req accountAmountRequest
	if err := decode(r, &req); err != nil {
		return common.Address{}, nil, err
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		return common.Address{}, nil, err
	}
	var amount *big.Int
	if optional {
		amount, err = parseOptionalAmount("amount", req.Amount)
	} else {
		amount, err = parseAmount("amount", req.Amount)
	}
	if err != nil {
		return common.Address{}, nil, err
	}
	return account, amount, nil
}

func (s *Server) handleProvide(w http.ResponseWriter, r *http.Request) {
	account, amount, err := decodeAccountAmount(r, false)
	if err != nil {
		s.writeError(w, err)
		return
	}
	settlement, receipt, err := s.engine.ProvideToStabilityPool(r.Context(), account, amount)
	s.respondSettlement(w, settlement, receipt, err)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	account, amount, err := decodeAccountAmount(r, true)
	if err != nil {
		s.writeError(w, err)
		return
	}
	settlement, receipt, err := s.engine.WithdrawFromStabilityPool(r.Context(), account, amount)
	s.respondSettlement(w, settlement, receipt, err)
}

func (s *Server) handleOffset(w http.ResponseWriter, r *http.Request) {
	asset, debt, coll, err := decodeMove(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	receipt, err := s.engine.Offset(r.Context(), asset, debt, coll)
	s.respondReceipt(w, receipt, err)
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	account, amount, err := decodeAccountAmount(r, false)
	if err != nil {
		s.writeError(w, err)
		return
	}
	settlement, receipt, err := s.engine.Stake(r.Context(), account, amount)
	s.respondSettlement(w, settlement, receipt, err)
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) {
	account, amount, err := decodeAccountAmount(r, true)
	if err != nil {
		s.writeError(w, err)
		return
	}
	settlement, receipt, err := s.engine.Unstake(r.Context(), account, amount)
	s.respondSettlement(w, settlement, receipt, err)
}

type feeRequest struct {
	Asset  string `json:"asset,omitempty"`
	From   string `json:"from"`
	Amount string `json:"amount"`
}

func (s *Server) handleCollateralFee(w http.ResponseWriter, r *http.Request) {
	var req feeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	from, err := parseAddress("from", req.From)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	distributed, receipt, err := s.engine.AddCollateralFee(r.Context(), asset, from, amount)
	s.respondFee(w, distributed, receipt, err)
}

func (s *Server) handleDebtFee(w http.ResponseWriter, r *http.Request) {
	var req feeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	from, err := parseAddress("from", req.From)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	distributed, receipt, err := s.engine.AddDebtFee(r.Context(), from, amount)
	s.respondFee(w, distributed, receipt, err)
}

// --- issuance and admin ---

func (s *Server) handleFundIssuance(w http.ResponseWriter, r *http.Request) {
	funder, amount, err := decodeAccountAmount(r, false)
	if err != nil {
		s.writeError(w, err)
		return
	}
	receipt, err := s.engine.FundIssuance(r.Context(), funder, amount)
	s.respondReceipt(w, receipt, err)
}

type yieldRequest struct {
	Asset          string `json:"asset"`
	TargetBps      uint64 `json:"targetBps"`
	ClaimThreshold string `json:"claimThreshold"`
}

func (s *Server) handleConfigureYield(w http.ResponseWriter, r *http.Request) {
	var req yieldRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	threshold, err := parseOptionalAmount("claimThreshold", req.ClaimThreshold)
	if err != nil {
		s.writeError(w, err)
		return
	}
	receipt, err := s.engine.ConfigureYield(r.Context(), asset, pool.YieldConfig{TargetBps: req.TargetBps, ClaimThreshold: threshold})
	s.respondReceipt(w, receipt, err)
}

type rebalancerRequest struct {
	DriftBps uint64 `json:"driftBps"`
	Treasury string `json:"treasury,omitempty"`
}

func (s *Server) handleConfigureRebalancer(w http.ResponseWriter, r *http.Request) {
	var req rebalancerRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	var treasury common.Address
	if strings.TrimSpace(req.Treasury) != "" {
		addr, err := parseAddress("treasury", req.Treasury)
		if err != nil {
			s.writeError(w, err)
			return
		}
		treasury = addr
	}
	receipt, err := s.engine.ConfigureRebalancer(r.Context(), req.DriftBps, treasury)
	s.respondReceipt(w, receipt, err)
}

type splitsRequest struct {
	TreasuryBps  uint64 `json:"treasuryBps"`
	StabilityBps uint64 `json:"stabilityBps"`
	StakingBps   uint64 `json:"stakingBps"`
}

func (s *Server) handleSetSplits(w http.ResponseWriter, r *http.Request) {
	var req splitsRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	receipt, err := s.engine.SetSplits(r.Context(), pool.Splits{
		TreasuryBps:  req.TreasuryBps,
		StabilityBps: req.StabilityBps,
		StakingBps:   req.StakingBps,
	})
	s.respondReceipt(w, receipt, err)
}

type periodRequest struct {
	PeriodSeconds uint64 `json:"periodSeconds"`
}

func (s *Server) handleIssuancePeriod(w http.ResponseWriter, r *http.Request) {
	var req periodRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	receipt, err := s.engine.UpdateIssuancePeriod(r.Context(), secondsDuration(req.PeriodSeconds))
	s.respondReceipt(w, receipt, err)
}

type pauseRequest struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	module := strings.ToLower(strings.TrimSpace(req.Module))
	if module == "" {
		s.writeError(w, fmt.Errorf("%w: module required", errBadInput))
		return
	}
	s.engine.SetPaused(module, req.Paused)
	writeJSON(w, http.StatusOK, map[string]interface{}{"paused": s.engine.Pauses().Paused()})
}

// --- bank and vault ---

type tokenAmountRequest struct {
	Token   string `json:"token"`
	Account string `json:"account"`
	Spender string `json:"spender,omitempty"`
	Amount  string `json:"amount"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req tokenAmountRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	token, err := s.tokenParam(req.Token)
	if err != nil {
		s.writeError(w, err)
		return
	}
	to, err := parseAddress("account", req.Account)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	receipt, err := s.engine.Mint(r.Context(), token, to, amount)
	s.respondReceipt(w, receipt, err)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req tokenAmountRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	token, err := s.tokenParam(req.Token)
	if err != nil {
		s.writeError(w, err)
		return
	}
	owner, err := parseAddress("account", req.Account)
	if err != nil {
		s.writeError(w, err)
		return
	}
	spender, err := parseAddress("spender", req.Spender)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseOptionalAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	receipt, err := s.engine.Approve(r.Context(), token, owner, spender, amount)
	s.respondReceipt(w, receipt, err)
}

type transferFeeRequest struct {
	Token  string `json:"token"`
	FeeBps uint64 `json:"feeBps"`
}

func (s *Server) handleTransferFee(w http.ResponseWriter, r *http.Request) {
	var req transferFeeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	token, err := s.tokenParam(req.Token)
	if err != nil {
		s.writeError(w, err)
		return
	}
	receipt, err := s.engine.SetTransferFee(r.Context(), token, req.FeeBps)
	s.respondReceipt(w, receipt, err)
}

type vaultYieldRequest struct {
	Asset string `json:"asset"`
	// Delta is signed: negative values simulate a strategy loss.
	Delta string `json:"delta"`
}

func (s *Server) handleVaultYield(w http.ResponseWriter, r *http.Request) {
	var req vaultYieldRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	delta, err := parseSignedAmount("delta", req.Delta)
	if err != nil {
		s.writeError(w, err)
		return
	}
	receipt, err := s.engine.SimulateVaultYield(r.Context(), asset, delta)
	s.respondReceipt(w, receipt, err)
}

type vaultHaltRequest struct {
	Asset  string `json:"asset"`
	Halted bool   `json:"halted"`
}

func (s *Server) handleVaultHalt(w http.ResponseWriter, r *http.Request) {
	var req vaultHaltRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	receipt, err := s.engine.SetVaultHalted(r.Context(), asset, req.Halted)
	s.respondReceipt(w, receipt, err)
}

// --- responses ---

func (s *Server) respondReceipt(w http.ResponseWriter, receipt types.Receipt, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptResponse{Receipt: receipt})
}

func (s *Server) respondSettlement(w http.ResponseWriter, settlement distributor.Settlement, receipt types.Receipt, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSettlementResponse(settlement, receipt))
}

func (s *Server) respondFee(w http.ResponseWriter, distributed bool, receipt types.Receipt, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"receipt": receipt, "distributed": distributed})
}
