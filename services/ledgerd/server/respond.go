package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	ledgererrors "reserveledger/core/errors"
	"reserveledger/native/fixedpoint"
)

var errBadInput = errors.New("bad input")

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// statusFor maps an error class onto an HTTP status.
func statusFor(kind ledgererrors.Kind) int {
	switch kind {
	case ledgererrors.KindConfig:
		return http.StatusBadRequest
	case ledgererrors.KindExternal:
		return http.StatusBadGateway
	case ledgererrors.KindUser:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBadInput) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: "request"})
		return
	}
	kind := ledgererrors.Classify(err)
	writeJSON(w, statusFor(kind), errorResponse{Error: err.Error(), Kind: kind.String()})
}

func decode(r *http.Request, out interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: decode body: %v", errBadInput, err)
	}
	return nil
}

func parseAddress(field, value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%w: %s must be a hex address", errBadInput, field)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(field, value string) (*big.Int, error) {
	amount, err := fixedpoint.Parse(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errBadInput, field, err)
	}
	return amount, nil
}

// parseOptionalAmount maps an empty string to zero.
func parseOptionalAmount(field, value string) (*big.Int, error) {
	if strings.TrimSpace(value) == "" {
		return new(big.Int), nil
	}
	return parseAmount(field, value)
}

// parseSignedAmount accepts a leading minus sign.
func parseSignedAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "-") {
		amount, err := parseAmount(field, strings.TrimPrefix(trimmed, "-"))
		if err != nil {
			return nil, err
		}
		return amount.Neg(amount), nil
	}
	return parseAmount(field, trimmed)
}

func amountString(v *big.Int) string {
	return fixedpoint.String(v)
}

func amountMap(values map[common.Address]*big.Int) map[string]string {
	out := make(map[string]string, len(values))
	for addr, v := range values {
		out[addr.Hex()] = amountString(v)
	}
	return out
}

func secondsDuration(seconds uint64) time.Duration {
	return time.Duration(seconds) * time.Second
}
