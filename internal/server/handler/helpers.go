package handler

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxBodySize bounds request bodies; every payload this API accepts is
// small.
const maxBodySize = 1 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody reads and decodes a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// marketIDParam extracts the {id} path parameter as a market id.
func marketIDParam(r *http.Request) (uint64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid market id %q", raw)
	}
	return id, nil
}

// parseWei parses a positive integer wei amount from its decimal string
// form. Amounts travel as strings because they exceed float64 precision.
func parseWei(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("amount is required")
	}
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be a positive integer wei string")
	}
	return amount, nil
}

// validateQuestion enforces basic shape on a market question.
func validateQuestion(q string) error {
	q = strings.TrimSpace(q)
	if q == "" {
		return fmt.Errorf("question is required")
	}
	if len(q) > 500 {
		return fmt.Errorf("question exceeds 500 characters")
	}
	return nil
}

// validateDeadline requires a future unix-seconds deadline.
func validateDeadline(deadline int64, now time.Time) error {
	if deadline <= now.Unix() {
		return fmt.Errorf("deadline must be in the future")
	}
	return nil
}
