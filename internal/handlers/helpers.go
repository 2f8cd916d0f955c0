package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chicken-store/orders-api/internal/platform/auth"
	"github.com/chicken-store/orders-api/internal/platform/httpx"
	"github.com/chicken-store/orders-api/internal/platform/pagination"
)

const (
	defaultBodyLimit = 16 * 1024
	dateLayout       = "2006-01-02"
)

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

var listPageOptions = pagination.Options{
	DefaultPageSize: pagination.DefaultPageSize,
	MaxPageSize:     pagination.DefaultMaxPageSize,
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads and decodes a bounded JSON body, writing the 400 itself on failure.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	data, err := readLimitedBody(r, limit)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(r.Context(), w, httpx.NewError(httpx.CodeInvalidRequest, "request body too large", http.StatusRequestEntityTooLarge))
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(r.Context(), w, httpx.BadRequest(httpx.CodeInvalidRequest, "request body is required"))
		default:
			httpx.WriteError(r.Context(), w, httpx.BadRequest(httpx.CodeInvalidRequest, "unable to read request body"))
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		httpx.WriteError(r.Context(), w, httpx.BadRequest(httpx.CodeInvalidRequest, "request body must be valid JSON"))
		return false
	}
	return true
}

// requireIdentity returns the authenticated caller or writes a 401.
func requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError(httpx.CodeUnauthenticated, "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// listPage parses list parameters once per request and stores them on the context.
var listPage = pagination.Middleware(listPageOptions, rejectPageParams)

func rejectPageParams(w http.ResponseWriter, r *http.Request, err error) {
	msg := "page_token is invalid"
	if errors.Is(err, pagination.ErrInvalidPageSize) {
		msg = "page_size must be a positive integer"
	}
	httpx.WriteError(r.Context(), w, httpx.BadRequest(httpx.CodeInvalidRequest, msg))
}

// pageParams returns what listPage stored, parsing the query itself when the
// handler was mounted without it.
func pageParams(w http.ResponseWriter, r *http.Request) (pagination.Params, bool) {
	if params, ok := pagination.FromContext(r.Context()); ok {
		return params, true
	}
	params, err := pagination.FromRequest(r, listPageOptions)
	if err != nil {
		rejectPageParams(w, r, err)
		return pagination.Params{}, false
	}
	return params, true
}

// parseDateParam parses an optional YYYY-MM-DD query value.
func parseDateParam(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseFilterValues splits repeated and comma separated query values.
func parseFilterValues(values []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			if _, ok := seen[part]; ok {
				continue
			}
			seen[part] = struct{}{}
			out = append(out, part)
		}
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}
