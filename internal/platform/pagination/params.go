package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPageSize defines the fallback number of items returned when the client omits page_size.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps the supported page_size to prevent unbounded queries.
	DefaultMaxPageSize = 100

	pageSizeParam  = "page_size"
	pageTokenParam = "page_token"
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid page_size")
	ErrInvalidPageToken = errors.New("pagination: invalid page_token")
)

// Cursor is the keyset position of the last item returned on the previous page.
// Lists are ordered newest first, ties broken by descending ID.
type Cursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
}

// IsZero reports whether the cursor points at the first page.
func (c Cursor) IsZero() bool {
	return c.CreatedAt.IsZero() && c.ID == ""
}

// Params bundles pagination values extracted from a request.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
}

// Options tunes defaults applied while parsing.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

// FromRequest parses pagination parameters from the request query string.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: request is nil")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse extracts page_size and page_token from query values.
func Parse(values url.Values, opts Options) (Params, error) {
	size, err := parsePageSize(values.Get(pageSizeParam), opts)
	if err != nil {
		return Params{}, err
	}
	token := strings.TrimSpace(values.Get(pageTokenParam))
	cursor, err := DecodeToken(token)
	if err != nil {
		return Params{}, err
	}
	return Params{
		PageSize:  size,
		PageToken: token,
		Cursor:    cursor,
	}, nil
}

// Normalize clamps a page size to the configured bounds.
func Normalize(size int, opts Options) int {
	def := opts.DefaultPageSize
	if def <= 0 {
		def = DefaultPageSize
	}
	max := opts.MaxPageSize
	if max <= 0 {
		max = DefaultMaxPageSize
	}
	if size <= 0 {
		size = def
	}
	if size > max {
		size = max
	}
	return size
}

func parsePageSize(raw string, opts Options) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Normalize(0, opts), nil
	}
	size, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
	}
	if size <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
	}
	return Normalize(size, opts), nil
}
