package keys

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/cachecontrol/cacheobject"

	sserr "github.com/StricklySoft/stricklysoft-fireauth/pkg/errors"
)

// maxBodySize bounds how much of a key-set response is read.
const maxBodySize = 1 << 20

// Document is one fetched key-set response body and the lifetime its
// origin advertised.
type Document struct {
	// Body is the raw response: a JSON object mapping kid to PEM, or a
	// JWKS document.
	Body []byte

	// MaxAge is the advertised lifetime. Meaningful only if HasMaxAge.
	MaxAge time.Duration

	// HasMaxAge reports whether the origin advertised a lifetime. A
	// no-cache or no-store response has a zero MaxAge.
	HasMaxAge bool
}

// Source fetches key-set documents. Implementations must be safe for
// concurrent use and must not retry internally.
type Source interface {
	Fetch(ctx context.Context) (*Document, error)
}

// Refetcher is implemented by sources that can serve Fetch from a copy
// shared with other processes. [Cache] calls Refetch instead of Fetch
// when a kid is missing from its set, so the lookup reaches the origin
// rather than the copy that lacked the kid.
type Refetcher interface {
	Refetch(ctx context.Context) (*Document, error)
}

// HTTPSource fetches the key set from a URL with a plain GET.
type HTTPSource struct {
	url    string
	client HTTPClient
}

// NewHTTPSource returns a Source for url. A nil client uses
// [http.DefaultClient].
func NewHTTPSource(url string, client HTTPClient) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{url: url, client: client}
}

// Fetch implements Source. Transport failures, non-200 answers and read
// errors return KEYS_001.
func (s *HTTPSource) Fetch(ctx context.Context) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeKeyFetch, "keys: failed to build key set request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeKeyFetch, "keys: key set request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, sserr.Newf(sserr.CodeKeyFetch,
			"keys: key set endpoint returned HTTP %d", resp.StatusCode).WithDetail("status", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeKeyFetch, "keys: failed to read key set response")
	}

	maxAge, ok := parseCacheControl(resp.Header.Get("Cache-Control"))
	if ok && maxAge > 0 {
		if age, err := strconv.ParseInt(strings.TrimSpace(resp.Header.Get("Age")), 10, 64); err == nil && age > 0 {
			maxAge = max(maxAge-time.Duration(age)*time.Second, 0)
		}
	}
	return &Document{Body: body, MaxAge: maxAge, HasMaxAge: ok}, nil
}

// parseCacheControl extracts the lifetime from a Cache-Control header.
// no-cache and no-store yield (0, true). A header without max-age, or
// one that does not parse, yields (0, false) so the caller falls back to
// its default.
func parseCacheControl(header string) (time.Duration, bool) {
	if strings.TrimSpace(header) == "" {
		return 0, false
	}
	cc, err := cacheobject.ParseResponseCacheControl(strings.ToLower(header))
	if err != nil || cc == nil {
		return 0, false
	}
	switch {
	case cc.NoCachePresent || cc.NoStore:
		return 0, true
	case cc.MaxAge < 0:
		return 0, false
	}
	return time.Duration(cc.MaxAge) * time.Second, true
}
