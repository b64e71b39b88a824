package interceptor

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"reviews_app/internal/domain"
)

// SourceHeader tells the caller where a response came from.
const SourceHeader = "X-Interceptor-Source"

const (
	fromNetwork     = "network"
	fromCache       = "cache"
	fromPlaceholder = "placeholder"
)

// maxBody caps what one cached response may hold.
const maxBody = 16 << 20

// capture reads resp fully so it can be both stored and returned.
func capture(resp *http.Response) (*domain.StoredResponse, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBody {
		return nil, fmt.Errorf("response larger than %d bytes", maxBody)
	}
	h := resp.Header.Clone()
	h.Del(SourceHeader)
	return &domain.StoredResponse{
		Status:   resp.StatusCode,
		Header:   h,
		Body:     body,
		StoredAt: time.Now().UTC(),
	}, nil
}

// toResponse builds a fresh *http.Response for req from a stored one.
func toResponse(req *http.Request, sr *domain.StoredResponse, source string) *http.Response {
	h := sr.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set(SourceHeader, source)
	h.Set("Content-Length", strconv.Itoa(len(sr.Body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", sr.Status, http.StatusText(sr.Status)),
		StatusCode:    sr.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(sr.Body)),
		ContentLength: int64(len(sr.Body)),
		Request:       req,
	}
}

func ok(status int) bool { return status >= 200 && status < 300 }

// cacheKey is the request URL without fragment or credentials.
func cacheKey(u *url.URL) string {
	k := *u
	k.Fragment = ""
	k.RawFragment = ""
	k.User = nil
	return k.String()
}
