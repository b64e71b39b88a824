package interceptor

import (
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

var hopHeaders = []string{
	"Connection", "Proxy-Connection", "Keep-Alive", "Proxy-Authenticate",
	"Proxy-Authorization", "Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// IsProxyRequest reports whether r was sent in proxy (absolute-URL) form.
func IsProxyRequest(r *http.Request) bool {
	return r.URL.IsAbs() && r.URL.Host != ""
}

// ServeHTTP is a forward proxy: pages send absolute-URL requests here and
// get whatever the active generation decides. A failure answers this one
// request with 504.
func (p *Process) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		http.Error(w, "CONNECT is not supported", http.StatusMethodNotAllowed)
		return
	}
	if !IsProxyRequest(r) {
		http.Error(w, "absolute URL required", http.StatusBadRequest)
		return
	}

	out := r.Clone(r.Context())
	out.RequestURI = ""
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}

	resp, err := p.RoundTrip(out)
	if err != nil {
		log.Info().Err(err).Str("method", r.Method).Str("url", r.URL.String()).Msg("intercepted request failed")
		http.Error(w, "upstream unavailable", http.StatusGatewayTimeout)
		return
	}
	defer resp.Body.Close()

	for _, h := range hopHeaders {
		resp.Header.Del(h)
	}
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Debug().Err(err).Msg("copy proxied body")
	}
}
