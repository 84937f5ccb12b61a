package httpapi

import (
	"errors"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"danmud/pkg/types"
)

// hopHeaders are not forwarded from worker responses. Content-Length is
// recomputed by net/http from the body and cookies arrive in setCookie.
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Content-Length":      true,
	"Set-Cookie":          true,
}

// forwardHandler hands every non-admin request to the serving generation.
func forwardHandler(svc Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lvl := requestLogLevel(r)
		req, err := buildRequest(w, r)
		if err != nil {
			status := http.StatusBadRequest
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				status = http.StatusRequestEntityTooLarge
			}
			IncrementForwardError(status)
			writeJSONError(w, status, err.Error())
			logForward(r, lvl, status, start, err)
			return
		}
		// the wait on the worker also ends once the server has shut down
		ctx, cancel := joinContexts(r.Context(), serverBaseCtx)
		defer cancel()
		resp, err := svc.Route(ctx, req)
		if err != nil {
			// client went away: nothing to write
			if r.Context().Err() != nil {
				logForward(r, lvl, 499, start, err)
				return
			}
			status := statusFor(err)
			if serverBaseCtx.Err() != nil {
				status = http.StatusServiceUnavailable
			}
			IncrementForwardError(status)
			writeJSONError(w, status, err.Error())
			logForward(r, lvl, status, start, err)
			return
		}
		writeResponse(w, resp)
		logForward(r, lvl, resp.Status, start, nil)
	})
}

// buildRequest converts r into the record handed to a worker: absolute URL,
// headers sorted by name with value order kept, the size-limited body and
// the caller address.
func buildRequest(w http.ResponseWriter, r *http.Request) (types.Request, error) {
	req := types.Request{
		Method:   r.Method,
		URL:      absoluteURL(r),
		Headers:  sortedHeaders(r),
		ClientIP: clientIP(r.RemoteAddr),
	}
	if r.Body != nil && r.Body != http.NoBody {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			return types.Request{}, err
		}
		if len(body) > 0 {
			req.Body = body
		}
	}
	return req, nil
}

func absoluteURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// sortedHeaders lists r's headers with lower-case names. net/http moves Host
// out of the header map, so it is put back.
func sortedHeaders(r *http.Request) []types.Header {
	names := make([]string, 0, len(r.Header)+1)
	for name := range r.Header {
		names = append(names, name)
	}
	if r.Host != "" {
		names = append(names, "Host")
	}
	sort.Strings(names)
	out := make([]types.Header, 0, len(names))
	for _, name := range names {
		lower := strings.ToLower(name)
		if name == "Host" {
			out = append(out, types.Header{Name: lower, Value: r.Host})
			continue
		}
		for _, v := range r.Header[name] {
			out = append(out, types.Header{Name: lower, Value: v})
		}
	}
	return out
}

// clientIP strips the port from addr. RealIP leaves a bare IP when it
// rewrote RemoteAddr from a forwarding header.
func clientIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func writeResponse(w http.ResponseWriter, resp types.Response) {
	h := w.Header()
	for _, hd := range resp.Headers {
		name := http.CanonicalHeaderKey(hd.Name)
		if hopHeaders[name] {
			continue
		}
		h.Add(name, hd.Value)
	}
	for _, c := range resp.SetCookie {
		h.Add("Set-Cookie", c)
	}
	status := resp.Status
	if status < 100 || status > 999 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}
