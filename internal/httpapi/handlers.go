package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/caffeineduck/wasmfaas/accel"
	"github.com/caffeineduck/wasmfaas/executor"
	"github.com/caffeineduck/wasmfaas/loader"
	"github.com/caffeineduck/wasmfaas/sandbox"
)

// Response headers set on successful invocations.
const (
	HeaderExitCode     = "X-Guest-Exit-Code"
	HeaderModuleDigest = "X-Module-Digest"
	HeaderRequestID    = "X-Request-Id"
)

// runtimes maps accepted {runtime} path segments to the engine serving them.
// "wasmtime" is an alias for older clients.
var runtimes = map[string]string{
	"wazero":   executor.Runtime,
	"wasmtime": executor.Runtime,
}

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if _, ok := runtimes[r.PathValue("runtime")]; !ok {
		s.writeError(w, r, http.StatusNotFound, "", "unknown runtime "+strconv.Quote(r.PathValue("runtime")))
		return
	}

	params, err := queryParams(r.URL.RawQuery)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, string(executor.KindEnvironment), "invalid query string: "+err.Error())
		return
	}

	res, err := s.invoker.Invoke(r.Context(), r.PathValue("module"), params)
	if err != nil {
		s.writeError(w, r, statusFor(err), string(executor.KindOf(err)), err.Error())
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set(HeaderExitCode, strconv.FormatUint(uint64(res.ExitCode), 10))
	h.Set(HeaderModuleDigest, res.Digest)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(res.Output))
}

func (s *Server) handleInfer(w http.ResponseWriter, r *http.Request) {
	if s.inferer == nil {
		s.writeError(w, r, http.StatusNotImplemented, "", accel.ErrUnavailable.Error())
		return
	}

	res, err := s.inferer.Run(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, accel.ErrUnavailable):
			status = http.StatusNotImplemented
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			status = http.StatusGatewayTimeout
		}
		s.writeError(w, r, status, "", err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(res.Output))
}

// queryParams parses a raw query into a parameter map. Keys without a
// value map to "". For repeated keys the first value wins.
func queryParams(rawQuery string) (map[string]string, error) {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, err
	}
	params := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params, nil
}

// statusFor maps an invocation error to an HTTP status.
func statusFor(err error) int {
	switch executor.KindOf(err) {
	case executor.KindResolution:
		switch {
		case errors.Is(err, loader.ErrNotFound):
			return http.StatusNotFound
		case errors.Is(err, loader.ErrInvalidID),
			errors.Is(err, loader.ErrInvalidBinary),
			errors.Is(err, loader.ErrTooLarge):
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	case executor.KindEnvironment:
		if errors.Is(err, sandbox.ErrInvalidParam) {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	case executor.KindLink, executor.KindEntryPoint, executor.KindInstantiation,
		executor.KindTrap, executor.KindDecode:
		return http.StatusBadGateway
	case executor.KindTimeout:
		return http.StatusGatewayTimeout
	}
	if errors.Is(err, executor.ErrClosed) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, kind, msg string) {
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("kind", kind),
			slog.String("error", msg),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{
		Error:     msg,
		Kind:      kind,
		RequestID: RequestIDFrom(r.Context()),
	})
}
