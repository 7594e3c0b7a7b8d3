package gateway

import (
	"io"
	"net/http"

	"github.com/balticlsc/balticlsc-module/internal/serverutil"
	"github.com/balticlsc/balticlsc-module/pkg/lg"
)

// MaxTokenBytes caps the size of a submitted token.
const MaxTokenBytes = 1 << 20

type response struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Data    string `json:"data,omitempty"`
}

var codeStatus = map[string]int{
	CodeTokenParse:    http.StatusBadRequest,
	CodeMissingPin:    http.StatusBadRequest,
	CodePoolSaturated: http.StatusServiceUnavailable,
	CodeDispatch:      http.StatusInternalServerError,
}

// Handler serves POST /token, GET /status and GET /healthz.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", g.handleToken)
	mux.HandleFunc("GET /status", g.handleStatus)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (g *Gateway) handleToken(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxTokenBytes))
	if err != nil {
		// unreadable or oversized bodies go down the malformed token path
		g.log.Warn("reading token body failed", lg.Err(err))
		body = nil
	}

	res := g.Submit(r.Context(), body)
	if res.Accepted {
		serverutil.WriteJSON(w, http.StatusOK, response{Success: true})
		return
	}
	code, ok := codeStatus[res.Code]
	if !ok {
		code = http.StatusInternalServerError
	}
	serverutil.WriteJSON(w, code, response{Code: res.Code, Data: res.Err.Error()})
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	serverutil.WriteJSON(w, http.StatusOK, g.node.Status())
}
