package restserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/arpa-simc/provami/internal/explorer"
	"github.com/arpa-simc/provami/internal/exporter"
	"github.com/arpa-simc/provami/internal/webapi"
	"github.com/arpa-simc/provami/pkg/responseformat"
)

// maxBodySize bounds POST payloads.
const maxBodySize = 1 << 20

// Handlers contains all HTTP handlers for the REST server
type Handlers struct {
	controller *Controller
	formatter  *responseformat.Formatter

	// now is replaced in tests
	now func() time.Time
}

// NewHandlers creates a new handlers instance
func NewHandlers(ctrl *Controller) *Handlers {
	return &Handlers{
		controller: ctrl,
		formatter:  responseformat.NewFormatter(),
		now:        time.Now,
	}
}

func (h *Handlers) write(w http.ResponseWriter, req *http.Request, status int, data any) {
	if err := h.formatter.WriteResponse(w, req, status, data); err != nil {
		h.controller.logger.Errorf("error writing response to %s: %v", req.URL.Path, err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, req *http.Request, status int, message string) {
	h.write(w, req, status, webapi.ErrorPayload(&explorer.APIError{Code: status, Message: message}))
}

// requestArgs collects call arguments. GET requests use the query string;
// POST requests a JSON object, with query parameters filling in missing
// keys.
func requestArgs(req *http.Request) (webapi.Args, error) {
	args := make(webapi.Args)
	if req.Method == http.MethodPost && req.Body != nil {
		body, err := io.ReadAll(io.LimitReader(req.Body, maxBodySize))
		if err != nil {
			return nil, err
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &args); err != nil {
				return nil, fmt.Errorf("request body is not a JSON object: %w", err)
			}
		}
	}
	for key, values := range req.URL.Query() {
		if key == "format" || len(values) == 0 {
			continue
		}
		if _, ok := args[key]; ok {
			continue
		}
		raw, err := json.Marshal(values[0])
		if err != nil {
			return nil, err
		}
		args[key] = raw
	}
	return args, nil
}

// Call runs the operation named in the path.
func (h *Handlers) Call(w http.ResponseWriter, req *http.Request) {
	op := mux.Vars(req)["op"]
	args, err := requestArgs(req)
	if err != nil {
		h.writeError(w, req, http.StatusBadRequest, err.Error())
		return
	}
	res, status := h.controller.api.Call(req.Context(), op, args)
	h.write(w, req, status, res)
}

// Index lists the available operations.
func (h *Handlers) Index(w http.ResponseWriter, req *http.Request) {
	api := h.controller.api
	h.write(w, req, http.StatusOK, map[string]any{
		"db_url":      api.Session().DBURL(),
		"initialized": api.Session().Initialized(),
		"operations":  api.Operations(),
		"formats":     exporter.Formats,
	})
}

// Start stores the access token in a cookie and redirects to the index.
func (h *Handlers) Start(w http.ResponseWriter, req *http.Request) {
	c := h.controller
	token := mux.Vars(req)["token"]
	if c.token != "" && !c.validToken(token) {
		h.writeError(w, req, http.StatusUnauthorized, "invalid token")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   c.restConfig.TLSEnabled(),
	})
	http.Redirect(w, req, "/", http.StatusFound)
}

// exportWriter sends the response headers on the first write, so failures
// before any data can still be reported as an error payload.
type exportWriter struct {
	w       http.ResponseWriter
	headers func()
	started bool
}

func (e *exportWriter) Write(p []byte) (int, error) {
	if !e.started {
		e.started = true
		e.headers()
	}
	return e.w.Write(p)
}

// Export streams the data selected by the active filter.
func (h *Handlers) Export(w http.ResponseWriter, req *http.Request) {
	format, err := exporter.ParseFormat(mux.Vars(req)["format"])
	if err != nil {
		h.writeError(w, req, http.StatusBadRequest, err.Error())
		return
	}

	filename := fmt.Sprintf("%s.%s", h.now().Format("20060102-1504"), format)
	out := &exportWriter{w: w, headers: func() {
		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		w.WriteHeader(http.StatusOK)
	}}

	err = h.controller.api.Session().Export(req.Context(), format, out)
	switch {
	case err == nil && !out.started:
		out.headers()
	case err != nil && !out.started:
		apiErr := explorer.ToAPIError(err)
		h.write(w, req, apiErr.Code, webapi.ErrorPayload(apiErr))
	case err != nil:
		if !errors.Is(err, req.Context().Err()) {
			h.controller.logger.Errorf("export %s interrupted: %v", format, err)
		}
	}
}
