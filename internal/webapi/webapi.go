// Package webapi maps operation names to session calls and wraps their
// results in the response envelope shared by all front-ends.
package webapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arpa-simc/provami/internal/explorer"
	"github.com/arpa-simc/provami/internal/metrics"
	"github.com/arpa-simc/provami/internal/session"
)

// Operation names an API call.
type Operation string

const (
	OpPing                   Operation = "ping"
	OpInit                   Operation = "init"
	OpGetData                Operation = "get_data"
	OpGetStationData         Operation = "get_station_data"
	OpGetStationDataAttrs    Operation = "get_station_data_attrs"
	OpGetDataAttrs           Operation = "get_data_attrs"
	OpSetFilter              Operation = "set_filter"
	OpReplaceData            Operation = "replace_data"
	OpReplaceStationData     Operation = "replace_station_data"
	OpReplaceDataAttr        Operation = "replace_data_attr"
	OpReplaceStationDataAttr Operation = "replace_station_data_attr"
	OpSetDataLimit           Operation = "set_data_limit"
	OpRefreshFilter          Operation = "refresh_filter"
)

// ErrUnknownOperation is returned for names outside the operation table.
var ErrUnknownOperation = errors.New("unknown operation")

// Args holds the named arguments of a call, as raw JSON values.
type Args map[string]json.RawMessage

// Result is the payload of a successful call, before the envelope fields
// are added.
type Result map[string]any

type handler func(ctx context.Context, args Args) (Result, error)

// API dispatches calls to a session.
type API struct {
	session  *session.Session
	handlers map[Operation]handler
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics

	// now is replaced in tests
	now func() time.Time
}

// New returns an API serving s.
func New(s *session.Session, logger *zap.SugaredLogger, m *metrics.Metrics) *API {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	a := &API{
		session: s,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
	a.handlers = map[Operation]handler{
		OpPing:                   a.ping,
		OpInit:                   a.initExplorer,
		OpGetData:                a.getData,
		OpGetStationData:         a.getStationData,
		OpGetStationDataAttrs:    a.getStationDataAttrs,
		OpGetDataAttrs:           a.getDataAttrs,
		OpSetFilter:              a.setFilter,
		OpReplaceData:            a.replaceData,
		OpReplaceStationData:     a.replaceStationData,
		OpReplaceDataAttr:        a.replaceDataAttr,
		OpReplaceStationDataAttr: a.replaceStationDataAttr,
		OpSetDataLimit:           a.setDataLimit,
		OpRefreshFilter:          a.refreshFilter,
	}
	return a
}

// Session returns the session the API dispatches to.
func (a *API) Session() *session.Session {
	return a.session
}

// Operations lists the supported operation names, sorted.
func (a *API) Operations() []Operation {
	ops := make([]Operation, 0, len(a.handlers))
	for op := range a.handlers {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}

// Call runs op and returns the enveloped response with its HTTP status code.
// Failures produce an error payload instead of a Go error.
func (a *API) Call(ctx context.Context, op string, args Args) (map[string]any, int) {
	start := a.now()
	h, ok := a.handlers[Operation(op)]
	if !ok {
		err := &explorer.APIError{Code: http.StatusNotFound, Message: fmt.Sprintf("%s: %q", ErrUnknownOperation, op)}
		a.metrics.ObserveAPICall(op, err.Code, 0)
		return ErrorPayload(err), err.Code
	}

	res, err := h(ctx, args)
	elapsed := a.now().Sub(start)
	if err != nil {
		apiErr := explorer.ToAPIError(err)
		if apiErr.Code >= http.StatusInternalServerError {
			a.logger.Errorf("API call %s failed: %v", op, err)
		} else {
			a.logger.Debugf("API call %s rejected: %v", op, err)
		}
		a.metrics.ObserveAPICall(op, apiErr.Code, elapsed)
		return ErrorPayload(apiErr), apiErr.Code
	}
	a.metrics.ObserveAPICall(op, http.StatusOK, elapsed)
	a.logger.Debugf("API call %s done in %s", op, elapsed)
	return a.envelope(res), http.StatusOK
}

func (a *API) envelope(res Result) map[string]any {
	out := make(map[string]any, len(res)+2)
	for k, v := range res {
		out[k] = v
	}
	if !a.session.Initialized() {
		out["initializing"] = true
	}
	out["time"] = float64(a.now().UnixNano()) / float64(time.Second)
	return out
}

// ErrorPayload renders err as {"error": true, "code": N, "message": "..."}.
func ErrorPayload(err *explorer.APIError) map[string]any {
	return map[string]any{
		"error":   true,
		"code":    err.Code,
		"message": err.Message,
	}
}

func invalidArg(key string, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", explorer.ErrInvalidRecord, key, fmt.Sprintf(format, args...))
}

func (args Args) raw(key string) (json.RawMessage, bool) {
	raw, ok := args[key]
	if !ok {
		return nil, false
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false
	}
	return raw, true
}

// Int reads an integer given as a JSON number or a numeric string.
func (args Args) Int(key string) (int, error) {
	raw, ok := args.raw(key)
	if !ok {
		return 0, invalidArg(key, "missing")
	}
	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, invalidArg(key, "%v", err)
		}
	} else {
		s = string(raw)
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, invalidArg(key, "%q is not an integer", s)
	}
	return n, nil
}

// OptInt reads an optional integer. Null, false, an empty string or a
// missing key yield nil.
func (args Args) OptInt(key string) (*int, error) {
	raw, ok := args.raw(key)
	if !ok || bytes.Equal(raw, []byte(`""`)) || bytes.Equal(raw, []byte("false")) {
		return nil, nil
	}
	n, err := args.Int(key)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// Object reads a JSON object. Query string arguments carry it as a string
// holding JSON.
func (args Args) Object(key string) (map[string]json.RawMessage, error) {
	raw, ok := args.raw(key)
	if !ok {
		return nil, invalidArg(key, "missing")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, invalidArg(key, "%v", err)
		}
		raw = []byte(s)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, invalidArg(key, "expected an object: %v", err)
	}
	if obj == nil {
		obj = map[string]json.RawMessage{}
	}
	return obj, nil
}

func (a *API) ping(ctx context.Context, _ Args) (Result, error) {
	if err := a.session.Ping(ctx); err != nil {
		return nil, err
	}
	return Result{"pong": true}, nil
}

func (a *API) initExplorer(ctx context.Context, _ Args) (Result, error) {
	v, err := a.session.Init(ctx)
	if err != nil {
		return nil, err
	}
	return Result{"explorer": v}, nil
}

func (a *API) refreshFilter(ctx context.Context, _ Args) (Result, error) {
	v, err := a.session.RefreshFilter(ctx)
	if err != nil {
		return nil, err
	}
	return Result{"explorer": v}, nil
}

func (a *API) setFilter(ctx context.Context, args Args) (Result, error) {
	filter, err := args.Object("filter")
	if err != nil {
		return nil, err
	}
	v, err := a.session.SetFilter(ctx, filter)
	if err != nil {
		return nil, err
	}
	return Result{"explorer": v}, nil
}

func (a *API) getData(ctx context.Context, _ Args) (Result, error) {
	rows, err := a.session.GetData(ctx)
	if err != nil {
		return nil, err
	}
	return Result{"rows": rows}, nil
}

func (a *API) getStationData(ctx context.Context, args Args) (Result, error) {
	id, err := args.Int("id_station")
	if err != nil {
		return nil, err
	}
	station, rows, err := a.session.GetStationData(ctx, id)
	if err != nil {
		return nil, err
	}
	return Result{"station": station, "rows": rows}, nil
}

func (a *API) getStationDataAttrs(ctx context.Context, args Args) (Result, error) {
	id, err := args.Int("id")
	if err != nil {
		return nil, err
	}
	rows, err := a.session.GetStationDataAttrs(ctx, id)
	if err != nil {
		return nil, err
	}
	return Result{"rows": rows}, nil
}

func (a *API) getDataAttrs(ctx context.Context, args Args) (Result, error) {
	id, err := args.Int("id")
	if err != nil {
		return nil, err
	}
	rows, err := a.session.GetDataAttrs(ctx, id)
	if err != nil {
		return nil, err
	}
	return Result{"rows": rows}, nil
}

func (a *API) replaceData(ctx context.Context, args Args) (Result, error) {
	obj, err := args.Object("rec")
	if err != nil {
		return nil, err
	}
	rec, err := session.ParseDataRecord(session.Record(obj))
	if err != nil {
		return nil, err
	}
	rows, err := a.session.ReplaceData(ctx, rec)
	if err != nil {
		return nil, err
	}
	return Result{"rows": rows}, nil
}

func (a *API) replaceStationData(ctx context.Context, args Args) (Result, error) {
	obj, err := args.Object("rec")
	if err != nil {
		return nil, err
	}
	rec, err := session.ParseStationRecord(session.Record(obj))
	if err != nil {
		return nil, err
	}
	station, rows, err := a.session.ReplaceStationData(ctx, rec)
	if err != nil {
		return nil, err
	}
	return Result{"station": station, "rows": rows}, nil
}

// attrArgs reads the owner row id from var_data.i and the attribute from rec.
func attrArgs(args Args) (int, session.Record, error) {
	owner, err := args.Object("var_data")
	if err != nil {
		return 0, nil, err
	}
	id, err := Args(owner).Int("i")
	if err != nil {
		return 0, nil, err
	}
	rec, err := args.Object("rec")
	if err != nil {
		return 0, nil, err
	}
	return id, session.Record(rec), nil
}

func (a *API) replaceDataAttr(ctx context.Context, args Args) (Result, error) {
	id, rec, err := attrArgs(args)
	if err != nil {
		return nil, err
	}
	attr, err := session.ParseAttrRecord(rec)
	if err != nil {
		return nil, err
	}
	rows, err := a.session.ReplaceDataAttr(ctx, id, attr)
	if err != nil {
		return nil, err
	}
	return Result{"rows": rows}, nil
}

func (a *API) replaceStationDataAttr(ctx context.Context, args Args) (Result, error) {
	id, rec, err := attrArgs(args)
	if err != nil {
		return nil, err
	}
	attr, err := session.ParseAttrRecord(rec)
	if err != nil {
		return nil, err
	}
	rows, err := a.session.ReplaceStationDataAttr(ctx, id, attr)
	if err != nil {
		return nil, err
	}
	return Result{"rows": rows}, nil
}

func (a *API) setDataLimit(ctx context.Context, args Args) (Result, error) {
	limit, err := args.OptInt("limit")
	if err != nil {
		return nil, err
	}
	rows, err := a.session.SetDataLimit(ctx, limit)
	if err != nil {
		return nil, err
	}
	return Result{"rows": rows}, nil
}
