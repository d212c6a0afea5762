package diagnostic

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	kettle "github.com/pentaho/pentaho-kettle-sub148"
	"github.com/pentaho/pentaho-kettle-sub148/edge"
	"github.com/pentaho/pentaho-kettle-sub148/models"
)

// Engine Handler

type Handler struct {
	l *zap.Logger
}

// NewHandler returns the diagnostic of the engine logging to l.
func NewHandler(l *zap.Logger) *Handler {
	return &Handler{l: l}
}

func (h *Handler) WithRunContext(run, pipeline string) kettle.RunDiagnostic {
	return &RunHandler{
		l: h.l.With(zap.String("run", run), zap.String("pipeline", pipeline)),
	}
}

func (h *Handler) EngineClosed(stopped int) {
	h.l.Info("closed engine", zap.Int("stopped_runs", stopped))
}

func (h *Handler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

// Run Handler

type RunHandler struct {
	l *zap.Logger
}

func (h *RunHandler) WithUnitContext(operation string, copy int) kettle.UnitDiagnostic {
	return &UnitHandler{
		l: h.l.With(zap.String("operation", operation), zap.Int("copy", copy)),
	}
}

func (h *RunHandler) WithEdgeContext(from, to string) edge.Diagnostic {
	return &EdgeHandler{
		l: h.l.With(zap.String("from", from), zap.String("to", to)),
	}
}

func (h *RunHandler) StartingRun(operations, units int) {
	h.l.Debug("starting run", zap.Int("operations", operations), zap.Int("units", units))
}

func (h *RunHandler) StartedRun(units int) {
	h.l.Info("started run", zap.Int("units", units))
}

func (h *RunHandler) InitFailed(err error) {
	h.l.Error("failed to initialize run", zap.Error(err))
}

func (h *RunHandler) StoppingRun(cause error) {
	h.l.Info("stopping run", zap.String("cause", cause.Error()))
}

func (h *RunHandler) FinishedRun(status kettle.Status, elapsed time.Duration) {
	h.l.Info("finished run", zap.Stringer("status", status), zap.Duration("elapsed", elapsed))
}

// Unit Handler

type UnitHandler struct {
	l *zap.Logger
}

func (h *UnitHandler) UnitFault(err error) {
	h.l.Error("operation failed", zap.Error(err))
}

func (h *UnitHandler) RoutedError(err *kettle.RowError, total int64) {
	h.l.Debug("routed row error",
		zap.String("description", err.Description),
		zap.Strings("fields", err.Fields),
		zap.String("code", err.Code),
		zap.Int64("total", total),
	)
}

func (h *UnitHandler) LogRow(level, prefix string, s *models.Schema, r models.Row) {
	fields := []zap.Field{
		zap.String("prefix", prefix),
		zap.Object("field", rowFields{s: s, r: r}),
	}

	var log func(string, ...zap.Field)

	switch strings.ToUpper(level) {
	case "DEBUG":
		log = h.l.Debug
	case "WARN":
		log = h.l.Warn
	case "ERROR":
		log = h.l.Error
	default:
		log = h.l.Info
	}

	log("row", fields...)
}

func (h *UnitHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

// rowFields encodes a row as an object keyed by field name.
type rowFields struct {
	s *models.Schema
	r models.Row
}

func (rf rowFields) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	for i := 0; i < rf.r.Len(); i++ {
		name := fmt.Sprintf("%d", i)
		if i < rf.s.Len() {
			name = rf.s.Field(i).Name
		}
		switch v := rf.r.Value(i).(type) {
		case nil:
			enc.AddString(name, "<null>")
		case string:
			enc.AddString(name, v)
		case int64:
			enc.AddInt64(name, v)
		case bool:
			enc.AddBool(name, v)
		case time.Time:
			enc.AddTime(name, v)
		case []byte:
			enc.AddBinary(name, v)
		case *big.Float:
			enc.AddString(name, v.Text('f', -1))
		default:
			if err := enc.AddReflected(name, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// Edge Handler

type EdgeHandler struct {
	l *zap.Logger
}

func (h *EdgeHandler) ClosingEdge(collected int64, emitted int64) {
	h.l.Debug("closing edge", zap.Int64("collected", collected), zap.Int64("emitted", emitted))
}

// Storage Handler

type StorageHandler struct {
	l *zap.Logger
}

func (h *StorageHandler) Opened(path string) {
	h.l.Debug("opened storage", zap.String("path", path))
}

func (h *StorageHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

// Run Store Handler

type RunStoreHandler struct {
	l *zap.Logger
}

func (h *RunStoreHandler) SavedResult(run string, status kettle.Status) {
	h.l.Debug("saved run result", zap.String("run", run), zap.Stringer("status", status))
}

func (h *RunStoreHandler) PrunedResults(n int) {
	h.l.Debug("pruned run results", zap.Int("count", n))
}

// Server Handler

type ServerHandler struct {
	l *zap.Logger
}

func (h *ServerHandler) Opened(services int) {
	h.l.Info("opened server", zap.Int("services", services))
}

func (h *ServerHandler) Closed() {
	h.l.Info("closed server")
}

func (h *ServerHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

// Metrics Handler

type MetricsHandler struct {
	l *zap.Logger
}

func (h *MetricsHandler) Listening(addr string) {
	h.l.Info("listening for metrics requests", zap.String("addr", addr))
}

func (h *MetricsHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}
