package transport

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang/snappy"
	"github.com/gorilla/mux"

	"github.com/roach88/rowsync/internal/ir"
	"github.com/roach88/rowsync/internal/notify"
	"github.com/roach88/rowsync/internal/replica"
)

// EncodingSnappy is the content coding for snappy block compression.
const EncodingSnappy = "snappy"

// SiteInfo is the body of GET /v1/site.
type SiteInfo struct {
	Site      string `json:"site"`
	DBVersion int64  `json:"db_version"`
	Protocol  string `json:"protocol"`
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Server answers delta requests for one replica.
type Server struct {
	Replica *replica.Replica

	// Hub serves /v1/notify when set.
	Hub *notify.Hub

	// Metrics serves /metrics when set.
	Metrics http.Handler

	// MaxLimit caps the limit a client may ask for; 0 means no cap.
	MaxLimit int

	Logger *slog.Logger
}

// Handler returns a router with every route attached.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.Attach(r)
	return r
}

// Attach registers the routes on router.
func (s *Server) Attach(router *mux.Router) {
	router.HandleFunc("/v1/site", s.handleSite).Methods("GET")
	router.HandleFunc("/v1/changes", s.handleChanges).Methods("GET")
	if s.Hub != nil {
		router.Handle(notify.Path, s.Hub).Methods("GET")
	}
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "ok\n")
	}).Methods("GET")
	if s.Metrics != nil {
		router.Handle("/metrics", s.Metrics).Methods("GET")
	}
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Server) handleSite(w http.ResponseWriter, r *http.Request) {
	head, err := s.Replica.DBVersion(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SiteInfo{
		Site:      s.Replica.Site().String(),
		DBVersion: head,
		Protocol:  ir.ProtocolVersion,
	})
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	requester, err := ir.ParseSiteID(q.Get("site"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorBody{Code: "BAD_REQUEST", Message: "site: " + err.Error()})
		return
	}
	since, err := parseNonNegative(q.Get("since"), true)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorBody{Code: "BAD_REQUEST", Message: "since: " + err.Error()})
		return
	}
	limit, err := parseNonNegative(q.Get("limit"), false)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorBody{Code: "BAD_REQUEST", Message: "limit: " + err.Error()})
		return
	}
	if s.MaxLimit > 0 && (limit == 0 || limit > int64(s.MaxLimit)) {
		limit = int64(s.MaxLimit)
	}

	batch, err := s.Replica.ChangesSince(r.Context(), requester, since, int(limit))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	body, err := json.Marshal(batch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if acceptsSnappy(r) {
		body = snappy.Encode(nil, body)
		w.Header().Set("Content-Encoding", EncodingSnappy)
	}
	w.WriteHeader(http.StatusOK)
	w.Write(body)

	s.logger().Debug("served changes",
		"peer", requester.Short(),
		"since", since,
		"through", batch.Through,
		"changes", len(batch.Changes),
	)
}

func acceptsSnappy(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		if strings.TrimSpace(strings.SplitN(part, ";", 2)[0]) == EncodingSnappy {
			return true
		}
	}
	return false
}

func parseNonNegative(text string, required bool) (int64, error) {
	if text == "" {
		if required {
			return 0, errors.New("required")
		}
		return 0, nil
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, errors.New("must be >= 0")
	}
	return v, nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL"
	var re *ir.ReplicationError
	if errors.As(err, &re) {
		code = string(re.Code)
		if re.Code == ir.ErrCodeSchemaViolation || re.Code == ir.ErrCodeMonotonicity {
			status = http.StatusBadRequest
		}
	}
	s.logger().Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeJSON(w, status, ErrorBody{Code: code, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(body)
	io.WriteString(w, "\n")
}
