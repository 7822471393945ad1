// Package httpapi is the JSON adapter over core. The caller's identity comes
// from the X-User-ID header set by the fronting auth layer.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sheikh-saqib/stakes-ledger/internal/core"
	"github.com/sheikh-saqib/stakes-ledger/internal/errs"
	"github.com/sheikh-saqib/stakes-ledger/internal/models"
	"github.com/sheikh-saqib/stakes-ledger/internal/tasks"
)

const userHeader = "X-User-ID"

type Server struct {
	core       *core.Core
	logger     *log.Logger
	cronSecret string
	mux        *http.ServeMux
}

// NewServer registers every route. An empty cronSecret leaves the cron and
// admin routes open.
func NewServer(c *core.Core, logger *log.Logger, cronSecret string) *Server {
	s := &Server{core: c, logger: logger, cronSecret: cronSecret, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	s.mux.HandleFunc("POST /users/{id}/sync", s.syncUser)
	s.mux.HandleFunc("GET /users/{id}/balance", s.balance)
	s.mux.HandleFunc("GET /users/{id}/entries", s.entries)
	s.mux.HandleFunc("GET /users/{id}/verify", s.verify)
	s.mux.HandleFunc("POST /users/{id}/deposits", s.admin(s.deposit))

	s.mux.HandleFunc("POST /spaces/{spaceId}/tasks", s.createTasks)
	s.mux.HandleFunc("POST /spaces/{spaceId}/recurring", s.scheduleRecurring)
	s.mux.HandleFunc("GET /spaces/{spaceId}/quota", s.quota)
	s.mux.HandleFunc("GET /spaces/{spaceId}/leaderboard", s.leaderboard)
	s.mux.HandleFunc("GET /spaces/{spaceId}/forgiveness-requests", s.pendingRequests)

	s.mux.HandleFunc("GET /tasks/{id}", s.getTask)
	s.mux.HandleFunc("POST /tasks/{id}/complete", s.complete)
	s.mux.HandleFunc("POST /tasks/{id}/forgive", s.forgive)
	s.mux.HandleFunc("POST /tasks/{id}/forgiveness-requests", s.requestVote)

	s.mux.HandleFunc("GET /forgiveness-requests/{id}", s.getRequest)
	s.mux.HandleFunc("POST /forgiveness-requests/{id}/votes", s.vote)

	s.mux.HandleFunc("POST /cron/deadline-check", s.admin(s.deadlineCheck))
	s.mux.HandleFunc("POST /cron/weekly-reset", s.admin(s.weeklyReset))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	started := time.Now()
	s.mux.ServeHTTP(rec, r)
	s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "took", time.Since(started))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// admin guards a handler with the bearer cron secret.
func (s *Server) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cronSecret != "" && !s.hasSecret(r) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Code: "UNAUTHORIZED", Error: "missing or invalid cron secret"})
			return
		}
		next(w, r)
	}
}

func (s *Server) hasSecret(r *http.Request) bool {
	if s.cronSecret == "" {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(s.cronSecret)) == 1
}

type okBody struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type errorBody struct {
	OK    bool   `json:"ok"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) ok(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, okBody{OK: true, Data: data})
}

// fail renders a business error with its code, anything else as a 500
// without leaking the cause.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := errs.CodeOf(err)
	if code == "" {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Code: "INTERNAL", Error: "internal error"})
		return
	}
	writeJSON(w, statusFor(code), errorBody{Code: string(code), Error: err.Error()})
}

func statusFor(code errs.Code) int {
	switch code {
	case errs.NotAuthorized:
		return http.StatusForbidden
	case errs.NotFound:
		return http.StatusNotFound
	case errs.InvalidState, errs.AlreadyExists, errs.DeadlinePassed:
		return http.StatusConflict
	case errs.InsufficientBalance:
		return http.StatusPaymentRequired
	case errs.QuotaExhausted:
		return http.StatusTooManyRequests
	case errs.Expired:
		return http.StatusGone
	default:
		return http.StatusBadRequest
	}
}

// caller returns the authenticated user, writing the error itself when absent.
func (s *Server) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(userHeader))
	if id == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{Code: "UNAUTHORIZED", Error: userHeader + " header is required"})
		return "", false
	}
	return id, true
}

// self returns the {id} of a per-user route. Only that user, or a holder of
// the cron secret, may address it.
func (s *Server) self(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if s.hasSecret(r) {
		return id, true
	}
	user, ok := s.caller(w, r)
	if !ok {
		return "", false
	}
	if user != id {
		s.fail(w, r, errs.New(errs.NotAuthorized, "cannot access the account of %s", id))
		return "", false
	}
	return id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.fail(w, r, errs.New(errs.InvalidInput, "invalid request body: %v", err))
		return false
	}
	return true
}

func (s *Server) syncUser(w http.ResponseWriter, r *http.Request) {
	id, ok := s.self(w, r)
	if !ok {
		return
	}
	created, err := s.core.SyncUser(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.ok(w, status, map[string]any{"user_id": id, "created": created})
}

func (s *Server) balance(w http.ResponseWriter, r *http.Request) {
	id, ok := s.self(w, r)
	if !ok {
		return
	}
	b, err := s.core.GetBalance(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, map[string]any{"user_id": id, "balance": b})
}

func (s *Server) entries(w http.ResponseWriter, r *http.Request) {
	id, ok := s.self(w, r)
	if !ok {
		return
	}
	entries, err := s.core.ListEntries(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	s.ok(w, http.StatusOK, entries)
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	id, ok := s.self(w, r)
	if !ok {
		return
	}
	d, err := s.core.VerifyBalance(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, map[string]any{"cached": d.Cached, "computed": d.Computed, "in_sync": d.InSync()})
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount int64 `json:"amount"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	entry, err := s.core.Deposit(r.Context(), r.PathValue("id"), req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusCreated, entry)
}

type taskRow struct {
	Title string    `json:"title"`
	Stake int64     `json:"stake"`
	DueAt time.Time `json:"due_at"`
	Day   *int      `json:"day,omitempty"`
}

// createTasks accepts explicit rows with due_at, or a window ("today" or
// "week") whose rows get their due time from the calendar.
func (s *Server) createTasks(w http.ResponseWriter, r *http.Request) {
	user, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Window string    `json:"window"`
		Tasks  []taskRow `json:"tasks"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	space := r.PathValue("spaceId")

	var created []models.TaskInstance
	var err error
	switch req.Window {
	case "":
		batch := make([]tasks.NewTask, 0, len(req.Tasks))
		for _, t := range req.Tasks {
			batch = append(batch, tasks.NewTask{Title: t.Title, Stake: t.Stake, DueAt: t.DueAt})
		}
		created, err = s.core.CreateBatch(r.Context(), user, space, batch)
	case "today", "week":
		rows := make([]tasks.Row, 0, len(req.Tasks))
		for _, t := range req.Tasks {
			rows = append(rows, tasks.Row{Title: t.Title, Stake: t.Stake, Day: t.Day})
		}
		if req.Window == "today" {
			created, err = s.core.CreateTodayBatch(r.Context(), user, space, rows)
		} else {
			created, err = s.core.CreateWeekBatch(r.Context(), user, space, rows)
		}
	default:
		err = errs.New(errs.InvalidInput, "unknown window %q", req.Window)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusCreated, created)
}

func (s *Server) scheduleRecurring(w http.ResponseWriter, r *http.Request) {
	user, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Title      string `json:"title"`
		Stake      int64  `json:"stake"`
		Recurrence string `json:"recurrence"`
		Weekday    int    `json:"weekday"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	inst, err := s.core.ScheduleRecurring(r.Context(), user, r.PathValue("spaceId"), req.Title, req.Stake,
		tasks.Recurrence(strings.ToUpper(req.Recurrence)), req.Weekday)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusCreated, inst)
}

func (s *Server) quota(w http.ResponseWriter, r *http.Request) {
	user, ok := s.caller(w, r)
	if !ok {
		return
	}
	used, limit, err := s.core.QuotaStatus(r.Context(), user, r.PathValue("spaceId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, map[string]int{"used": used, "limit": limit})
}

// leaderboard serves ?year=&week= or, without both, the last finished week.
func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	user, ok := s.caller(w, r)
	if !ok {
		return
	}
	var week models.WeekKey
	if q := r.URL.Query(); q.Get("year") != "" || q.Get("week") != "" {
		year, yerr := strconv.Atoi(q.Get("year"))
		num, werr := strconv.Atoi(q.Get("week"))
		if yerr != nil || werr != nil || num < 1 || num > 53 {
			s.fail(w, r, errs.New(errs.InvalidInput, "year and week must both be set, week in 1..53"))
			return
		}
		week = models.WeekKey{Year: year, Week: num}
	}
	rows, err := s.core.Leaderboard(r.Context(), r.PathValue("spaceId"), user, week)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []models.WeeklyStats{}
	}
	s.ok(w, http.StatusOK, rows)
}

func (s *Server) pendingRequests(w http.ResponseWriter, r *http.Request) {
	user, ok := s.caller(w, r)
	if !ok {
		return
	}
	reqs, err := s.core.PendingRequests(r.Context(), r.PathValue("spaceId"), user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if reqs == nil {
		reqs = []models.ForgivenessRequest{}
	}
	s.ok(w, http.StatusOK, reqs)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	inst, err := s.core.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, inst)
}

func (s *Server) complete(w http.ResponseWriter, r *http.Request) {
	user, ok := s.caller(w, r)
	if !ok {
		return
	}
	inst, err := s.core.CompleteTask(r.Context(), r.PathValue("id"), user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, inst)
}

func (s *Server) forgive(w http.ResponseWriter, r *http.Request) {
	user, ok := s.caller(w, r)
	if !ok {
		return
	}
	inst, err := s.core.RequestPersonalForgiveness(r.Context(), r.PathValue("id"), user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, inst)
}

func (s *Server) requestVote(w http.ResponseWriter, r *http.Request) {
	user, ok := s.caller(w, r)
	if !ok {
		return
	}
	req, err := s.core.RequestGroupForgiveness(r.Context(), r.PathValue("id"), user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusCreated, req)
}

func (s *Server) getRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.core.GetRequest(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, req)
}

func (s *Server) vote(w http.ResponseWriter, r *http.Request) {
	user, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Vote string `json:"vote"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	tally, err := s.core.VoteOnRequest(r.Context(), r.PathValue("id"), user, models.VoteChoice(strings.ToUpper(req.Vote)))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, tally)
}

func (s *Server) deadlineCheck(w http.ResponseWriter, r *http.Request) {
	report, err := s.core.RunDeadlineSweep(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, report)
}

func (s *Server) weeklyReset(w http.ResponseWriter, r *http.Request) {
	report, err := s.core.RunWeeklyAggregation(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, report)
}
