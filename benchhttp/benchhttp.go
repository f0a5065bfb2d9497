/*Package benchhttp exposes a bench over HTTP.

Runs are started with POST /runs/{protocol} and execute in the background;
their samples, status lines and outcome are streamed over a websocket at
GET /runs/{id}/stream and the outcome is kept for later retrieval.  Manual
control of the SMU, lamp and stage lives under /smu, /lamp and /stage and is refused with
423 while a run is active.
*/
package benchhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/pvlab/ivbench/generichttp"
	"github.com/pvlab/ivbench/illumination"
	"github.com/pvlab/ivbench/measure"
	"github.com/pvlab/ivbench/server/middleware/locker"
	"github.com/pvlab/ivbench/smu"
	"github.com/pvlab/ivbench/stage"
	"github.com/sirupsen/logrus"
)

// Retained is how many runs are remembered
const Retained = 64

const writeWait = 5 * time.Second

// ID is the reply to a run request
type ID struct {
	ID string `json:"id"`
}

// StateReply is the reply of GET /state
type StateReply struct {
	State measure.State `json:"state"`
	RunID string        `json:"runId,omitempty"`
}

// Server serves one bench
type Server struct {
	Runner *measure.Runner
	SMU    smu.SourceMeter
	Lamp   illumination.Controller
	Log    logrus.FieldLogger

	// Stage, if not nil, is exposed for manual positioning under /stage
	Stage stage.Positioner

	// Test is the channel manual routes address when none is given
	Test smu.ChannelID

	mu     sync.Mutex
	active string
	runs   *lru.Cache[string, *run]
	wg     sync.WaitGroup
	lock   *locker.Locker
	up     websocket.Upgrader
}

// New returns a Server
func New(runner *measure.Runner, meter smu.SourceMeter, lamp illumination.Controller, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	runs, _ := lru.New[string, *run](Retained)
	s := &Server{
		Runner: runner,
		SMU:    meter,
		Lamp:   lamp,
		Log:    log,
		Test:   runner.Test,
		runs:   runs,
		lock:   locker.New(),
	}
	s.lock.Source = s.busy
	return s
}

func (s *Server) busy() bool {
	s.mu.Lock()
	active := s.active != ""
	s.mu.Unlock()
	return active || s.Runner.Busy()
}

// Wait blocks until every background run has returned
func (s *Server) Wait() {
	s.wg.Wait()
}

// RT returns the run routes.  The {run} segment is a protocol name when
// starting a run and a run ID otherwise.
func (s *Server) RT() generichttp.RouteTable {
	rt := generichttp.RouteTable{
		{Method: http.MethodPost, Path: "/runs/{run}"}:       s.startRun,
		{Method: http.MethodGet, Path: "/runs/{run}"}:        s.getRun,
		{Method: http.MethodGet, Path: "/runs/{run}/stream"}: s.streamRun,
		{Method: http.MethodPost, Path: "/abort"}:            s.abort,
		{Method: http.MethodGet, Path: "/state"}:             s.state,
		{Method: http.MethodPost, Path: "/calibrate"}:        s.calibrate,
	}
	locker.Inject(rt, s.lock)
	return rt
}

// Router returns a chi router with every route bound behind mw
func (s *Server) Router(mw ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(mw...)
	s.RT().Bind(r)
	r.Route("/smu", func(r chi.Router) {
		r.Use(s.lock.Check)
		s.smuRT().Bind(r)
	})
	r.Route("/lamp", func(r chi.Router) {
		r.Use(s.lock.Check)
		s.lampRT().Bind(r)
	})
	if s.Stage != nil {
		r.Route("/stage", func(r chi.Router) {
			r.Use(s.lock.Check)
			s.stageRT().Bind(r)
		})
	}
	return r
}

func decodeParams(r *http.Request, proto measure.Protocol) (measure.Params, error) {
	p, err := measure.NewParams(proto)
	if err != nil {
		return nil, err
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(p); err != nil {
		return nil, errors.Wrap(err, "decoding parameters")
	}
	return p, p.Validate()
}

func paramStatus(err error) int {
	var ce *smu.ComplianceError
	if errors.Is(err, measure.ErrRunInProgress) {
		return http.StatusConflict
	}
	if errors.Is(err, measure.ErrInvalidParameters) || errors.As(err, &ce) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// claim marks id as the active run, false if another run is active
func (s *Server) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != "" || s.Runner.Busy() {
		return false
	}
	s.active = id
	return true
}

func (s *Server) release() {
	s.mu.Lock()
	s.active = ""
	s.mu.Unlock()
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	proto, err := measure.ParseProtocol(chi.URLParam(r, "run"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	p, err := decodeParams(r, proto)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := uuid.NewString()
	if !s.claim(id) {
		http.Error(w, measure.ErrRunInProgress.Error(), http.StatusConflict)
		return
	}
	rec := newRun(id)
	s.runs.Add(id, rec)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release()
		out, err := s.Runner.Run(context.Background(), p, measure.RunOptions{ID: id, Results: rec, Status: rec})
		if err != nil {
			s.Log.WithError(err).WithField("run", id).Error("run ended with error")
		}
		rec.finish(out, err)
	}()
	generichttp.ReplyJSON(w, http.StatusAccepted, ID{ID: id})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "run")
	rec, ok := s.runs.Get(id)
	if !ok {
		http.Error(w, "no run "+id, http.StatusNotFound)
		return
	}
	out, done := rec.result()
	if !done {
		st, _ := s.Runner.State()
		generichttp.ReplyJSON(w, http.StatusAccepted, StateReply{State: st, RunID: id})
		return
	}
	if out == nil {
		http.Error(w, "run "+id+" produced no outcome", http.StatusInternalServerError)
		return
	}
	generichttp.ReplyJSON(w, http.StatusOK, out)
}

func (s *Server) streamRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "run")
	rec, ok := s.runs.Get(id)
	if !ok {
		http.Error(w, "no run "+id, http.StatusNotFound)
		return
	}
	conn, err := s.up.Upgrade(w, r, nil)
	if err != nil {
		s.Log.WithError(err).Warn("websocket upgrade")
		return
	}
	defer conn.Close()
	replay, ch := rec.subscribe()
	if ch != nil {
		defer rec.unsubscribe(ch)
	}
	send := func(m Message) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(m)
	}
	for _, m := range replay {
		if err := send(m); err != nil {
			return
		}
	}
	if ch != nil {
		for m := range ch {
			if err := send(m); err != nil {
				return
			}
		}
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (s *Server) abort(w http.ResponseWriter, r *http.Request) {
	s.Runner.RequestAbort()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	st, id := s.Runner.State()
	if st == measure.StateIdle {
		id = ""
	}
	generichttp.ReplyJSON(w, http.StatusOK, StateReply{State: st, RunID: id})
}

func (s *Server) calibrate(w http.ResponseWriter, r *http.Request) {
	p := &measure.CalibrationParams{}
	if err := json.NewDecoder(r.Body).Decode(p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	r.Body.Close()
	id := uuid.NewString()
	if !s.claim(id) {
		http.Error(w, measure.ErrRunInProgress.Error(), http.StatusConflict)
		return
	}
	defer s.release()
	out, err := s.Runner.Calibrate(r.Context(), p, measure.RunOptions{ID: id})
	if err != nil {
		http.Error(w, err.Error(), paramStatus(err))
		return
	}
	generichttp.ReplyJSON(w, http.StatusOK, out)
}
