// Package ingress is the HTTP front end of the proxy. Each request carries
// one client batch, which the proxy processes as a single round.
package ingress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/time/rate"

	"github.com/mundrapranay/oblivkv/internal/proxy"
)

const (
	maxBodyBytes      = 8 << 20
	readWriteTimeout  = 30 * time.Second
	shutdownGraceTime = 10 * time.Second
)

// Processor runs client batches. *proxy.Scheduler satisfies it.
type Processor interface {
	Process(ctx context.Context, ops []proxy.Operation) proxy.Result
	Stats() proxy.Stats
}

// Config bounds what a single client may ask of the proxy.
type Config struct {
	// MaxOps caps the operations in one batch. Zero means unlimited.
	MaxOps int `yaml:"max_ops"`
	// Rate is the sustained number of batches per second. Zero disables
	// rate limiting.
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
	// MaxWait is how long a batch may queue for a rate token before it is
	// rejected.
	MaxWait time.Duration `yaml:"max_wait"`
}

// Request is the wire form of one operation.
type Request struct {
	RID string          `json:"rid"`
	Op  string          `json:"op"`
	Key string          `json:"key"`
	Val json.RawMessage `json:"val,omitempty"`
}

// Server serves the batch and health endpoints.
type Server struct {
	cfg     Config
	proc    Processor
	limiter *rate.Limiter
	logger  hclog.Logger
	mux     *http.ServeMux
	http    *http.Server
}

// NewServer creates an ingress server for proc.
func NewServer(cfg Config, proc Processor, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	s := &Server{
		cfg:    cfg,
		proc:   proc,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}

	s.mux.HandleFunc("/", s.root)
	s.mux.HandleFunc("/v1/batch", s.batch)
	s.mux.HandleFunc("/healthz", s.health)

	s.http = &http.Server{
		Handler:        s.mux,
		ReadTimeout:    readWriteTimeout,
		WriteTimeout:   readWriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
	return s
}

// Handler returns the server's request router.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("ingress listening", "addr", ln.Addr().String())

	err := s.http.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe listens on addr and serves until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Shutdown stops accepting requests and waits for in-flight rounds.
func (s *Server) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, shutdownGraceTime)
		defer cancel()
	}
	return s.http.Shutdown(ctx)
}

// POST / is kept for clients that predate /v1/batch
func (s *Server) root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.batch(w, r)
}

// batch runs one round. A read gets no entry in the reply when its key is
// absent, or when it is one of the distinct misses beyond
// batch_size - dummy_fill_count; the round does not spend spare padding slots
// on those, so clients retry reads left unanswered.
func (s *Server) batch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sendError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	reqs, err := DecodeBatch(body)
	if err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.cfg.MaxOps > 0 && len(reqs) > s.cfg.MaxOps {
		sendError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("batch of %d exceeds max_ops %d", len(reqs), s.cfg.MaxOps))
		return
	}

	if err := s.wait(r.Context()); err != nil {
		sendError(w, http.StatusTooManyRequests, err.Error())
		return
	}

	ops := make([]proxy.Operation, len(reqs))
	for i, req := range reqs {
		ops[i] = req.Operation()
	}

	res := s.proc.Process(r.Context(), ops)
	if res.Stats.Degraded {
		s.logger.Debug("degraded round served", "round", res.Round, "batch", res.Stats.BatchSize)
	}

	out := make(map[string]string, len(res.Responses))
	for rid, v := range res.Responses {
		out[rid] = string(v)
	}
	sendJSON(w, http.StatusOK, out)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sendJSON(w, http.StatusOK, s.proc.Stats())
}

var errRateLimited = errors.New("rate limited")

// wait takes one rate token, queueing for at most MaxWait.
func (s *Server) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	r := s.limiter.Reserve()
	if !r.OK() {
		return errRateLimited
	}
	delay := r.Delay()
	if delay == 0 {
		return nil
	}
	if delay > s.cfg.MaxWait {
		r.Cancel()
		return errRateLimited
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(http.MaxBytesReader(w, r.Body, maxBodyBytes)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeBatch parses a JSON array of requests. A single object is accepted
// as a batch of one.
func DecodeBatch(body []byte) ([]Request, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}

	if body[0] == '{' {
		var req Request
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, fmt.Errorf("invalid request: %w", err)
		}
		return []Request{req}, nil
	}

	var reqs []Request
	if err := json.Unmarshal(body, &reqs); err != nil {
		return nil, fmt.Errorf("invalid batch: %w", err)
	}
	return reqs, nil
}

// Operation converts the request for the scheduler. A JSON string value is
// stored unquoted; any other JSON value is stored as its literal text. A
// missing or null value leaves Value nil.
func (r Request) Operation() proxy.Operation {
	op := proxy.Operation{
		RequestID: r.RID,
		Kind:      proxy.OpKind(r.Op),
		Key:       r.Key,
	}

	raw := bytes.TrimSpace(r.Val)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return op
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		op.Value = []byte(str)
	} else {
		op.Value = append([]byte(nil), raw...)
	}
	return op
}

func sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, code int, msg string) {
	sendJSON(w, code, map[string]string{"error": msg})
}
