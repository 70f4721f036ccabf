// Package webhook is the example receiver: point a tunnel at it and
// watch callbacks arrive. It only consumes the manager's public API
// indirectly (via the CLI); it never touches the registry or processes.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"sync"
	"time"

	"wtunnel/pkg/logging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxStored bounds the in-memory webhook history.
const maxStored = 100

// Received is one captured webhook request.
type Received struct {
	ID         int               `json:"id"`
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	RemoteAddr string            `json:"remote_addr"`
	ReceivedAt time.Time         `json:"received_at"`
}

// Recorder stores the most recent webhooks.
type Recorder struct {
	mu     sync.RWMutex
	hooks  []Received
	nextID int
}

// Add records a webhook, evicting the oldest past the cap.
func (r *Recorder) Add(hook Received) Received {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	hook.ID = r.nextID
	r.hooks = append([]Received{hook}, r.hooks...)
	if len(r.hooks) > maxStored {
		r.hooks = r.hooks[:maxStored]
	}
	return hook
}

// All returns the stored webhooks, newest first.
func (r *Recorder) All() []Received {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Received, len(r.hooks))
	copy(out, r.hooks)
	return out
}

var pageTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
	<title>Webhook Receiver</title>
	<meta charset="utf-8">
	<meta http-equiv="refresh" content="5">
	<style>
		body { font-family: sans-serif; margin: 2em; background: #f5f5f7; }
		h1 { color: #4c51bf; }
		.hook { background: white; border-left: 4px solid #4c51bf; padding: 1em; margin-bottom: 1em; border-radius: 4px; }
		.method { background: #4c51bf; color: white; padding: 2px 10px; border-radius: 4px; font-weight: bold; }
		.meta { color: #6b7280; font-size: 0.9em; }
		pre { background: #f9fafb; padding: 0.5em; overflow-x: auto; }
	</style>
</head>
<body>
	<h1>🎣 Webhook Receiver</h1>
	<p>{{len .}} webhook(s) received. POST anything to <code>/hook/&lt;whatever&gt;</code>.</p>
	{{range .}}
	<div class="hook">
		<span class="method">{{.Method}}</span> <code>{{.Path}}</code>
		<div class="meta">#{{.ID}} from {{.RemoteAddr}} at {{.ReceivedAt.Format "15:04:05"}}</div>
		{{if .Body}}<pre>{{.Body}}</pre>{{end}}
	</div>
	{{end}}
</body>
</html>`))

// NewHandler builds the receiver's router around a recorder.
func NewHandler(rec *Recorder) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := pageTemplate.Execute(w, rec.All()); err != nil {
			logging.LogError("Webhook page render failed: %v", err)
		}
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/api/hooks", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rec.All())
	})

	capture := func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(io.LimitReader(req.Body, 1<<20))
		headers := make(map[string]string, len(req.Header))
		for k := range req.Header {
			headers[k] = req.Header.Get(k)
		}

		hook := rec.Add(Received{
			Method:     req.Method,
			Path:       req.URL.Path,
			Headers:    headers,
			Body:       string(body),
			RemoteAddr: req.RemoteAddr,
			ReceivedAt: time.Now(),
		})
		logging.LogInfo("Webhook #%d: %s %s (%d bytes)", hook.ID, hook.Method, hook.Path, len(body))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "received", "id": hook.ID})
	}
	r.HandleFunc("/hook", capture)
	r.HandleFunc("/hook/*", capture)

	return r
}

// ListenAndServe runs the receiver until ctx is done.
func ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", port),
		Handler: NewHandler(&Recorder{}),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
