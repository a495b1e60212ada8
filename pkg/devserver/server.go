// Package devserver serves the output directory with live reload.
package devserver

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rotisserie/eris"
	"github.com/shaj13/libcache"
	// Provides libcache.LRU
	_ "github.com/shaj13/libcache/lru"
	"github.com/unrolled/secure"

	"github.com/ngld/sitebuild/pkg/sblog"
)

const (
	// SocketPath is the live reload websocket endpoint
	SocketPath = "/__livereload"
	// ScriptPath serves the client script
	ScriptPath = "/__livereload.js"
)

var snippet = []byte(`<script src="` + ScriptPath + `"></script>`)

const clientScript = `(function() {
  var proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
  function connect() {
    var socket = new WebSocket(proto + location.host + '` + SocketPath + `');
    socket.onmessage = function(event) {
      var msg = JSON.parse(event.data);
      if (msg.command !== 'reload') return;
      if (msg.liveCSS) {
        var links = document.querySelectorAll('link[rel="stylesheet"]');
        for (var i = 0; i < links.length; i++) {
          var href = links[i].getAttribute('href').split('?')[0];
          if (msg.path.slice(-href.replace(/^\.?\//, '').length) === href.replace(/^\.?\//, '')) {
            links[i].setAttribute('href', href + '?t=' + Date.now());
            return;
          }
        }
      }
      location.reload();
    };
    socket.onclose = function() { setTimeout(connect, 1000); };
  }
  connect();
})();
`

// Server serves the output directory and the live reload endpoints
type Server struct {
	Addr string
	Dist string
	Hub  *Hub

	// injected pages keyed by path, modification time and size
	pages libcache.Cache
}

// New creates a server for dist listening on host:port
func New(host string, port int, dist string, hub *Hub) *Server {
	return &Server{
		Addr:  net.JoinHostPort(host, strconv.Itoa(port)),
		Dist:  dist,
		Hub:   hub,
		pages: libcache.LRU.New(64),
	}
}

// Inject adds the live reload script in front of the last </body> tag or at the end if there's none
func Inject(page []byte) []byte {
	idx := bytes.LastIndex(bytes.ToLower(page), []byte("</body>"))
	if idx < 0 {
		return append(append([]byte{}, page...), snippet...)
	}

	result := make([]byte, 0, len(page)+len(snippet))
	result = append(result, page[:idx]...)
	result = append(result, snippet...)
	result = append(result, page[idx:]...)
	return result
}

func (s *Server) serveScript(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Write([]byte(clientScript))
}

func (s *Server) loadPage(file string, info os.FileInfo) ([]byte, error) {
	key := fmt.Sprintf("%s:%d:%d", file, info.ModTime().UnixNano(), info.Size())
	if cached, ok := s.pages.Load(key); ok {
		return cached.([]byte), nil
	}

	content, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	page := Inject(content)
	s.pages.Store(key, page)
	return page, nil
}

func (s *Server) serveFile(rw http.ResponseWriter, r *http.Request) {
	urlPath := path.Clean("/" + r.URL.Path)
	file := filepath.Join(s.Dist, filepath.FromSlash(urlPath))

	info, err := os.Stat(file)
	if err == nil && info.IsDir() {
		file = filepath.Join(file, "index.html")
		info, err = os.Stat(file)
	}

	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			http.NotFound(rw, r)
			return
		}

		sblog.Log(r.Context()).Error().Err(err).Msgf("failed to stat %s", file)
		http.Error(rw, "internal error", http.StatusInternalServerError)
		return
	}

	if !strings.EqualFold(filepath.Ext(file), ".html") {
		rw.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(rw, r, file)
		return
	}

	page, err := s.loadPage(file, info)
	if err != nil {
		sblog.Log(r.Context()).Error().Err(err).Msgf("failed to read %s", file)
		http.Error(rw, "internal error", http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(rw, r, file, info.ModTime(), bytes.NewReader(page))
}

// Handler builds the router with the logging and security middlewares
func (s *Server) Handler(ctx context.Context) http.Handler {
	r := mux.NewRouter()
	r.Handle(SocketPath, s.Hub)
	r.HandleFunc(ScriptPath, s.serveScript).Methods("GET")
	r.PathPrefix("/").HandlerFunc(s.serveFile).Methods("GET", "HEAD")

	sm := secure.New(secure.Options{
		IsDevelopment:      true,
		BrowserXssFilter:   true,
		ContentTypeNosniff: true,
		FrameDeny:          true,
	})

	return sm.Handler(sblog.MakeLogMiddleware(ctx, r))
}

// Run serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	logger := sblog.Log(ctx)

	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return eris.Wrapf(err, "failed to listen on %s", s.Addr)
	}

	server := &http.Server{
		Handler:     s.Handler(ctx),
		ReadTimeout: 15 * time.Second,
	}

	done := make(chan error, 1)
	go func() {
		done <- server.Serve(listener)
	}()

	logger.Info().Str("task", "server").Msgf("serving %s on http://%s/", s.Dist, listener.Addr())

	select {
	case err = <-done:
		return eris.Wrap(err, "server failed")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.Hub.Close(ctx)
	err = server.Shutdown(shutdownCtx)
	if err != nil {
		return eris.Wrap(err, "failed to shut down the server")
	}

	<-done
	return ctx.Err()
}
