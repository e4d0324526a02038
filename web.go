// Copyright 2012 Lawrence Kesteloot

package main

// Expose a web interface for the UI of the machine.

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	// How often batched updates are sent to the browser.
	flushInterval = 10 * time.Millisecond

	// Updates the machine can queue before it blocks.
	updateQueueSize = 1024
)

// Generate the top-level index page.
func generateIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	http.ServeFile(w, r, "static/index.html")
}

// Generate the font CSS that has offsets for each character.
func generateFontCss(w http.ResponseWriter, r *http.Request) {
	// Image is 512x480
	// 10 rows of glyphs, but last two are different page.
	// Use first 8 rows.
	// 32 chars across (32*8 = 256)
	// For thin font:
	//     256px wide.
	//     Chars are 8px wide (256/32 = 8)
	//     Chars are 24px high (480/2/10 = 24), with doubled rows.
	w.Header().Set("Content-Type", "text/css")
	bw := bufio.NewWriter(w)
	fmt.Fprint(bw, `.char {
		display: inline-block;
		width: 8px;
		height: 24px;
		background-image: url("static/font.png");
		background-position: 0 0; /* Blank */
		background-repeat: no-repeat;
}
`)
	for ch := 0; ch < 256; ch++ {
		fmt.Fprintf(bw, ".char-%d { background-position: %dpx %dpx; }\n",
			ch, -(ch%32)*8, -(ch/32)*24)
	}
	bw.Flush()
}

// Generate a JSON document of files in a directory, numbers in names in
// their proper order.
func generateFileList(w http.ResponseWriter, r *http.Request, dir string) {
	fileInfos, err := ioutil.ReadDir(dir)
	if err != nil {
		log.WithError(err).Warnf("Can't list %s", dir)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	filenames := []string{}
	for _, fileInfo := range fileInfos {
		if !fileInfo.IsDir() {
			filenames = append(filenames, fileInfo.Name())
		}
	}
	sortNumerically(filenames)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(filenames)
}

// Serves the pages and the websocket for one configuration.
type webServer struct {
	cfg vmConfig
}

// Top-level handler.
func (ws *webServer) homeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	switch r.URL.Path {
	case "/":
		generateIndex(w, r)
	case "/font.css":
		generateFontCss(w, r)
	case "/disks.json":
		generateFileList(w, r, ws.cfg.diskDir)
	case "/states.json":
		generateFileList(w, r, ws.cfg.stateDir)
	default:
		http.NotFound(w, r)
	}
}

// Read commands from the browser until the connection fails or ctx is done.
func readWs(ctx context.Context, conn *websocket.Conn, vmCommandCh chan<- vmCommand) error {
	defer close(vmCommandCh)
	for {
		var message vmCommand

		err := websocket.JSON.Receive(conn, &message)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				// Timeout okay, just retry.
				continue
			}
			log.WithError(err).Info("Websocket closed")
			return nil
		}
		select {
		case vmCommandCh <- message:
		case <-ctx.Done():
			return nil
		}
	}
}

// Send updates to the browser in batches until the machine shuts down.
func writeWs(conn *websocket.Conn, vmUpdateCh <-chan vmUpdate) error {
	var vmUpdates []vmUpdate
	flushUpdates := func() error {
		if len(vmUpdates) == 0 {
			return nil
		}
		if err := websocket.JSON.Send(conn, vmUpdates); err != nil {
			return err
		}
		vmUpdates = vmUpdates[:0]
		return nil
	}

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	// Once sending fails we keep draining so the machine never blocks.
	var sendErr error
	for {
		select {
		case update, ok := <-vmUpdateCh:
			if !ok {
				if sendErr == nil {
					sendErr = flushUpdates()
				}
				return nil
			}
			if sendErr != nil {
				continue
			}

			// Combine consecutive pokes.
			last := len(vmUpdates) - 1
			if update.Cmd == "poke" && last >= 0 && vmUpdates[last].Cmd == "poke" &&
				vmUpdates[last].Addr+len([]rune(vmUpdates[last].Msg)) == update.Addr {

				// Just tack it on to the existing poke.
				vmUpdates[last].Msg += update.Msg
			} else {
				vmUpdates = append(vmUpdates, update)
			}
		case <-ticker.C:
			if sendErr == nil {
				if sendErr = flushUpdates(); sendErr != nil {
					log.WithError(sendErr).Info("Can't send to websocket")
				}
			}
		}
	}
}

// Handle the web sockets request: one machine per connection.
func (ws *webServer) wsHandler(conn *websocket.Conn) {
	vmCommandCh := make(chan vmCommand)
	vmUpdateCh := make(chan vmUpdate, updateQueueSize)

	ctx, cancel := context.WithCancel(conn.Request().Context())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Hang up only once the last update (normally "shutdown") is out.
		// That also gets the reader out of Receive.
		defer conn.Close()
		return writeWs(conn, vmUpdateCh)
	})

	vm, err := createVm(ws.cfg, vmUpdateCh)
	if err != nil {
		log.WithError(err).Error("Can't create machine")
		close(vmUpdateCh)
		g.Wait()
		return
	}

	g.Go(func() error {
		return readWs(ctx, conn, vmCommandCh)
	})
	g.Go(func() error {
		// Closes vmUpdateCh on the way out, which ends the writer.
		defer cancel()
		return vm.run(ctx, vmCommandCh)
	})
	if err := g.Wait(); err != nil {
		log.WithError(err).Warn("Websocket session failed")
	}
}

// Records the status code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Log each request once it's been handled.
func loggingHandler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(rec, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"remote":   r.RemoteAddr,
			"duration": time.Since(start),
		}).Info("HTTP request")
	})
}

// Serve the website. This function blocks.
func serveWebsite(port int, cfg vmConfig) error {
	ws := &webServer{cfg: cfg}

	// Create handlers. The websocket is outside the logging handler since
	// the recorder can't be hijacked.
	handlers := http.NewServeMux()
	handlers.Handle("/", loggingHandler(http.HandlerFunc(ws.homeHandler)))
	handlers.Handle("/ws", websocket.Handler(ws.wsHandler))
	handlers.Handle("/static/", loggingHandler(http.StripPrefix("/static/",
		http.FileServer(http.Dir("static")))))

	// Create server.
	address := fmt.Sprintf(":%d", port)
	server := http.Server{
		Addr:              address,
		Handler:           handlers,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}

	// Start serving.
	log.Infof("Serving website on %s", address)
	return server.ListenAndServe()
}
