// Copyright 2012 Lawrence Kesteloot

package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"
)

func TestFileList(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"disk10.dmk", "disk2.dmk", "disk1.jv3"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0755); err != nil {
		t.Fatal(err)
	}

	ws := &webServer{cfg: vmConfig{diskDir: dir}}
	rec := httptest.NewRecorder()
	ws.homeHandler(rec, httptest.NewRequest("GET", "/disks.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Status %d", rec.Code)
	}

	var names []string
	if err := json.NewDecoder(rec.Body).Decode(&names); err != nil {
		t.Fatal(err)
	}
	expected := []string{"disk1.jv3", "disk2.dmk", "disk10.dmk"}
	if !reflect.DeepEqual(names, expected) {
		t.Errorf("Got %v, expected %v", names, expected)
	}
}

func TestHomeHandler(t *testing.T) {
	ws := &webServer{cfg: vmConfig{diskDir: filepath.Join(t.TempDir(), "missing")}}

	tests := []struct {
		method, path string
		status       int
	}{
		{"GET", "/font.css", http.StatusOK},
		{"GET", "/nothing", http.StatusNotFound},
		{"POST", "/font.css", http.StatusMethodNotAllowed},
		{"GET", "/disks.json", http.StatusInternalServerError},
	}
	for _, test := range tests {
		rec := httptest.NewRecorder()
		loggingHandler(http.HandlerFunc(ws.homeHandler)).ServeHTTP(rec, httptest.NewRequest(test.method, test.path, nil))
		if rec.Code != test.status {
			t.Errorf("%s %s: status %d, expected %d", test.method, test.path, rec.Code, test.status)
		}
	}

	rec := httptest.NewRecorder()
	ws.homeHandler(rec, httptest.NewRequest("GET", "/font.css", nil))
	if !strings.Contains(rec.Body.String(), ".char-65 { background-position: -8px -48px; }") {
		t.Errorf("Font CSS missing offsets")
	}
}

// Receive batches until one has an update matching f.
func receiveUntil(t *testing.T, conn *websocket.Conn, f func(vmUpdate) bool) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var updates []vmUpdate
		if err := websocket.JSON.Receive(conn, &updates); err != nil {
			t.Fatal(err)
		}
		for _, u := range updates {
			if f(u) {
				return
			}
		}
	}
}

func TestWebsocketSession(t *testing.T) {
	rom := filepath.Join(t.TempDir(), "test.rom")
	if err := os.WriteFile(rom, screenRom, 0644); err != nil {
		t.Fatal(err)
	}
	ws := &webServer{cfg: vmConfig{romPath: rom}}
	server := httptest.NewServer(websocket.Handler(ws.wsHandler))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, err := websocket.Dial(url, "", server.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := websocket.JSON.Send(conn, vmCommand{Cmd: "boot"}); err != nil {
		t.Fatal(err)
	}
	screen := ""
	receiveUntil(t, conn, func(u vmUpdate) bool {
		if u.Cmd == "poke" {
			screen += u.Msg
		}
		return screen == "HI"
	})

	if err := websocket.JSON.Send(conn, vmCommand{Cmd: "shutdown"}); err != nil {
		t.Fatal(err)
	}
	receiveUntil(t, conn, func(u vmUpdate) bool {
		return u.Cmd == "shutdown"
	})

	// Nothing after the shutdown; the server hangs up.
	var updates []vmUpdate
	if err := websocket.JSON.Receive(conn, &updates); err == nil {
		t.Errorf("Got %v after shutdown", updates)
	}
}

func TestWebsocketWithoutRom(t *testing.T) {
	ws := &webServer{cfg: vmConfig{romPath: filepath.Join(t.TempDir(), "missing.rom")}}
	server := httptest.NewServer(websocket.Handler(ws.wsHandler))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, err := websocket.Dial(url, "", server.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// The server hangs up.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var updates []vmUpdate
	for {
		if err := websocket.JSON.Receive(conn, &updates); err != nil {
			break
		}
	}
}
