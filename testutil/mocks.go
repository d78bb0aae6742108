package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// Keys the mock Bunny server accepts.
const (
	MockStreamKey  = "stream-key"
	MockStorageKey = "storage-key"
	MockLibraryID  = "lib1"
)

// MockBunnyServer serves the subset of Bunny Stream and Bunny Storage used by the app.
// Stream endpoints live under /{library}/videos, storage objects under /thumbnails/.
type MockBunnyServer struct {
	*httptest.Server

	mu       sync.Mutex
	next     int
	Videos   map[string]*MockVideo
	Objects  map[string][]byte
	Requests []string
	// Fail maps "METHOD /path-prefix" to a status code returned instead of the normal answer.
	Fail map[string]int
}

// MockVideo is a video object held by the mock.
type MockVideo struct {
	Title       string
	Description string
	Data        []byte
	Status      int
	Progress    int
}

// NewMockBunnyServer starts a mock Bunny API that is closed with the test.
func NewMockBunnyServer(t *testing.T) *MockBunnyServer {
	t.Helper()
	m := &MockBunnyServer{
		Videos:  make(map[string]*MockVideo),
		Objects: make(map[string][]byte),
		Fail:    make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.Close)
	return m
}

// FailOn makes requests matching method and path prefix answer with status.
func (m *MockBunnyServer) FailOn(method, pathPrefix string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fail[method+" "+pathPrefix] = status
}

// Video returns a copy of a stored video or nil.
func (m *MockBunnyServer) Video(guid string) *MockVideo {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.Videos[guid]
	if !ok {
		return nil
	}
	cp := *v
	return &cp
}

// Object returns a stored storage object.
func (m *MockBunnyServer) Object(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.Objects[path]
	return b, ok
}

func (m *MockBunnyServer) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, r.Method+" "+r.URL.Path)

	for prefix, status := range m.Fail {
		method, path, _ := strings.Cut(prefix, " ")
		if r.Method == method && strings.HasPrefix(r.URL.Path, path) {
			http.Error(w, "injected failure", status)
			return
		}
	}

	if strings.HasPrefix(r.URL.Path, "/thumbnails/") {
		m.handleStorage(w, r)
		return
	}
	m.handleStream(w, r)
}

func (m *MockBunnyServer) handleStorage(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("AccessKey") != MockStorageKey {
		http.Error(w, "bad storage key", http.StatusUnauthorized)
		return
	}
	switch r.Method {
	case http.MethodPut:
		b, _ := io.ReadAll(r.Body)
		m.Objects[r.URL.Path] = b
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"HttpCode":201,"Message":"File uploaded."}`))
	case http.MethodDelete:
		if _, ok := m.Objects[r.URL.Path]; !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		delete(m.Objects, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (m *MockBunnyServer) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("AccessKey") != MockStreamKey {
		http.Error(w, "bad stream key", http.StatusUnauthorized)
		return
	}
	base := "/" + MockLibraryID + "/videos"
	if !strings.HasPrefix(r.URL.Path, base) {
		http.NotFound(w, r)
		return
	}
	guid := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, base), "/")

	if guid == "" {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var in struct {
			Title string `json:"title"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		m.next++
		id := fmt.Sprintf("guid-%d", m.next)
		m.Videos[id] = &MockVideo{Title: in.Title}
		writeJSON(w, map[string]any{"guid": id, "title": in.Title})
		return
	}

	v, ok := m.Videos[guid]
	if !ok {
		http.Error(w, "video not found", http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodPut:
		v.Data, _ = io.ReadAll(r.Body)
		v.Status, v.Progress = 4, 100
		writeJSON(w, map[string]any{"success": true})
	case http.MethodPost:
		var in struct {
			Title       string `json:"title"`
			Description string `json:"description"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		v.Title, v.Description = in.Title, in.Description
		writeJSON(w, map[string]any{"success": true})
	case http.MethodGet:
		writeJSON(w, map[string]any{"guid": guid, "status": v.Status, "encodeProgress": v.Progress})
	case http.MethodDelete:
		delete(m.Videos, guid)
		writeJSON(w, map[string]any{"success": true})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
