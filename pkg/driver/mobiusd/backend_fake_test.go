package mobiusd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/rocoloco/Mobius1-sub000/pkg/backend"
)

// fakeBackend simulates a mobiusd node for driver tests: an in-memory
// service table behind the real HTTP surface, with per-service failure
// injection.
type fakeBackend struct {
	mu          sync.Mutex
	srv         *httptest.Server
	nextID      int
	nextRouteID int

	services map[string]*backend.Service     // by service ID
	specs    map[string]*backend.ServiceSpec // by service ID
	routes   map[string]*backend.Route       // by route ID

	createOrder  []string // service names in creation order
	createCalls  int
	deletedIDs   []string
	restartedIDs []string

	failCreates   map[string]int    // name -> remaining 500 responses
	rejectCreates map[string]bool   // name -> permanent 400
	stuckStates   map[string]string // name -> state pinned on GET
}

func newFakeBackend() *fakeBackend {
	f := &fakeBackend{
		services:      make(map[string]*backend.Service),
		specs:         make(map[string]*backend.ServiceSpec),
		routes:        make(map[string]*backend.Route),
		failCreates:   make(map[string]int),
		rejectCreates: make(map[string]bool),
		stuckStates:   make(map[string]string),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

func (f *fakeBackend) URL() string { return f.srv.URL }
func (f *fakeBackend) Close()      { f.srv.Close() }

// seed installs a pre-existing service, bypassing the API.
func (f *fakeBackend) seed(svc backend.Service) *backend.Service {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if svc.ID == "" {
		svc.ID = fmt.Sprintf("svc-%d", f.nextID)
	}
	svc.CreatedAt = time.Now()
	svc.UpdatedAt = svc.CreatedAt
	f.services[svc.ID] = &svc
	return &svc
}

// setState mutates a service's state directly, as if the backend
// observed a transition.
func (f *fakeBackend) setState(name, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if svc := f.serviceByName(name); svc != nil {
		svc.State = state
	}
}

func (f *fakeBackend) serviceByName(name string) *backend.Service {
	for _, svc := range f.services {
		if svc.Name == name {
			return svc
		}
	}
	return nil
}

func (f *fakeBackend) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/api/v1")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case r.Method == http.MethodGet && path == "/version":
		writeFakeJSON(w, http.StatusOK, backend.VersionInfo{Version: "0.9.0-test", APIVersion: "v1"})

	case r.Method == http.MethodPost && path == "/services":
		f.handleCreate(w, r)

	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "services":
		f.handleGet(w, parts[1])

	case r.Method == http.MethodPut && len(parts) == 2 && parts[0] == "services":
		f.handleUpdate(w, r, parts[1])

	case r.Method == http.MethodDelete && len(parts) == 2 && parts[0] == "services":
		f.handleDelete(w, parts[1])

	case r.Method == http.MethodPost && len(parts) == 3 && parts[0] == "services":
		f.handleLifecycle(w, r, parts[1], parts[2])

	case r.Method == http.MethodPut && len(parts) == 3 && parts[0] == "services" && parts[2] == "env":
		writeFakeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	case r.Method == http.MethodGet && len(parts) == 3 && parts[0] == "services" && parts[2] == "logs":
		writeFakeJSON(w, http.StatusOK, map[string]string{"logs": "log line one\nlog line two"})

	case r.Method == http.MethodPost && path == "/routes":
		f.handleCreateRoute(w, r)

	case r.Method == http.MethodDelete && len(parts) == 2 && parts[0] == "routes":
		if _, ok := f.routes[parts[1]]; !ok {
			writeFakeJSON(w, http.StatusNotFound, map[string]string{"error": "route not found"})
			return
		}
		delete(f.routes, parts[1])
		writeFakeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	default:
		writeFakeJSON(w, http.StatusNotFound, map[string]string{"error": "no such endpoint"})
	}
}

func (f *fakeBackend) handleCreate(w http.ResponseWriter, r *http.Request) {
	var spec backend.ServiceSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeFakeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed spec"})
		return
	}
	f.createCalls++

	if f.rejectCreates[spec.Name] {
		writeFakeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid service spec", "code": "INVALID_SPEC"})
		return
	}
	if f.failCreates[spec.Name] > 0 {
		f.failCreates[spec.Name]--
		writeFakeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	f.nextID++
	svc := &backend.Service{
		ID:        fmt.Sprintf("svc-%d", f.nextID),
		Name:      spec.Name,
		Image:     spec.Image,
		State:     "stopped",
		Replicas:  1,
		Labels:    spec.Labels,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.services[svc.ID] = svc
	specCopy := spec
	f.specs[svc.ID] = &specCopy
	f.createOrder = append(f.createOrder, spec.Name)
	writeFakeJSON(w, http.StatusOK, svc)
}

func (f *fakeBackend) handleGet(w http.ResponseWriter, nameOrID string) {
	svc := f.services[nameOrID]
	if svc == nil {
		svc = f.serviceByName(nameOrID)
	}
	if svc == nil {
		writeFakeJSON(w, http.StatusNotFound, map[string]string{"error": "service not found"})
		return
	}
	out := *svc
	if state, ok := f.stuckStates[svc.Name]; ok {
		out.State = state
	}
	writeFakeJSON(w, http.StatusOK, out)
}

func (f *fakeBackend) handleUpdate(w http.ResponseWriter, r *http.Request, id string) {
	svc := f.services[id]
	if svc == nil {
		writeFakeJSON(w, http.StatusNotFound, map[string]string{"error": "service not found"})
		return
	}
	var spec backend.ServiceSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeFakeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed spec"})
		return
	}
	if spec.Image != "" {
		svc.Image = spec.Image
	}
	if spec.Labels != nil {
		svc.Labels = spec.Labels
	}
	svc.UpdatedAt = time.Now()
	writeFakeJSON(w, http.StatusOK, svc)
}

func (f *fakeBackend) handleDelete(w http.ResponseWriter, id string) {
	if _, ok := f.services[id]; !ok {
		writeFakeJSON(w, http.StatusNotFound, map[string]string{"error": "service not found"})
		return
	}
	delete(f.services, id)
	delete(f.specs, id)
	f.deletedIDs = append(f.deletedIDs, id)
	writeFakeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (f *fakeBackend) handleLifecycle(w http.ResponseWriter, r *http.Request, id, verb string) {
	svc := f.services[id]
	if svc == nil {
		writeFakeJSON(w, http.StatusNotFound, map[string]string{"error": "service not found"})
		return
	}
	switch verb {
	case "start", "restart":
		svc.State = "running"
		if svc.Endpoint == "" {
			port := 0
			if spec := f.specs[id]; spec != nil {
				port = spec.MainPort
			}
			svc.Endpoint = fmt.Sprintf("%s.svc.local:%d", svc.Name, port)
		}
		if verb == "restart" {
			f.restartedIDs = append(f.restartedIDs, id)
		}
	case "stop":
		svc.State = "stopped"
	case "scale":
		var body struct {
			Replicas int `json:"replicas"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeFakeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
			return
		}
		svc.Replicas = body.Replicas
	default:
		writeFakeJSON(w, http.StatusNotFound, map[string]string{"error": "no such action"})
		return
	}
	svc.UpdatedAt = time.Now()
	writeFakeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (f *fakeBackend) handleCreateRoute(w http.ResponseWriter, r *http.Request) {
	var route backend.Route
	if err := json.NewDecoder(r.Body).Decode(&route); err != nil {
		writeFakeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed route"})
		return
	}
	f.nextRouteID++
	route.ID = fmt.Sprintf("rt-%d", f.nextRouteID)
	f.routes[route.ID] = &route
	writeFakeJSON(w, http.StatusOK, route)
}

func (f *fakeBackend) snapshotCreateOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.createOrder))
	copy(out, f.createOrder)
	return out
}

func (f *fakeBackend) snapshotDeleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.deletedIDs))
	copy(out, f.deletedIDs)
	return out
}

func writeFakeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
