package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"surplus-watcher/internal/config"
	"surplus-watcher/internal/inventory"
	"surplus-watcher/internal/storage"
)

type stubEntityStore struct {
	entities []storage.Entity
	err      error
}

func (s *stubEntityStore) InsertEntity(ctx context.Context, entity storage.Entity) (storage.Entity, error) {
	return entity, nil
}

func (s *stubEntityStore) GetEntity(ctx context.Context, id string) (storage.Entity, error) {
	return storage.Entity{}, storage.ErrNotFound
}

func (s *stubEntityStore) ListEntities(ctx context.Context) ([]storage.Entity, error) {
	return s.entities, s.err
}

func (s *stubEntityStore) ListDueEntities(ctx context.Context, now time.Time) ([]storage.Entity, error) {
	return nil, nil
}

func (s *stubEntityStore) SetEntityEnabled(ctx context.Context, id string, enabled bool) error {
	return nil
}

func (s *stubEntityStore) SetEntityDegraded(ctx context.Context, id string, degraded bool) error {
	return nil
}

type stubEventStore struct {
	events   []inventory.Event
	gotLimit int
}

func (s *stubEventStore) InsertEvent(ctx context.Context, event inventory.Event) error {
	return nil
}

func (s *stubEventStore) ListRecentEvents(ctx context.Context, limit int) ([]inventory.Event, error) {
	s.gotLimit = limit
	return s.events, nil
}

func (s *stubEventStore) ListEventsBetween(ctx context.Context, entityID string, from, to time.Time) ([]inventory.Event, error) {
	return nil, nil
}

func (s *stubEventStore) CountEvents(ctx context.Context) (int64, error) {
	return int64(len(s.events)), nil
}

func newTestServer(entities *stubEntityStore, events *stubEventStore) *Server {
	return New(config.APIConfig{ListenAddr: ":0"}, entities, events, zerolog.Nop())
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(&stubEntityStore{}, &stubEventStore{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestListEntitiesEndpoint(t *testing.T) {
	entities := &stubEntityStore{entities: []storage.Entity{
		{ID: "entity-1", Name: "Paris Centre", Timezone: "Europe/Paris", Enabled: true},
	}}
	srv := newTestServer(entities, &stubEventStore{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/entities", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Entities []storage.Entity `json:"entities"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Entities) != 1 || body.Entities[0].ID != "entity-1" {
		t.Fatalf("entities = %+v", body.Entities)
	}
}

func TestListEntitiesEndpointError(t *testing.T) {
	entities := &stubEntityStore{err: errors.New("database offline")}
	srv := newTestServer(entities, &stubEventStore{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/entities", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestRecentEventsEndpoint(t *testing.T) {
	events := &stubEventStore{events: []inventory.Event{
		{ID: "ev-1", EntityID: "entity-1", ItemID: "738992", Kind: inventory.KindBackInStock},
	}}
	srv := newTestServer(&stubEntityStore{}, events)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/events/recent?limit=5", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if events.gotLimit != 5 {
		t.Fatalf("limit passed = %d, want 5", events.gotLimit)
	}
	var body struct {
		Events []inventory.Event `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Events) != 1 || body.Events[0].Kind != inventory.KindBackInStock {
		t.Fatalf("events = %+v", body.Events)
	}
}

func TestRecentEventsEndpointDefaultsLimit(t *testing.T) {
	events := &stubEventStore{}
	srv := newTestServer(&stubEntityStore{}, events)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/events/recent", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if events.gotLimit != defaultRecentLimit {
		t.Fatalf("limit passed = %d, want %d", events.gotLimit, defaultRecentLimit)
	}
}

func TestRecentEventsEndpointRejectsBadLimit(t *testing.T) {
	srv := newTestServer(&stubEntityStore{}, &stubEventStore{})

	for _, raw := range []string{"abc", "0", "-3"} {
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/events/recent?limit="+raw, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("limit=%s: status = %d, want 400", raw, rec.Code)
		}
	}
}
