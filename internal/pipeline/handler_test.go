package pipeline_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/docforge/docforge/internal/ledger"
	"github.com/docforge/docforge/internal/pipeline"
	"github.com/docforge/docforge/internal/stages"
	"github.com/docforge/docforge/pkg/routes"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHandlerMux(f *fixture) *http.ServeMux {
	handler := pipeline.NewHandler(f.orchestrator, f.ledger, 1<<20, testLogger())
	mux := http.NewServeMux()
	routes.Register(mux, handler.Routes())
	return mux
}

func TestHandlerRun(t *testing.T) {
	f := newFixture(t)
	mux := newHandlerMux(f)

	req := httptest.NewRequest(http.MethodPost, "/pipeline/"+f.id.String()+"/run", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}

	var record pipeline.RunRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(record.Results) != len(stages.Order) {
		t.Errorf("results = %d, want %d", len(record.Results), len(stages.Order))
	}
	if state, _ := f.ledger.State(context.Background(), f.id); state != ledger.StateProcessed {
		t.Errorf("state = %s, want processed", state)
	}
}

func TestHandlerRunAlreadyProcessing(t *testing.T) {
	f := newFixture(t)
	f.ledger.states[f.id] = ledger.StateProcessing
	mux := newHandlerMux(f)

	req := httptest.NewRequest(http.MethodPost, "/pipeline/"+f.id.String()+"/run", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestHandlerRunInvalidID(t *testing.T) {
	f := newFixture(t)
	mux := newHandlerMux(f)

	req := httptest.NewRequest(http.MethodPost, "/pipeline/not-a-uuid/run", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandlerApprove(t *testing.T) {
	f := newFixture(t)
	f.ledger.states[f.id] = ledger.StateProcessed
	mux := newHandlerMux(f)

	body := strings.NewReader("id,name\n1,alpha\n")
	req := httptest.NewRequest(http.MethodPost, "/pipeline/"+f.id.String()+"/approve", body)
	req.Header.Set("X-Reviewer", "inspector")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if state, _ := f.ledger.State(context.Background(), f.id); state != ledger.StateFinal {
		t.Errorf("state = %s, want final", state)
	}

	key := stages.Key(stages.TagFinal, f.id, stages.StageFormat)
	if _, ok := f.store.blobs[key]; !ok {
		t.Errorf("final artifact %s not uploaded", key)
	}

	history, _ := f.ledger.History(context.Background(), f.id)
	if len(history) == 0 || history[len(history)-1].Actor != "inspector" {
		t.Errorf("history = %v, want final transition by inspector", history)
	}
}

func TestHandlerApproveEmptyBody(t *testing.T) {
	f := newFixture(t)
	f.ledger.states[f.id] = ledger.StateProcessed
	mux := newHandlerMux(f)

	req := httptest.NewRequest(http.MethodPost, "/pipeline/"+f.id.String()+"/approve", bytes.NewReader(nil))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if state, _ := f.ledger.State(context.Background(), f.id); state != ledger.StateProcessed {
		t.Errorf("state = %s, want processed untouched", state)
	}
}

func TestHandlerApproveWrongState(t *testing.T) {
	f := newFixture(t)
	mux := newHandlerMux(f)

	body := strings.NewReader("content")
	req := httptest.NewRequest(http.MethodPost, "/pipeline/"+f.id.String()+"/approve", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestHandlerHistory(t *testing.T) {
	f := newFixture(t)
	mux := newHandlerMux(f)

	if _, err := f.orchestrator.Run(context.Background(), f.id); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/pipeline/"+f.id.String()+"/history", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var history []ledger.Transition
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("transitions = %d, want raw→processing→processed", len(history))
	}
}

func TestHandlerStats(t *testing.T) {
	f := newFixture(t)
	f.ledger.states[uuid.New()] = ledger.StateFinal
	mux := newHandlerMux(f)

	req := httptest.NewRequest(http.MethodGet, "/pipeline/stats", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var stats map[ledger.State]int
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if stats[ledger.StateRaw] != 1 || stats[ledger.StateFinal] != 1 {
		t.Errorf("stats = %v, want one raw and one final", stats)
	}
}
