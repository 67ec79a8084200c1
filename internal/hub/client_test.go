package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/evolab/helix/internal/asset"
	"github.com/evolab/helix/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "helix.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func seedPendingGene(t *testing.T, st *store.Store) asset.Gene {
	t.Helper()
	g, err := st.UpsertGene(asset.Gene{
		ID:           "fixer",
		Category:     asset.CategoryRepair,
		SignalsMatch: []string{"error_detected"},
		Strategy:     []string{"fix"},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := st.MarkPending(asset.KindGene, g.ID, g.AssetID); err != nil {
		t.Fatalf("mark pending: %v", err)
	}
	return g
}

func TestPushMarksSynced(t *testing.T) {
	st := openTestStore(t)
	g := seedPendingGene(t, st)

	var gotPath string
	var gotRecord map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotRecord)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	rep, err := New(st, srv.URL).Push(context.Background())
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if rep.Pushed != 1 || rep.Failed != 0 {
		t.Errorf("report = %+v", rep)
	}
	if gotPath != "/api/v1/assets/gene" {
		t.Errorf("path = %s", gotPath)
	}
	if gotRecord["id"] != "fixer" || gotRecord["asset_id"] != g.AssetID {
		t.Errorf("record = %v", gotRecord)
	}

	pending, err := st.ListPending()
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("assets still pending after push: %+v", pending)
	}
}

func TestPushLeavesFailedPending(t *testing.T) {
	st := openTestStore(t)
	seedPendingGene(t, st)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	rep, err := New(st, srv.URL).Push(context.Background())
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if rep.Pushed != 0 || rep.Failed != 1 {
		t.Errorf("report = %+v", rep)
	}

	pending, err := st.ListPending()
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("failed asset should stay pending: %+v", pending)
	}
}
