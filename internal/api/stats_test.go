package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seantiz/flux/internal/model"
)

func TestGetStatsEmpty(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var stats statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if stats.Total != 0 {
		t.Errorf("total = %d, want 0", stats.Total)
	}
	if stats.AvgDurationMS != 0 {
		t.Errorf("avg_duration_ms = %f, want 0", stats.AvgDurationMS)
	}
}

func TestGetStatsPopulated(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	// Create invocations in different states.
	for range 3 {
		w := &model.Invocation{
			ID: model.NewID(), Status: model.StatusPending,
			TaskID:    "com.example.Greeter_hello",
			CreatedAt: time.Now().UTC(),
		}
		if err := srv.store.CreateInvocation(ctx, w); err != nil {
			t.Fatalf("CreateInvocation: %v", err)
		}
		// Move to running then completed.
		if err := srv.store.UpdateInvocationStatus(ctx, w.ID, model.StatusRunning); err != nil {
			t.Fatalf("pending→running: %v", err)
		}
		dur := 100
		completed := &model.Invocation{
			ID: w.ID, Status: model.StatusCompleted,
			DurationMS: &dur, StartedAt: ptrTime(time.Now()), FinishedAt: ptrTime(time.Now()),
		}
		if err := srv.store.UpdateInvocation(ctx, completed); err != nil {
			t.Fatalf("UpdateInvocation: %v", err)
		}
	}

	// One failed invocation.
	fw := &model.Invocation{
		ID: model.NewID(), Status: model.StatusPending,
		TaskID:    "com.example.Greeter_bye",
		CreatedAt: time.Now().UTC(),
	}
	if err := srv.store.CreateInvocation(ctx, fw); err != nil {
		t.Fatalf("CreateInvocation: %v", err)
	}
	if err := srv.store.UpdateInvocationStatus(ctx, fw.ID, model.StatusFailed); err != nil {
		t.Fatalf("pending→failed: %v", err)
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var stats statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if stats.Total != 4 {
		t.Errorf("total = %d, want 4", stats.Total)
	}
	if stats.ByStatus["completed"] != 3 {
		t.Errorf("by_status[completed] = %d, want 3", stats.ByStatus["completed"])
	}
	if stats.ByStatus["failed"] != 1 {
		t.Errorf("by_status[failed] = %d, want 1", stats.ByStatus["failed"])
	}
	if stats.ByTask["com.example.Greeter_hello"] != 3 {
		t.Errorf("by_task[hello] = %d, want 3", stats.ByTask["com.example.Greeter_hello"])
	}
	if stats.ByTask["com.example.Greeter_bye"] != 1 {
		t.Errorf("by_task[bye] = %d, want 1", stats.ByTask["com.example.Greeter_bye"])
	}
	if stats.AvgDurationMS != 100 {
		t.Errorf("avg_duration_ms = %f, want 100", stats.AvgDurationMS)
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
