package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seantiz/flux/internal/model"
)

func submit(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func waitForInvocation(t *testing.T, base, id, status string) model.Invocation {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(base + "/v1/invocations/" + id)
		if err != nil {
			t.Fatalf("GET invocation: %v", err)
		}
		var inv model.Invocation
		err = json.NewDecoder(resp.Body).Decode(&inv)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if inv.Status == status {
			return inv
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("invocation %s did not reach %q", id, status)
	return model.Invocation{}
}

func TestSubmitInvocation(t *testing.T) {
	srv := newLoadedServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := submit(t, ts.URL+"/v1/tasks/com.example.Greeter_hello/invocations", `{"args":["flux"]}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var inv model.Invocation
	if err := json.NewDecoder(resp.Body).Decode(&inv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(inv.ID) != 26 {
		t.Errorf("ID length = %d, want 26", len(inv.ID))
	}
	if inv.UnitName != "greeter" || inv.UnitVersion == nil || *inv.UnitVersion != 1 {
		t.Errorf("unit = %s@%v, want greeter@1", inv.UnitName, inv.UnitVersion)
	}

	done := waitForInvocation(t, ts.URL, inv.ID, model.StatusCompleted)
	if string(done.Output) != `"hi flux"` {
		t.Errorf("output = %s, want %q", done.Output, "hi flux")
	}

	srv.engine.Wait()
	hist, err := http.Get(ts.URL + "/v1/invocations/" + inv.ID + "/logs/history")
	if err != nil {
		t.Fatalf("GET history: %v", err)
	}
	defer hist.Body.Close()
	var logs logHistoryResponse
	if err := json.NewDecoder(hist.Body).Decode(&logs); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(logs.Lines) != 1 || logs.Lines[0].Line != "[LOG] greeting flux" {
		t.Errorf("log lines = %+v, want one greeting", logs.Lines)
	}
}

func TestSubmitInvocationNoBody(t *testing.T) {
	srv := newLoadedServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := submit(t, ts.URL+"/v1/tasks/com.example.Greeter_bye/invocations", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
}

func TestSubmitInvocationErrors(t *testing.T) {
	srv := newLoadedServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tests := []struct {
		name string
		task string
		body string
		want int
	}{
		{"unknown task", "com.example.Greeter_nope", `{}`, http.StatusNotFound},
		{"wrong arity", "com.example.Greeter_hello", `{"args":[]}`, http.StatusUnprocessableEntity},
		{"args not array", "com.example.Greeter_hello", `{"args":{"a":1}}`, http.StatusUnprocessableEntity},
		{"bad json", "com.example.Greeter_hello", `{`, http.StatusBadRequest},
		{"bad timeout", "com.example.Greeter_hello", `{"args":["x"],"timeout_ms":0}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := submit(t, ts.URL+"/v1/tasks/"+tt.task+"/invocations", tt.body)
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestGetInvocationNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/invocations/nonexistent")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListInvocationsPagination(t *testing.T) {
	srv := newLoadedServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for range 3 {
		resp := submit(t, ts.URL+"/v1/tasks/com.example.Greeter_bye/invocations", `{}`)
		resp.Body.Close()
	}
	srv.engine.Wait()

	resp, err := http.Get(ts.URL + "/v1/invocations?limit=2&offset=0")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var list listInvocationsResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Total != 3 {
		t.Errorf("total = %d, want 3", list.Total)
	}
	if len(list.Invocations) != 2 {
		t.Errorf("len = %d, want 2", len(list.Invocations))
	}
	if list.Limit != 2 {
		t.Errorf("limit = %d, want 2", list.Limit)
	}
}

func TestListInvocationsEmpty(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/invocations?limit=500")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var list listInvocationsResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Invocations == nil || len(list.Invocations) != 0 {
		t.Errorf("invocations = %v, want empty slice", list.Invocations)
	}
	if list.Limit != defaultListLimit {
		t.Errorf("limit = %d, want %d", list.Limit, defaultListLimit)
	}
}
