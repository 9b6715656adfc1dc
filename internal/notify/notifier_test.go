package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"jobplane/internal/job"
	"jobplane/internal/testutil"
	"jobplane/pkg/stateevent"
)

func TestNotifierDeliveryIsAsynchronous(t *testing.T) {
	t.Parallel()

	var received atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New(Config{Destinations: []string{server.URL}, Workers: 1}, nil)

	// JobStatusChanged never blocks on delivery; the event arrives shortly
	// after while the notifier keeps running.
	n.JobStatusChanged("job-1", job.StatusInit, job.StatusResolved, "")
	testutil.MustWaitForCount(t, &received, 1, testutil.WithTimeout(5*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := n.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNotifierDeliversToAllDestinations(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	received := make(map[string][]stateevent.Event)
	newServer := func(name string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			var ev stateevent.Event
			if err := json.Unmarshal(body, &ev); err != nil {
				t.Errorf("bad event body: %v", err)
			}
			mu.Lock()
			received[name] = append(received[name], ev)
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		}))
	}
	a := newServer("a")
	defer a.Close()
	b := newServer("b")
	defer b.Close()

	n := New(Config{
		Destinations: []string{a.URL, b.URL},
		Workers:      2,
		HTTPTimeout:  2 * time.Second,
	}, nil)

	n.JobStatusChanged("job-1", job.StatusClaimed, job.StatusRunning, "agent started")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, name := range []string{"a", "b"} {
		events := received[name]
		if len(events) != 1 {
			t.Fatalf("destination %s received %d events, want 1", name, len(events))
		}
		ev := events[0]
		if ev.JobID != "job-1" || ev.Previous != "CLAIMED" || ev.Current != "RUNNING" {
			t.Errorf("destination %s got unexpected event: %+v", name, ev)
		}
	}
}

func TestNotifierRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New(Config{Destinations: []string{server.URL}, Workers: 1}, nil)
	n.JobStatusChanged("job-1", job.StatusRunning, job.StatusSucceeded, "")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if n.Stats().Delivered != 1 {
		t.Errorf("expected 1 delivered, got %+v", n.Stats())
	}
}

func TestNotifierDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	n := New(Config{Destinations: []string{server.URL}, Workers: 1}, nil)
	n.JobStatusChanged("job-1", job.StatusInit, job.StatusResolved, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 1 {
		t.Errorf("client error should not be retried, got %d attempts", attempts)
	}
	if n.Stats().Failed != 1 {
		t.Errorf("expected 1 failed, got %+v", n.Stats())
	}
}

func TestNotifierNoDestinationsIsInert(t *testing.T) {
	t.Parallel()

	n := New(Config{}, nil)
	n.JobStatusChanged("job-1", job.StatusInit, job.StatusResolved, "")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := n.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s := n.Stats(); s.Delivered != 0 || s.Failed != 0 || s.Dropped != 0 {
		t.Errorf("inert notifier recorded activity: %+v", s)
	}
}
