// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/armlink/control"
	"github.com/bureau-foundation/armlink/lib/clock"
	"github.com/bureau-foundation/armlink/lib/testutil"
)

func newTestServer(t *testing.T, source *fakeSource, events *EventLog) *httptest.Server {
	t.Helper()
	server, err := NewServer(Config{
		Source:         source,
		Events:         events,
		Clock:          clock.Real(),
		Logger:         discardLogger(),
		StreamInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	httpServer := httptest.NewServer(server.Handler())
	t.Cleanup(httpServer.Close)
	return httpServer
}

func getJSON(t *testing.T, url string, into any) {
	t.Helper()
	response, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, response.StatusCode)
	}
	if ct := response.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	if err := json.NewDecoder(response.Body).Decode(into); err != nil {
		t.Fatalf("decoding %s: %v", url, err)
	}
}

func TestStateBeforeFeedback(t *testing.T) {
	server := newTestServer(t, newFakeSource(), nil)

	var state StateResponse
	getJSON(t, server.URL+"/v1/state", &state)
	if state.Snapshot != nil {
		t.Errorf("snapshot = %+v, want null before feedback", state.Snapshot)
	}
	if state.SessionID != "session-1" || !state.Valid || state.Monitor != "tracking" {
		t.Errorf("state = %+v", state)
	}
}

func TestStateCarriesSnapshot(t *testing.T) {
	source := newFakeSource()
	source.publish(7, 0.25)
	server := newTestServer(t, source, nil)

	var state StateResponse
	getJSON(t, server.URL+"/v1/state", &state)
	if state.Snapshot == nil || state.Snapshot.Sequence != 7 {
		t.Fatalf("snapshot = %+v", state.Snapshot)
	}
	if state.Snapshot.Joints.Position[0] != 0.25 {
		t.Errorf("joint 1 = %v", state.Snapshot.Joints.Position[0])
	}
}

func TestValidityAndReset(t *testing.T) {
	source := newFakeSource()
	source.invalidate("arm status: emergency stop", epoch)
	server := newTestServer(t, source, nil)

	var detail control.ValidityDetail
	getJSON(t, server.URL+"/v1/validity", &detail)
	if detail.Valid || detail.Reason != "arm status: emergency stop" {
		t.Errorf("validity = %+v", detail)
	}

	// Reset only accepts POST.
	response, err := http.Get(server.URL + "/v1/validity/reset")
	if err != nil {
		t.Fatalf("GET reset: %v", err)
	}
	response.Body.Close()
	if response.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET reset status = %d, want 405", response.StatusCode)
	}

	response, err = http.Post(server.URL+"/v1/validity/reset", "", nil)
	if err != nil {
		t.Fatalf("POST reset: %v", err)
	}
	defer response.Body.Close()
	if err := json.NewDecoder(response.Body).Decode(&detail); err != nil {
		t.Fatalf("decoding reset: %v", err)
	}
	if !detail.Valid {
		t.Errorf("after reset validity = %+v", detail)
	}
	if resets := source.resetCount(); resets != 1 {
		t.Errorf("resets = %d, want 1", resets)
	}
}

func TestMetrics(t *testing.T) {
	server := newTestServer(t, newFakeSource(), nil)

	var metrics map[string]any
	getJSON(t, server.URL+"/v1/metrics", &metrics)
	if metrics["frames_sent"] != float64(12) || metrics["reliable_pending"] != float64(2) {
		t.Errorf("metrics = %v", metrics)
	}
}

func TestEvents(t *testing.T) {
	events := NewEventLog(8)
	events.Append(Event{At: epoch, Kind: EventRestored})
	events.Append(Event{At: epoch, Kind: EventInvalidated, Reason: "pipeline stopped"})
	server := newTestServer(t, newFakeSource(), events)

	var response EventsResponse
	getJSON(t, server.URL+"/v1/events", &response)
	if len(response.Events) != 2 || response.Latest != 2 {
		t.Fatalf("events = %+v", response)
	}

	getJSON(t, server.URL+"/v1/events?since=1", &response)
	if len(response.Events) != 1 || response.Events[0].Reason != "pipeline stopped" {
		t.Errorf("since=1 events = %+v", response.Events)
	}

	getJSON(t, server.URL+"/v1/events?since=2", &response)
	if response.Events == nil || len(response.Events) != 0 {
		t.Errorf("since=latest events = %v, want empty list", response.Events)
	}

	bad, err := http.Get(server.URL + "/v1/events?since=soon")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", bad.StatusCode)
	}
}

func TestEventsWithoutLog(t *testing.T) {
	server := newTestServer(t, newFakeSource(), nil)

	var response EventsResponse
	getJSON(t, server.URL+"/v1/events", &response)
	if response.Events == nil || len(response.Events) != 0 || response.Latest != 0 {
		t.Errorf("events = %+v", response)
	}
}

func dialStream(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readStream(t *testing.T, conn *websocket.Conn) StreamMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var message StreamMessage
	if err := conn.ReadJSON(&message); err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	return message
}

func TestStreamPushesChanges(t *testing.T) {
	source := newFakeSource()
	source.publish(1, 0.1)
	server := newTestServer(t, source, nil)
	conn := dialStream(t, server)

	first := readStream(t, conn)
	if first.Snapshot == nil || first.Snapshot.Sequence != 1 || !first.Validity.Valid {
		t.Fatalf("first message = %+v", first)
	}

	source.publish(2, 0.2)
	second := readStream(t, conn)
	if second.Snapshot == nil || second.Snapshot.Sequence != 2 {
		t.Fatalf("second message = %+v", second)
	}

	// A validity change alone is pushed too.
	source.invalidate("joint 2 driver: collision protection", epoch)
	third := readStream(t, conn)
	if third.Validity.Valid || third.Snapshot.Sequence != 2 {
		t.Errorf("third message = %+v", third)
	}
}

func TestStreamSkipsUnchanged(t *testing.T) {
	source := newFakeSource()
	source.publish(5, 0)
	server := newTestServer(t, source, nil)
	conn := dialStream(t, server)

	readStream(t, conn)

	// Several intervals pass with nothing new.
	conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	var message StreamMessage
	err := conn.ReadJSON(&message)
	if err == nil {
		t.Fatalf("received %+v with no change", message)
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("read error = %v, want timeout", err)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	server, err := NewServer(Config{Source: newFakeSource(), Clock: clock.Real(), Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- server.Serve(ctx, listener) }()

	var state StateResponse
	getJSON(t, "http://"+listener.Addr().String()+"/v1/state", &state)

	cancel()
	if err := testutil.RequireReceive(t, result, 5*time.Second, "Serve did not return"); err != nil {
		t.Errorf("Serve: %v", err)
	}
}

func TestNewServerRequiresCollaborators(t *testing.T) {
	if _, err := NewServer(Config{Clock: clock.Real(), Logger: discardLogger()}); err == nil {
		t.Error("expected error without a source")
	}
}
