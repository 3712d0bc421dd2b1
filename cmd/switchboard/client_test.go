package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/switchboard-core/internal/api"
	"github.com/nerrad567/switchboard-core/internal/bridge"
	"github.com/nerrad567/switchboard-core/internal/infrastructure/config"
	"github.com/nerrad567/switchboard-core/internal/infrastructure/logging"
)

// stubBridges is an in-memory api.Bridges.
type stubBridges struct {
	mu        sync.Mutex
	running   map[string]bridge.Status
	sent      map[string][]string
	autostart map[string]bool
}

func newStubBridges() *stubBridges {
	return &stubBridges{
		running:   map[string]bridge.Status{},
		sent:      map[string][]string{},
		autostart: map[string]bool{},
	}
}

func (s *stubBridges) Start(_ context.Context, service string) error {
	if err := bridge.ValidateService(service); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[service]; !ok {
		s.running[service] = bridge.StatusDisconnected
		s.autostart[service] = true
	}
	return nil
}

func (s *stubBridges) SetAutostart(_ context.Context, service string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.autostart[service]; !ok {
		return fmt.Errorf("bridge %q: %w", service, bridge.ErrServiceNotFound)
	}
	s.autostart[service] = enabled
	return nil
}

func (s *stubBridges) Send(service, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[service]; !ok {
		return fmt.Errorf("%w: %s", bridge.ErrNotRunning, service)
	}
	s.sent[service] = append(s.sent[service], message)
	return nil
}

func (s *stubBridges) Status(service string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[service].String()
}

func (s *stubBridges) List(context.Context) []bridge.ServiceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bridge.ServiceInfo, 0, len(s.running))
	for name, status := range s.running {
		autostart := s.autostart[name]
		out = append(out, bridge.ServiceInfo{
			Service:   name,
			Status:    status,
			PID:       4242,
			Uptime:    90 * time.Second,
			Autostart: &autostart,
		})
	}
	return out
}

func (s *stubBridges) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

func startTestAPI(t *testing.T, bridges api.Bridges) string {
	t.Helper()
	srv, err := api.New(api.Deps{
		Config:   config.APIConfig{Port: 8470},
		Security: config.SecurityConfig{JWT: config.JWTConfig{Enabled: false}},
		Logger:   logging.NewWithWriter(config.LoggingConfig{Level: "error"}, "test", &bytes.Buffer{}),
		Bridges:  bridges,
	})
	if err != nil {
		t.Fatalf("api.New() error = %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestBridgeCommands(t *testing.T) {
	bridges := newStubBridges()
	server := startTestAPI(t, bridges)

	out, err := execute(t, "bridge", "start", "telegram", "--server", server)
	if err != nil {
		t.Fatalf("bridge start error = %v", err)
	}
	if strings.TrimSpace(out) != "telegram: disconnected" {
		t.Errorf("bridge start output = %q", out)
	}

	if _, err := execute(t, "bridge", "send", "telegram", "list", "chats", "--server", server); err != nil {
		t.Fatalf("bridge send error = %v", err)
	}
	if _, err := execute(t, "bridge", "send", "telegram", `{"type":"send", "to":1}`, "--json", "--server", server); err != nil {
		t.Fatalf("bridge send --json error = %v", err)
	}
	want := []string{"list chats", `{"type":"send","to":1}`}
	if got := bridges.sent["telegram"]; len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("sent = %q, want %q", got, want)
	}

	out, err = execute(t, "bridge", "status", "telegram", "--server", server)
	if err != nil {
		t.Fatalf("bridge status error = %v", err)
	}
	if strings.TrimSpace(out) != "disconnected" {
		t.Errorf("bridge status output = %q", out)
	}

	out, err = execute(t, "bridge", "list", "--server", server)
	if err != nil {
		t.Fatalf("bridge list error = %v", err)
	}
	if !strings.Contains(out, "SERVICE") || !strings.Contains(out, "telegram") || !strings.Contains(out, "1m30s") {
		t.Errorf("bridge list output = %q", out)
	}
}

func TestBridgeAutostartCmd(t *testing.T) {
	bridges := newStubBridges()
	server := startTestAPI(t, bridges)

	if _, err := execute(t, "bridge", "start", "telegram", "--server", server); err != nil {
		t.Fatalf("bridge start error = %v", err)
	}

	out, err := execute(t, "bridge", "autostart", "telegram", "off", "--server", server)
	if err != nil {
		t.Fatalf("bridge autostart error = %v", err)
	}
	if strings.TrimSpace(out) != "telegram: autostart off" {
		t.Errorf("bridge autostart output = %q", out)
	}
	if bridges.autostart["telegram"] {
		t.Error("autostart still on after \"autostart off\"")
	}

	out, err = execute(t, "bridge", "list", "--server", server)
	if err != nil {
		t.Fatalf("bridge list error = %v", err)
	}
	if !strings.Contains(out, "AUTOSTART") || !strings.HasSuffix(strings.TrimSpace(out), "off") {
		t.Errorf("bridge list output = %q, want autostart off", out)
	}
}

func TestBridgeAutostartCmd_Errors(t *testing.T) {
	server := startTestAPI(t, newStubBridges())

	if _, err := execute(t, "bridge", "autostart", "telegram", "maybe", "--server", server); err == nil {
		t.Error("autostart with bad state expected error")
	}

	_, err := execute(t, "bridge", "autostart", "telegram", "on", "--server", server)
	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.Code != api.ErrCodeNotFound {
		t.Errorf("error = %v, want not_found", err)
	}
}

func TestParseOnOff(t *testing.T) {
	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{"on", true, false},
		{"ON", true, false},
		{"yes", true, false},
		{"off", false, false},
		{"false", false, false},
		{"maybe", false, true},
	}

	for _, tt := range tests {
		got, err := parseOnOff(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseOnOff(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseOnOff(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBridgeSend_NotRunning(t *testing.T) {
	server := startTestAPI(t, newStubBridges())

	_, err := execute(t, "bridge", "send", "signal", "hello", "--server", server)

	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *api.Error", err)
	}
	if apiErr.Code != api.ErrCodeNotRunning || apiErr.Status != http.StatusConflict {
		t.Errorf("api error = %+v, want 409 not_running", apiErr)
	}
}

func TestBridgeStart_InvalidService(t *testing.T) {
	server := startTestAPI(t, newStubBridges())

	_, err := execute(t, "bridge", "start", "Bad_Name", "--server", server)

	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.Code != api.ErrCodeInvalidService {
		t.Errorf("error = %v, want invalid_service", err)
	}
}

func TestAPIClient_SendsBearerToken(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"service":"telegram","status":"connected"}`)
	}))
	defer ts.Close()

	c := newAPIClient(ts.URL+"/", "abc.def.ghi")
	if _, err := c.status(context.Background(), "telegram"); err != nil {
		t.Fatalf("status() error = %v", err)
	}
	if gotAuth != "Bearer abc.def.ghi" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
}

func TestAPIClient_NonJSONError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := newAPIClient(ts.URL, "").status(context.Background(), "telegram")
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("status() error = %v, want 502 status", err)
	}
}

func TestSendBody(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		raw     bool
		want    string
		wantErr bool
	}{
		{"joined text", []string{"send", "hello"}, false, `{"message":"send hello"}`, false},
		{"raw object", []string{`{"type":"ping"}`}, true, `{"type":"ping"}`, false},
		{"raw array", []string{`[1,2]`}, true, "", true},
		{"raw invalid", []string{`{nope`}, true, "", true},
		{"raw too many args", []string{`{}`, `{}`}, true, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := sendBody(tt.args, tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("sendBody() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			data, err := json.Marshal(body)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("sendBody() = %s, want %s", data, tt.want)
			}
		})
	}
}

func TestPrintBridges(t *testing.T) {
	var buf bytes.Buffer
	on := true
	err := printBridges(&buf, []bridge.ServiceInfo{
		{Service: "signal", Status: bridge.StatusConnected, PID: 12, Restarts: 2, Uptime: 3*time.Second + time.Millisecond, Autostart: &on},
		{Service: "telegram", Status: bridge.StatusDisconnected},
	})
	if err != nil {
		t.Fatalf("printBridges() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2:\n%s", len(lines), buf.String())
	}
	if fields := strings.Fields(lines[1]); len(fields) != 6 || fields[0] != "signal" || fields[2] != "12" || fields[4] != "3s" || fields[5] != "on" {
		t.Errorf("signal row = %q", lines[1])
	}
	if fields := strings.Fields(lines[2]); len(fields) != 6 || fields[2] != "-" || fields[4] != "-" || fields[5] != "-" {
		t.Errorf("telegram row = %q", lines[2])
	}
}
