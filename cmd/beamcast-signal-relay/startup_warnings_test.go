package main

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/beamcast/signal-relay/internal/config"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
	groups  []string
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	h := &recordingHandler{mu: mu, records: records}
	logger := slog.New(h)
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedLog, len(*records))
		copy(out, *records)
		return out
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{
		level: r.Level,
		msg:   r.Message,
		attrs: map[string]any{},
	}
	for _, a := range h.attrs {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := h.clone()
	nh.attrs = append(nh.attrs, attrs...)
	return nh
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	nh := h.clone()
	nh.groups = append(nh.groups, name)
	return nh
}

func (h *recordingHandler) clone() *recordingHandler {
	cp := &recordingHandler{
		mu:      h.mu,
		records: h.records,
	}
	if len(h.attrs) > 0 {
		cp.attrs = append([]slog.Attr(nil), h.attrs...)
	}
	if len(h.groups) > 0 {
		cp.groups = append([]string(nil), h.groups...)
	}
	return cp
}

func (h *recordingHandler) key(k string) string {
	if len(h.groups) == 0 {
		return k
	}
	return stringsJoin(h.groups, ".") + "." + k
}

func stringsJoin(parts []string, sep string) string {
	// Small local helper to avoid pulling in strings for tests that don't need it.
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += sep + p
	}
	return out
}

func warningCodes(records []recordedLog) map[string]recordedLog {
	out := map[string]recordedLog{}
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			out[code] = r
		}
	}
	return out
}

func TestStartupSecurityWarnings_AllowedOriginsWildcard(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:           config.ModeDev,
		AllowedOrigins: []string{"https://play.example.com", "*"},
	}

	logStartupSecurityWarnings(logger, cfg)

	if _, ok := warningCodes(records())["allowed_origins_wildcard"]; !ok {
		t.Fatalf("expected warning_code=allowed_origins_wildcard, got %#v", records())
	}
}

func TestStartupSecurityWarnings_UnlimitedCapsInProd(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:                 config.ModeProd,
		MaxConnections:       0,
		MaxMessagesPerSecond: 0,
	}

	logStartupSecurityWarnings(logger, cfg)

	codes := warningCodes(records())
	if _, ok := codes["max_connections_unlimited_in_prod"]; !ok {
		t.Fatalf("expected warning_code=max_connections_unlimited_in_prod, got %#v", records())
	}
	if _, ok := codes["message_rate_unlimited_in_prod"]; !ok {
		t.Fatalf("expected warning_code=message_rate_unlimited_in_prod, got %#v", records())
	}
}

func TestStartupSecurityWarnings_UnlimitedCapsQuietInDev(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:                 config.ModeDev,
		MaxConnections:       0,
		MaxMessagesPerSecond: 0,
	}

	logStartupSecurityWarnings(logger, cfg)

	codes := warningCodes(records())
	if _, ok := codes["max_connections_unlimited_in_prod"]; ok {
		t.Fatalf("unexpected max_connections_unlimited_in_prod warning in dev mode: %#v", records())
	}
	if _, ok := codes["message_rate_unlimited_in_prod"]; ok {
		t.Fatalf("unexpected message_rate_unlimited_in_prod warning in dev mode: %#v", records())
	}
}

func TestStartupSecurityWarnings_LargeMessageCap(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:            config.ModeDev,
		MaxConnections:  100,
		MaxMessageBytes: 4 << 20,
	}

	logStartupSecurityWarnings(logger, cfg)

	rec, ok := warningCodes(records())["max_message_bytes_large"]
	if !ok {
		t.Fatalf("expected warning_code=max_message_bytes_large, got %#v", records())
	}
	if rec.attrs["max_message_bytes"] != int64(4<<20) {
		t.Fatalf("max_message_bytes attr = %#v, want %d", rec.attrs["max_message_bytes"], int64(4<<20))
	}
}

func TestStartupSecurityWarnings_SafeConfigIsQuiet(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:                 config.ModeProd,
		AllowedOrigins:       []string{"https://play.example.com"},
		MaxConnections:       config.DefaultMaxConnections,
		MaxMessagesPerSecond: 10,
		MaxMessageBytes:      config.DefaultMaxMessageBytes,
	}

	logStartupSecurityWarnings(logger, cfg)

	if codes := warningCodes(records()); len(codes) != 0 {
		t.Fatalf("expected no warnings for safe config, got %#v", codes)
	}
}
