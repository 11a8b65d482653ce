package logging

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		" INFO ":  INFO,
		"warning": WARN,
		"error":   ERROR,
		"":        INFO,
		"verbose": INFO,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestContextFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := &Logger{logger: zap.New(core)}

	ctx := WithAsset(WithTxID(context.Background(), "tx1"), "PST")
	l.Info(ctx, "matched", zap.Int("fills", 2))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["tx_id"] != "tx1" || fields["asset"] != "PST" {
		t.Errorf("missing context fields: %v", fields)
	}
	if fields["fills"] != int64(2) {
		t.Errorf("missing call field: %v", fields)
	}
	if TxID(ctx) != "tx1" {
		t.Errorf("TxID = %q", TxID(ctx))
	}
}

func TestWithKeepsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := (&Logger{logger: zap.New(core)}).With(zap.String("component", "settlement"))

	l.Warn(WithTxID(context.Background(), "tx1"), "retry")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["component"] != "settlement" || fields["tx_id"] != "tx1" {
		t.Errorf("unexpected fields: %v", fields)
	}
}
