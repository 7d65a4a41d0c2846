package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestTeeHandlerRespectsPerHandlerLevels(t *testing.T) {
	var infoBuf, debugBuf bytes.Buffer
	infoLevel := new(slog.LevelVar)
	debugLevel := new(slog.LevelVar)
	debugLevel.Set(slog.LevelDebug)

	logger := slog.New(TeeHandler(
		newPrettyHandler(&infoBuf, infoLevel, false),
		newJSONHandler(&debugBuf, debugLevel, false),
	))
	logger.Debug("verbose detail")
	logger.Info("visible")

	if strings.Contains(infoBuf.String(), "verbose detail") {
		t.Fatalf("info handler received debug record: %q", infoBuf.String())
	}
	if !strings.Contains(infoBuf.String(), "visible") {
		t.Fatalf("info handler missed info record: %q", infoBuf.String())
	}
	if !strings.Contains(debugBuf.String(), "verbose detail") || !strings.Contains(debugBuf.String(), "visible") {
		t.Fatalf("debug handler missed records: %q", debugBuf.String())
	}
}

func TestTeeHandlerPropagatesAttrs(t *testing.T) {
	var a, b bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(TeeHandler(newPrettyHandler(&a, lvl, false), newPrettyHandler(&b, lvl, false)))
	logger.With(slog.String(FieldComponent, "gateway")).WithGroup("payload").Info("decoded", slog.String("field", "taskId"))

	for _, out := range []string{a.String(), b.String()} {
		if !strings.Contains(out, "gateway decoded") || !strings.Contains(out, "payload.field=taskId") {
			t.Fatalf("unexpected output %q", out)
		}
	}
}

func TestTeeHandlerCollapses(t *testing.T) {
	if _, ok := TeeHandler().(NoopHandler); !ok {
		t.Fatal("expected NoopHandler when no handlers supplied")
	}
	single := NoopHandler{}
	if got := TeeHandler(nil, single); got != slog.Handler(single) {
		t.Fatalf("expected single handler returned as is, got %T", got)
	}
	if TeeHandler().Enabled(context.Background(), slog.LevelError) {
		t.Fatal("noop handler must be disabled")
	}
}
