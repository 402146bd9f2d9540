package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.With(String("component", "georef")).Warn(context.Background(), "invalid satellite radius",
		Float64("radius", 12.5), Int("grid_rows", 3), Err(errors.New("boom")))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if rec["level"] != "WARN" || rec["msg"] != "invalid satellite radius" {
		t.Fatalf("record = %v", rec)
	}
	if rec["component"] != "georef" || rec["radius"] != 12.5 || rec["grid_rows"] != float64(3) || rec["error"] != "boom" {
		t.Fatalf("fields = %v", rec)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})
	log.Info(context.Background(), "hidden")
	log.Debug(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("info/debug written at warn level: %q", buf.String())
	}
	log.Error(context.Background(), "shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("error not written: %q", buf.String())
	}
}

func TestStartRunAnnotatesLogger(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Format: "json", Output: &buf})
	frame := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

	ctx, log := StartRun(context.Background(), base, Run{
		Command:   "build",
		Source:    "scene.json",
		GridKey:   "scene-1",
		FrameTime: frame,
	})
	run, ok := RunFromContext(ctx)
	if !ok || run.ID == "" || run.Source != "scene.json" {
		t.Fatalf("run from context = %+v, %v", run, ok)
	}
	if FromContext(ctx) != log {
		t.Fatalf("context logger differs from the returned one")
	}

	log.Info(ctx, "built")
	for _, want := range []string{
		`"run_id":"` + run.ID + `"`,
		`"command":"build"`,
		`"source":"scene.json"`,
		`"grid_key":"scene-1"`,
		`"frame_time":"2025-03-01T12:00:00Z"`,
	} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("missing %s in %q", want, buf.String())
		}
	}
}

func TestStartRunInheritsID(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Format: "json", Output: &buf})
	ctx, _ := StartRun(context.Background(), base, Run{ID: "serve-7", Command: "serve-metrics"})

	frameCtx, log := StartRun(ctx, base, Run{Command: "serve-metrics", Source: "scene.json"})
	if run, _ := RunFromContext(frameCtx); run.ID != "serve-7" {
		t.Fatalf("frame run id = %q, want serve-7", run.ID)
	}
	log.Info(frameCtx, "frame")
	if strings.Count(buf.String(), `"run_id"`) != 1 || strings.Contains(buf.String(), "grid_key") {
		t.Fatalf("unexpected fields: %q", buf.String())
	}
}

func TestFromContextDefaultsToNoop(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatalf("FromContext returned nil")
	}
	if _, ok := RunFromContext(context.Background()); ok {
		t.Fatalf("empty context has a run")
	}
}
