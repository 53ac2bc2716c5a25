package state

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/fabiosantoscode/scatterbrain-deployments/internal/deployment"
	"github.com/fabiosantoscode/scatterbrain-deployments/internal/jsonsafe"
	"github.com/go-logr/logr"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "state.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleDeployment() deployment.Deployment {
	return deployment.Deployment{
		"s": {TypeName: "kv", Name: "s"},
		"f": {TypeName: "fn", Name: "f", Options: map[string]any{"func": "increment", "args": []any{deployment.Ref{Name: "s"}}}},
	}
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.LatestRun(ctx); !errors.Is(err, ErrNoRuns) {
		t.Fatalf("expected ErrNoRuns, got %v", err)
	}
	if err := s.CreateRun(ctx, "run-1", "up", sampleDeployment()); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := s.CreateRun(ctx, "run-1", "up", sampleDeployment()); err == nil {
		t.Fatalf("expected duplicate run id to fail")
	}
	run, err := s.LatestRun(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if run.RunID != "run-1" || run.Status != StatusRunning || run.Deployables != 2 || run.Command != "up" {
		t.Fatalf("unexpected run %+v", run)
	}

	if err := s.FinishRun(ctx, "run-1", StatusDeployed); err != nil {
		t.Fatalf("finish: %v", err)
	}
	run, err = s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if run.Status != StatusDeployed {
		t.Fatalf("expected deployed, got %s", run.Status)
	}
	if err := s.FinishRun(ctx, "nope", StatusFailed); err == nil {
		t.Fatalf("expected unknown run to fail")
	}

	d, err := s.LoadDeployment(ctx, "run-1")
	if err != nil {
		t.Fatalf("load deployment: %v", err)
	}
	wantOpts := map[string]any{"func": "increment", "args": []any{map[string]any{"ref": "s"}}}
	if !reflect.DeepEqual(d["f"].Options, wantOpts) {
		t.Fatalf("deployment options: got %#v want %#v", d["f"].Options, wantOpts)
	}
}

func TestSaveAndLoadLive(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if err := s.CreateRun(ctx, "run-1", "up", sampleDeployment()); err != nil {
		t.Fatalf("create run: %v", err)
	}
	live := deployment.LiveDeployment{
		"s": {TypeName: "kv", Name: "s", Current: map[string]any{"keys": 0}},
		"f": {TypeName: "fn", Name: "f", Current: map[string]any{"func": "increment", "args": []any{"s"}}},
		"e": {TypeName: "endpoint", Name: "e", Current: nil},
	}
	if err := s.SaveLive(ctx, "run-1", live); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.LoadLive(ctx, "run-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := deployment.LiveDeployment{
		"s": {TypeName: "kv", Name: "s", Current: map[string]any{"keys": float64(0)}},
		"f": {TypeName: "fn", Name: "f", Current: map[string]any{"func": "increment", "args": []any{"s"}}},
		"e": {TypeName: "endpoint", Name: "e", Current: nil},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("live: got %#v want %#v", got, want)
	}

	entries, err := s.Entries(ctx, "run-1")
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 3 || entries[0].Name != "e" || entries[0].Digest == "" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestSaveLiveRejectsNonJSONCurrent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if err := s.CreateRun(ctx, "run-1", "up", sampleDeployment()); err != nil {
		t.Fatalf("create run: %v", err)
	}
	live := deployment.LiveDeployment{
		"ok":  {TypeName: "kv", Name: "ok", Current: "fine"},
		"bad": {TypeName: "kv", Name: "bad", Current: map[string]any{"n": math.NaN()}},
	}
	err := s.SaveLive(ctx, "run-1", live)
	var verr *jsonsafe.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	got, err := s.LoadLive(ctx, "run-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected nothing saved, got %v", got)
	}
}

func TestSaveLiveRejectsCyclicCurrent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if err := s.CreateRun(ctx, "run-1", "up", sampleDeployment()); err != nil {
		t.Fatalf("create run: %v", err)
	}
	current := map[string]any{}
	current["self"] = current
	err := s.SaveLive(ctx, "run-1", deployment.LiveDeployment{"s": {TypeName: "kv", Name: "s", Current: current}})
	var verr *jsonsafe.ValidationError
	if !errors.As(err, &verr) || verr.Reason != "cycle" {
		t.Fatalf("expected cycle ValidationError, got %v", err)
	}
}

func TestLoadLiveDetectsTampering(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if err := s.CreateRun(ctx, "run-1", "up", sampleDeployment()); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := s.SaveLive(ctx, "run-1", deployment.LiveDeployment{"s": {TypeName: "kv", Name: "s", Current: "a"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE scatter_entries SET current_json = '"b"'`); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if _, err := s.LoadLive(ctx, "run-1"); err == nil {
		t.Fatalf("expected digest mismatch")
	}
}

func TestObserverPersistsEvents(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if err := s.CreateRun(ctx, "run-1", "up", sampleDeployment()); err != nil {
		t.Fatalf("create run: %v", err)
	}
	obs := s.Observer(ctx, logr.Discard())
	ts := time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC).Format(time.RFC3339Nano)
	obs.ObserveEvent(deployment.Event{Seq: 1, TS: ts, RunID: "run-1", Phase: deployment.PhaseDeploy, Type: deployment.RunStarted})
	obs.ObserveEvent(deployment.Event{Seq: 2, TS: ts, RunID: "run-1", Phase: deployment.PhaseDeploy, Type: deployment.TaskFailed, Name: "s", TypeName: "kv", Error: "boom", Duration: time.Second})
	obs.ObserveEvent(deployment.Event{Seq: 1, TS: ts, RunID: "unknown-run", Type: deployment.RunStarted})

	events, err := s.Events(ctx, "run-1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	want := deployment.Event{Seq: 2, TS: ts, RunID: "run-1", Phase: deployment.PhaseDeploy, Type: deployment.TaskFailed, Name: "s", TypeName: "kv", Error: "boom", Duration: time.Second}
	if !reflect.DeepEqual(events[1], want) {
		t.Fatalf("event: got %+v want %+v", events[1], want)
	}
}

func TestObserverKeepsEngineSeqOrder(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	reg := deployment.NewRegistry()
	noop := deployment.Funcs{DeployFunc: func(context.Context, deployment.DeployContext, string, any) (any, error) {
		return map[string]any{}, nil
	}}
	if err := reg.Register("noop", noop); err != nil {
		t.Fatalf("register: %v", err)
	}
	d := deployment.Deployment{}
	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("n%02d", i)
		d[name] = deployment.Deployable{TypeName: "noop", Name: name}
	}
	if err := s.CreateRun(ctx, "run-1", "up", d); err != nil {
		t.Fatalf("create run: %v", err)
	}
	e := deployment.NewEngine(reg, deployment.Options{RunID: "run-1", Observers: []deployment.EventObserver{s.Observer(ctx, logr.Discard())}})
	if _, err := e.Deploy(ctx, d); err != nil {
		t.Fatalf("deploy: %v", err)
	}

	events, err := s.Events(ctx, "run-1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) == 0 {
		t.Fatalf("expected persisted events")
	}
	for i, ev := range events {
		if ev.Seq != int64(i+1) {
			t.Fatalf("event %d stored with seq %d", i, ev.Seq)
		}
	}
}

func TestOpenReadOnlyRequiresExistingFile(t *testing.T) {
	if _, err := OpenReadOnly(filepath.Join(t.TempDir(), "missing.sqlite")); err == nil {
		t.Fatalf("expected error for missing store")
	}
	path := filepath.Join(t.TempDir(), "state.sqlite")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.CreateRun(context.Background(), "run-1", "up", nil); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := s.Checkpoint(context.Background()); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	_ = s.Close()

	ro, err := OpenReadOnly(path)
	if err != nil {
		t.Fatalf("open read-only: %v", err)
	}
	defer ro.Close()
	runs, err := ro.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "run-1" {
		t.Fatalf("unexpected runs %+v", runs)
	}
}
