package logic

import (
	"context"
	"testing"
	"time"

	"github.com/dogild/garuda/internal/model"
	"github.com/dogild/garuda/internal/plugins"
)

type beginPlugin struct {
	plugins.Base
	tag string
}

func (p *beginPlugin) BeginOperation(ctx context.Context, rc *model.Context) {
	rc.Errors.Add(model.ErrorTypeInvalid, p.tag, "marker", "", "")
}

type slowPlugin struct {
	plugins.Base
}

func (p *slowPlugin) BeginOperation(ctx context.Context, rc *model.Context) {
	select {
	case <-time.After(500 * time.Millisecond):
		rc.Errors.Add(model.ErrorTypeInvalid, "slow", "too slow", "", "")
	case <-ctx.Done():
	}
}

func newRegistry(t *testing.T, ps ...plugins.LogicPlugin) *plugins.Registry {
	t.Helper()
	r := plugins.NewRegistry()
	for _, p := range ps {
		r.RegisterLogic(p)
	}
	return r
}

func TestController_BeginOperation_MergesAllPlugins(t *testing.T) {
	registry := newRegistry(t,
		&beginPlugin{Base: plugins.NewBase(plugins.Manifest{Identifier: "a"}), tag: "a"},
		&beginPlugin{Base: plugins.NewBase(plugins.Manifest{Identifier: "b"}), tag: "b"},
	)

	c := NewController(registry, time.Second)
	rc := model.NewContext(&model.Session{}, &model.Request{})
	c.BeginOperation(context.Background(), rc)

	if len(rc.Errors.Properties) != 2 {
		t.Fatalf("expected 2 property errors merged, got %d", len(rc.Errors.Properties))
	}
}

func TestController_AbandonsStragglersPastDeadline(t *testing.T) {
	registry := newRegistry(t, &slowPlugin{Base: plugins.NewBase(plugins.Manifest{Identifier: "slow"})})

	c := NewController(registry, 20*time.Millisecond)
	rc := model.NewContext(&model.Session{}, &model.Request{})

	start := time.Now()
	c.BeginOperation(context.Background(), rc)
	elapsed := time.Since(start)

	if elapsed > 200*time.Millisecond {
		t.Fatalf("expected fan-out to return around the 20ms deadline, took %v", elapsed)
	}
	if !rc.Errors.Empty() {
		t.Fatal("expected the straggler's contribution to be abandoned")
	}
}

func TestController_NoPluginsIsNoop(t *testing.T) {
	c := NewController(plugins.NewRegistry(), time.Second)
	rc := model.NewContext(&model.Session{}, &model.Request{})
	c.EndOperation(context.Background(), rc)
	if !rc.Errors.Empty() {
		t.Fatal("expected no errors with no registered logic plugins")
	}
}
