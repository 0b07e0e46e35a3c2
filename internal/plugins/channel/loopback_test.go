package channel

import (
	"context"
	"testing"
	"time"

	"github.com/dogild/garuda/internal/model"
)

type fakeCore struct {
	resp          *model.Response
	eventsSession *model.Session
	eventsFailure *model.Response
}

func (f *fakeCore) ExecuteModelRequest(ctx context.Context, req *model.Request, path string) *model.Response {
	return f.resp
}

func (f *fakeCore) ExecuteEventsRequest(ctx context.Context, req *model.Request) (*model.Session, *model.Response) {
	return f.eventsSession, f.eventsFailure
}

func TestLoopback_ExecuteDelegatesToCore(t *testing.T) {
	want := model.SuccessResponse(nil)
	lb := NewLoopback(&fakeCore{resp: want})

	got := lb.Execute(context.Background(), &model.Request{Method: "GET"}, "/enterprises")
	if got != want {
		t.Fatalf("expected Execute to return the core's response verbatim")
	}
}

func TestLoopback_StopUnblocksRun(t *testing.T) {
	lb := NewLoopback(&fakeCore{})

	done := make(chan error, 1)
	go func() { done <- lb.Run(context.Background()) }()

	lb.Stop()
	lb.Stop() // idempotent, must not panic or block

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected Run to return nil after Stop, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestLoopback_ContextCancellationUnblocksRun(t *testing.T) {
	lb := NewLoopback(&fakeCore{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- lb.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected Run to return the context's error")
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
