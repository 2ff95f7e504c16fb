package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/JonMunkholm/importdesk/internal/gateway"
)

// Backend is the document backend as seen by the engine. *gateway.Client
// satisfies it; tests substitute a scripted fake.
type Backend interface {
	Get(ctx context.Context, doctype, name string) (json.RawMessage, error)
	Save(ctx context.Context, doctype string, doc map[string]any) (json.RawMessage, error)
	List(ctx context.Context, q gateway.ListQuery) ([]json.RawMessage, error)
	// Call invokes a state-changing method exactly once.
	Call(ctx context.Context, method string, args map[string]any) (json.RawMessage, error)
	// Query invokes a read-only method and may retry.
	Query(ctx context.Context, method string, args map[string]any) (json.RawMessage, error)
	Download(ctx context.Context, method string, args map[string]any) (gateway.Artifact, error)
	Upload(ctx context.Context, up gateway.UploadRequest) (json.RawMessage, error)
}

// Observer receives engine events for instrumentation. All methods must be
// safe for concurrent use.
type Observer interface {
	PollTick(outcome string, elapsed time.Duration)
	PollerStarted()
	PollerStopped()
	TerminalObserved(status Status)
}

type nopObserver struct{}

func (nopObserver) PollTick(string, time.Duration) {}
func (nopObserver) PollerStarted()                 {}
func (nopObserver) PollerStopped()                 {}
func (nopObserver) TerminalObserved(Status)        {}
