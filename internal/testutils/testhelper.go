package testutils

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/eventbus"
	"github.com/srg/blecentral/internal/platform"
)

// DefaultTimeout bounds every wait in helpers.
const DefaultTimeout = 2 * time.Second

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
	Hook   *test.Hook
}

// NewTestHelper creates a test helper with a captured, silent logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
		Hook:   hook,
	}
}

// Context returns a context cancelled after DefaultTimeout or at test end.
func (h *TestHelper) Context() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	h.T.Cleanup(cancel)
	return ctx
}

// NextEvent reads one event or fails the test.
func (h *TestHelper) NextEvent(sub *eventbus.Subscription) device.CentralEvent {
	h.T.Helper()
	ev, err := sub.Next(h.Context())
	if err != nil {
		h.T.Fatalf("expected event, got error: %v", err)
	}
	return ev
}

// ExpectNoEvent fails if sub yields an event within a short grace period.
func (h *TestHelper) ExpectNoEvent(sub *eventbus.Subscription) {
	h.T.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if ev, err := sub.Next(ctx); err == nil {
		h.T.Fatalf("unexpected event: %s", ev)
	}
}

// InitPlatform installs a quiet process runtime if none is set. Call it from TestMain.
func InitPlatform() *platform.Runtime {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return platform.Ensure(platform.Runtime{Logger: logger})
}
