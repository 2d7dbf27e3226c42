package cloud

import (
	"context"
	"testing"
)

// testContext returns a context canceled when the test finishes,
// matching the behavior of (*testing.T).Context from newer Go releases.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
