package chi

import (
	"context"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragchat/internal/domain"
	healthuc "github.com/kailas-cloud/ragchat/internal/usecase/health"
)

type mockChat struct {
	streamFn   func(ctx context.Context, msg string) (iter.Seq[string], error)
	completeFn func(ctx context.Context, msg string) (string, error)
	cleared    int
}

func (m *mockChat) Stream(ctx context.Context, msg string) (iter.Seq[string], error) {
	return m.streamFn(ctx, msg)
}

func (m *mockChat) Complete(ctx context.Context, msg string) (string, error) {
	return m.completeFn(ctx, msg)
}

func (m *mockChat) ClearHistory() { m.cleared++ }

type mockDocuments struct {
	uploadFn    func(ctx context.Context, name string, r io.Reader) (domain.IngestResult, error)
	deleteFn    func(ctx context.Context, source string) error
	clearFn     func(ctx context.Context) error
	inventoryFn func(ctx context.Context) ([]string, int, error)
}

func (m *mockDocuments) Upload(ctx context.Context, name string, r io.Reader) (domain.IngestResult, error) {
	return m.uploadFn(ctx, name, r)
}

func (m *mockDocuments) Delete(ctx context.Context, source string) error {
	return m.deleteFn(ctx, source)
}

func (m *mockDocuments) ClearAll(ctx context.Context) error {
	return m.clearFn(ctx)
}

func (m *mockDocuments) Inventory(ctx context.Context) ([]string, int, error) {
	return m.inventoryFn(ctx)
}

type mockHealth struct {
	report healthuc.Report
}

func (m *mockHealth) Check(context.Context) healthuc.Report { return m.report }

func fragments(parts ...string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, p := range parts {
			if !yield(p) {
				return
			}
		}
	}
}

// newTestRouter mounts a Server with the given mocks on a fresh chi router.
// nil mocks are replaced by ones that fail the test when called.
func newTestRouter(t *testing.T, c *mockChat, d *mockDocuments, h *mockHealth) http.Handler {
	t.Helper()
	if c == nil {
		c = &mockChat{
			streamFn: func(context.Context, string) (iter.Seq[string], error) {
				t.Error("unexpected Stream call")
				return fragments(), nil
			},
			completeFn: func(context.Context, string) (string, error) {
				t.Error("unexpected Complete call")
				return "", nil
			},
		}
	}
	if d == nil {
		d = &mockDocuments{}
	}
	if h == nil {
		h = &mockHealth{}
	}
	r := chi.NewRouter()
	NewServer(c, d, h, Config{}, zap.NewNop()).Routes(r)
	return r
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}
