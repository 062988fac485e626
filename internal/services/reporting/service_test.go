package reporting

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerrors "github.com/sgajbi/advisor-experience-api/internal/errors"
	"github.com/sgajbi/advisor-experience-api/internal/httputil"
)

type fakeRAS struct {
	status  int
	payload string
	calls   int
}

func (f *fakeRAS) GetPortfolioSnapshot(_ context.Context, _, _, _ string) (int, httputil.Payload, error) {
	f.calls++
	return f.status, httputil.NewPayload([]byte(f.payload)), nil
}

func TestGetSnapshot(t *testing.T) {
	ras := &fakeRAS{status: http.StatusOK, payload: `{"generatedAt":"2026-02-24T08:30:00Z","rows":[{"bucket":"Equity","value":10},"junk",{"bucket":"Cash"}]}`}
	svc := New(ras, "v1", nil)

	resp, err := svc.GetSnapshot(context.Background(), "P1", "2026-02-24", "corr_1")
	require.NoError(t, err)

	assert.Equal(t, "corr_1", resp.CorrelationID)
	assert.Equal(t, SourceService, resp.SourceService)
	assert.Equal(t, "P1", resp.PortfolioID)
	assert.Equal(t, "2026-02-24", resp.AsOfDate)
	assert.Equal(t, time.Date(2026, 2, 24, 8, 30, 0, 0, time.UTC), resp.GeneratedAt)
	require.Len(t, resp.Rows, 2)
	assert.Equal(t, "Equity", resp.Rows[0].Get("bucket").String())
	assert.Equal(t, "Cash", resp.Rows[1].Get("bucket").String())
}

func TestGetSnapshotFallbacks(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ras := &fakeRAS{status: http.StatusOK, payload: `{"generatedAt":"yesterday","rows":"none"}`}
	svc := New(ras, "v1", nil)
	svc.clock = func() time.Time { return now }

	resp, err := svc.GetSnapshot(context.Background(), "P1", "2026-02-24", "corr")
	require.NoError(t, err)
	assert.Equal(t, now, resp.GeneratedAt)
	assert.NotNil(t, resp.Rows)
	assert.Empty(t, resp.Rows)
}

func TestGetSnapshotUpstreamFailure(t *testing.T) {
	ras := &fakeRAS{status: http.StatusNotFound, payload: `{"detail":"no data"}`}
	_, err := New(ras, "v1", nil).GetSnapshot(context.Background(), "P1", "2026-02-24", "corr")

	var upstreamErr *svcerrors.UpstreamError
	require.True(t, errors.As(err, &upstreamErr))
	assert.Equal(t, http.StatusBadGateway, upstreamErr.HTTPStatus())
	assert.Equal(t, "Reporting snapshot unavailable: no data", upstreamErr.Detail)
}

func TestGetSnapshotValidatesArguments(t *testing.T) {
	ras := &fakeRAS{status: http.StatusOK, payload: `{}`}
	svc := New(ras, "v1", nil)

	_, err := svc.GetSnapshot(context.Background(), "P1", "", "corr")
	assert.ErrorIs(t, err, svcerrors.ErrInvalidRequest)
	_, err = svc.GetSnapshot(context.Background(), "", "2026-02-24", "corr")
	assert.ErrorIs(t, err, svcerrors.ErrInvalidRequest)
	assert.Zero(t, ras.calls)
}
