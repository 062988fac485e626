package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetServiceError(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, GetServiceError(nil))
	})

	t.Run("wrapped invalid request", func(t *testing.T) {
		err := fmt.Errorf("overview: portfolio id is required: %w", ErrInvalidRequest)
		se := GetServiceError(err)
		require.NotNil(t, se)
		assert.Equal(t, http.StatusBadRequest, se.HTTPStatus)
		assert.Equal(t, CodeInvalidRequest, se.Code)
	})

	t.Run("upstream collapses to 502", func(t *testing.T) {
		se := GetServiceError(Upstream("pas", 404, "portfolio not found"))
		require.NotNil(t, se)
		assert.Equal(t, http.StatusBadGateway, se.HTTPStatus)
		assert.Equal(t, "portfolio not found", se.Message)
		assert.Equal(t, 404, se.Details["upstream_status"])
	})

	t.Run("upstream passthrough keeps status", func(t *testing.T) {
		se := GetServiceError(fmt.Errorf("simulate: %w", UpstreamPassthrough("dpm", 422, "invalid proposal")))
		require.NotNil(t, se)
		assert.Equal(t, 422, se.HTTPStatus)
	})

	t.Run("unknown error is internal", func(t *testing.T) {
		se := GetServiceError(stderrors.New("boom"))
		require.NotNil(t, se)
		assert.Equal(t, http.StatusInternalServerError, se.HTTPStatus)
		assert.Equal(t, CodeInternal, se.Code)
	})
}

func TestInvalidRequestIsSentinel(t *testing.T) {
	err := error(InvalidRequest("portfolio id is required"))
	assert.True(t, stderrors.Is(err, ErrInvalidRequest))
}

func TestRateLimitExceededDetails(t *testing.T) {
	se := RateLimitExceeded(50, "1s")
	assert.Equal(t, http.StatusTooManyRequests, se.HTTPStatus)
	assert.Equal(t, 50, se.Details["limit"])
	assert.Contains(t, se.Error(), "RATE_LIMIT_EXCEEDED")
}
