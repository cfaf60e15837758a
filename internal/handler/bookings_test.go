package handler

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushBody(id, status string) string {
	return `{"type":"upsert","reservation":{` +
		`"id":"` + id + `",` +
		`"serviceName":"Studio B",` +
		`"startTime":"2026-03-14T12:03:00Z",` +
		`"endTime":"2026-03-14T13:00:00Z",` +
		`"contactAddress":"+31600000002",` +
		`"status":"` + status + `"}}`
}

func pushRequest(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/v1/bookings/push", bytes.NewBufferString(body))
}

func TestBookingsHandlerPush(t *testing.T) {
	t.Run("approved reservation is processed", func(t *testing.T) {
		f := newHandlerFixture(t)
		h := NewBookingsHandler(f.orch)

		rec := httptest.NewRecorder()
		h.Push(rec, pushRequest(pushBody("res-1", "approved")))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"processed":true`)
		assert.Len(t, f.validator.ListActive(), 1)
	})

	t.Run("duplicate occurrence is not reprocessed", func(t *testing.T) {
		f := newHandlerFixture(t)
		h := NewBookingsHandler(f.orch)

		rec := httptest.NewRecorder()
		h.Push(rec, pushRequest(pushBody("res-1", "approved")))
		require.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		h.Push(rec, pushRequest(pushBody("res-1", "approved")))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"processed":false`)
		assert.Len(t, f.validator.ListActive(), 1)
	})

	t.Run("pending reservation is skipped", func(t *testing.T) {
		f := newHandlerFixture(t)
		h := NewBookingsHandler(f.orch)

		rec := httptest.NewRecorder()
		h.Push(rec, pushRequest(pushBody("res-1", "pending")))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"processed":false`)
		assert.Empty(t, f.validator.ListActive())
	})

	t.Run("cancellation is acknowledged without issuing", func(t *testing.T) {
		f := newHandlerFixture(t)
		h := NewBookingsHandler(f.orch)

		rec := httptest.NewRecorder()
		h.Push(rec, pushRequest(pushBody("res-1", "cancelled")))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"processed":false`)
		assert.Empty(t, f.validator.ListActive())
	})

	t.Run("missing reservation is rejected", func(t *testing.T) {
		f := newHandlerFixture(t)
		h := NewBookingsHandler(f.orch)

		rec := httptest.NewRecorder()
		h.Push(rec, pushRequest(`{"type":"upsert"}`))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "MISSING_REQUIRED")
	})

	t.Run("unknown status is rejected", func(t *testing.T) {
		f := newHandlerFixture(t)
		h := NewBookingsHandler(f.orch)

		rec := httptest.NewRecorder()
		h.Push(rec, pushRequest(pushBody("res-1", "canceled")))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "INVALID_INPUT")
		assert.Empty(t, f.validator.ListActive())
	})

	t.Run("invalid JSON is rejected", func(t *testing.T) {
		f := newHandlerFixture(t)
		h := NewBookingsHandler(f.orch)

		rec := httptest.NewRecorder()
		h.Push(rec, pushRequest(`{invalid json}`))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
	})
}
