package service

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guestgate/access-server-go/internal/clock"
	apperrors "github.com/guestgate/access-server-go/internal/errors"
	"github.com/guestgate/access-server-go/internal/model"
)

func testReservation(id string, start, end time.Time) model.Reservation {
	return model.Reservation{
		ID:             id,
		ServiceName:    "consultation",
		StartTime:      start,
		EndTime:        end,
		ContactAddress: "guest@example.com",
		Status:         model.ReservationStatusApproved,
	}
}

// newTestValidator pins the clock to genEpoch with a reservation starting
// ten minutes later and ending an hour after that.
func newTestValidator(t *testing.T) (*AccessValidator, *clock.FakeClock, model.Reservation) {
	t.Helper()
	fake := clock.NewFake(genEpoch)
	v := NewAccessValidator(fake, ValidatorOptions{
		Lead:      5 * time.Minute,
		Trail:     30 * time.Minute,
		Retention: 24 * time.Hour,
	})
	t.Cleanup(v.Close)
	res := testReservation("res-1", genEpoch.Add(10*time.Minute), genEpoch.Add(70*time.Minute))
	return v, fake, res
}

func TestIssue(t *testing.T) {
	t.Run("derives the validity window", func(t *testing.T) {
		v, _, res := newTestValidator(t)

		cred, err := v.Issue(res, "0472")
		require.NoError(t, err)

		assert.Equal(t, "0472", cred.Code)
		assert.Len(t, cred.Token, 64)
		assert.Equal(t, res.StartTime.Add(-5*time.Minute), cred.ValidFrom)
		assert.Equal(t, res.EndTime.Add(30*time.Minute), cred.ValidUntil)
		assert.Equal(t, res.ID, cred.ReservationID)
		assert.Equal(t, res.ContactAddress, cred.Contact)
		assert.False(t, cred.Used)
		assert.Nil(t, cred.UsedAt)
	})

	t.Run("rejects incomplete input", func(t *testing.T) {
		v, _, res := newTestValidator(t)

		_, err := v.Issue(model.Reservation{}, "0472")
		assert.Equal(t, apperrors.ErrCodeMissingRequired, apperrors.GetCode(err))

		_, err = v.Issue(res, "")
		assert.Equal(t, apperrors.ErrCodeMissingRequired, apperrors.GetCode(err))

		inverted := res
		inverted.StartTime, inverted.EndTime = inverted.EndTime, inverted.StartTime
		_, err = v.Issue(inverted, "0472")
		assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
	})

	t.Run("reissue replaces the previous credential", func(t *testing.T) {
		v, fake, res := newTestValidator(t)

		first, err := v.Issue(res, "1122")
		require.NoError(t, err)
		second, err := v.Issue(res, "3344")
		require.NoError(t, err)

		fake.Advance(10 * time.Minute) // window open

		decision := v.Present(first.Code)
		assert.False(t, decision.Granted)
		assert.Equal(t, DenialNotFound, decision.Reason)

		decision = v.Present(second.Code)
		assert.True(t, decision.Granted)

		assert.Equal(t, 1, v.Stats().Used+v.Stats().Active+v.Stats().Expired)
	})
}

func TestPresentLifecycle(t *testing.T) {
	v, fake, res := newTestValidator(t)
	cred, err := v.Issue(res, "0472")
	require.NoError(t, err)

	t.Run("too early before the window opens", func(t *testing.T) {
		// Window opens at start-5m = +5m; clock still at epoch.
		decision := v.Present(cred.Code)
		assert.False(t, decision.Granted)
		assert.Equal(t, DenialTooEarly, decision.Reason)
		assert.Equal(t, "Too early — access starts at "+cred.ValidFrom.Format("15:04"), decision.Err.Message)
	})

	t.Run("early denial does not burn the credential", func(t *testing.T) {
		assert.Equal(t, 1, v.Stats().Active)
	})

	t.Run("granted inside the window", func(t *testing.T) {
		fake.Advance(10 * time.Minute)

		decision := v.Present(cred.Code)
		require.True(t, decision.Granted)
		require.NotNil(t, decision.Credential)
		assert.True(t, decision.Credential.Used)
		require.NotNil(t, decision.Credential.UsedAt)
		assert.Equal(t, fake.Now(), *decision.Credential.UsedAt)
		require.NotNil(t, decision.Reservation)
		assert.Equal(t, res.ID, decision.Reservation.ID)
	})

	t.Run("replay is rejected as already used", func(t *testing.T) {
		decision := v.Present(cred.Code)
		assert.False(t, decision.Granted)
		assert.Equal(t, DenialAlreadyUsed, decision.Reason)
		assert.Equal(t, "Token already used", decision.Err.Message)
	})

	t.Run("already used outranks expiry forever", func(t *testing.T) {
		fake.Advance(6 * time.Hour)
		decision := v.Present(cred.Code)
		assert.Equal(t, DenialAlreadyUsed, decision.Reason)
	})
}

func TestPresentByToken(t *testing.T) {
	v, fake, res := newTestValidator(t)
	cred, err := v.Issue(res, "0472")
	require.NoError(t, err)

	fake.Advance(10 * time.Minute)

	decision := v.Present(cred.Token)
	require.True(t, decision.Granted)

	// Burning via token burns the code too.
	decision = v.Present(cred.Code)
	assert.Equal(t, DenialAlreadyUsed, decision.Reason)
}

func TestPresentUnknown(t *testing.T) {
	v, _, _ := newTestValidator(t)

	decision := v.Present("9999")
	assert.False(t, decision.Granted)
	assert.Equal(t, DenialNotFound, decision.Reason)
	assert.Equal(t, "Invalid code", decision.Err.Message)
	assert.Nil(t, decision.Credential)
}

func TestPresentExpired(t *testing.T) {
	v, fake, res := newTestValidator(t)
	cred, err := v.Issue(res, "0472")
	require.NoError(t, err)

	// Past validUntil (+100m) but within retention.
	fake.Advance(2 * time.Hour)

	decision := v.Present(cred.Code)
	assert.False(t, decision.Granted)
	assert.Equal(t, DenialExpired, decision.Reason)
	assert.Equal(t, "Token expired", decision.Err.Message)

	t.Run("expiry denial does not burn the credential", func(t *testing.T) {
		stats := v.Stats()
		assert.Equal(t, 0, stats.Used)
		assert.Equal(t, 1, stats.Expired)
	})
}

func TestRetentionSweep(t *testing.T) {
	t.Run("entry vanishes after retention", func(t *testing.T) {
		v, fake, res := newTestValidator(t)
		cred, err := v.Issue(res, "0472")
		require.NoError(t, err)

		// validUntil is +100m; retention 24h. Advancing past both fires
		// the per-entry sweep.
		fake.Advance(26 * time.Hour)

		decision := v.Present(cred.Code)
		assert.Equal(t, DenialNotFound, decision.Reason)
		assert.Equal(t, 0, v.Stats().Active+v.Stats().Used+v.Stats().Expired)
	})

	t.Run("within retention the precise answer survives", func(t *testing.T) {
		v, fake, res := newTestValidator(t)
		cred, err := v.Issue(res, "0472")
		require.NoError(t, err)

		fake.Advance(10 * time.Minute)
		require.True(t, v.Present(cred.Code).Granted)

		fake.Advance(20 * time.Hour)
		assert.Equal(t, DenialAlreadyUsed, v.Present(cred.Code).Reason)
	})

	t.Run("manual sweep reaps entries issued already stale", func(t *testing.T) {
		fake := clock.NewFake(genEpoch)
		v := NewAccessValidator(fake, ValidatorOptions{Retention: time.Hour})
		t.Cleanup(v.Close)

		stale := testReservation("res-old", genEpoch.Add(-48*time.Hour), genEpoch.Add(-47*time.Hour))
		cred, err := v.Issue(stale, "8080")
		require.NoError(t, err)

		assert.Equal(t, DenialExpired, v.Present(cred.Code).Reason)
		assert.Equal(t, 1, v.Sweep())
		assert.Equal(t, DenialNotFound, v.Present(cred.Code).Reason)
	})
}

func TestListActive(t *testing.T) {
	v, fake, _ := newTestValidator(t)

	early := testReservation("res-early", genEpoch.Add(20*time.Minute), genEpoch.Add(80*time.Minute))
	open := testReservation("res-open", genEpoch.Add(2*time.Minute), genEpoch.Add(60*time.Minute))
	burned := testReservation("res-burned", genEpoch.Add(2*time.Minute), genEpoch.Add(60*time.Minute))

	_, err := v.Issue(early, "1111")
	require.NoError(t, err)
	_, err = v.Issue(open, "2222")
	require.NoError(t, err)
	burnedCred, err := v.Issue(burned, "3333")
	require.NoError(t, err)

	fake.Advance(5 * time.Minute)
	require.True(t, v.Present(burnedCred.Code).Granted)

	active := v.ListActive()
	ids := make([]string, 0, len(active))
	for _, cred := range active {
		ids = append(ids, cred.ReservationID)
	}
	assert.ElementsMatch(t, []string{"res-early", "res-open"}, ids)
}

func TestCloseStopsSweepTimers(t *testing.T) {
	fake := clock.NewFake(genEpoch)
	v := NewAccessValidator(fake, ValidatorOptions{Lead: time.Minute, Trail: time.Minute, Retention: time.Hour})

	for i := 0; i < 5; i++ {
		res := testReservation(fmt.Sprintf("res-%d", i), genEpoch.Add(10*time.Minute), genEpoch.Add(time.Hour))
		_, err := v.Issue(res, fmt.Sprintf("10%02d", i*7))
		require.NoError(t, err)
	}
	assert.Equal(t, 5, fake.PendingCount())

	v.Close()
	assert.Equal(t, 0, fake.PendingCount())
}

func TestPresentSingleUseUnderContention(t *testing.T) {
	v, fake, res := newTestValidator(t)
	cred, err := v.Issue(res, "0472")
	require.NoError(t, err)

	fake.Advance(10 * time.Minute)

	const callers = 32
	var wg sync.WaitGroup
	grants := make(chan Decision, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d := v.Present(cred.Code); d.Granted {
				grants <- d
			}
		}()
	}
	wg.Wait()
	close(grants)

	assert.Len(t, grants, 1, "exactly one concurrent presentment may win")
}
