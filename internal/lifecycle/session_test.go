package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSession_FinishKeepsFirstOutcome(t *testing.T) {
	sess := newSession(ReasonTerminate, time.Second, []string{"database"})
	assert.Equal(t, OutcomePending, sess.Outcome())

	sess.finish(OutcomeTimeout, errors.New("deadline exceeded"))
	elapsed := sess.Elapsed()
	sess.finish(OutcomeSuccess, nil)

	assert.Equal(t, OutcomeTimeout, sess.Outcome())
	assert.EqualError(t, sess.Err(), "deadline exceeded")
	assert.Equal(t, 1, sess.ExitCode())
	assert.Equal(t, elapsed, sess.Elapsed())
}
