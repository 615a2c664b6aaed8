package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnvelope_HasDeadlineAndExpired(t *testing.T) {
	noDeadline := newEnvelope("a", "b", "EVT", nil, External, PriorityNormal, 0)
	assert.False(t, noDeadline.HasDeadline())
	assert.False(t, noDeadline.Expired(time.Now().Add(time.Hour)))

	withDeadline := newEnvelope("a", "b", "EVT", nil, External, PriorityNormal, time.Millisecond)
	assert.True(t, withDeadline.HasDeadline())
	assert.False(t, withDeadline.Expired(withDeadline.SubmittedAt))
	assert.True(t, withDeadline.Expired(withDeadline.SubmittedAt.Add(time.Second)))
}

func TestErrorKind_String(t *testing.T) {
	cases := map[ErrorKind]string{
		NoError:               "NoError",
		TargetNotRegistered:   "TargetNotRegistered",
		Timeout:               "Timeout",
		Cancelled:             "Cancelled",
		MachineFault:          "MachineFault",
		Shutdown:              "Shutdown",
		BreakerOpen:           "BreakerOpen",
		Backpressure:          "Backpressure",
		DuplicateRegistration: "DuplicateRegistration",
		GroupReleased:         "GroupReleased",
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.String())
	}
}

func TestError_ErrorMessage(t *testing.T) {
	bare := newError(Timeout, "")
	assert.Equal(t, "Timeout", bare.Error())

	withMsg := newError(Timeout, "deadline exceeded")
	assert.Equal(t, "Timeout: deadline exceeded", withMsg.Error())

	var nilErr *Error
	assert.Equal(t, "", nilErr.Error())
}

func TestResult_SuccessAndFailureHelpers(t *testing.T) {
	ok := successResult("running")
	assert.True(t, ok.Success)
	assert.Equal(t, "running", ok.NewState)
	assert.Nil(t, ok.Error)

	bad := failureResult(MachineFault, "boom")
	assert.False(t, bad.Success)
	assert.Equal(t, MachineFault, bad.Error.Kind)
}
