package registration

import (
	"fmt"

	"github.com/congo-pay/rewards_auth/internal/apperr"
)

// Step is the position of a registration in its lifecycle.
type Step string

const (
	StepPhoneEntry       Step = "phone_entry"
	StepOTPPending       Step = "otp_pending"
	StepOTPVerified      Step = "otp_verified"
	StepProfileCompleted Step = "profile_completed"
	StepAborted          Step = "aborted"
)

// Terminal reports whether no further transition except abort is possible.
func (s Step) Terminal() bool {
	return s == StepProfileCompleted || s == StepAborted
}

// Event drives a transition.
type Event string

const (
	EventSubmitPhone     Event = "submit_phone"
	EventVerifyOTP       Event = "verify_otp"
	EventResend          Event = "resend"
	EventCompleteProfile Event = "complete_profile"
	EventAbort           Event = "abort"
)

// ErrInvalidTransition rejects an event the current step does not accept.
var ErrInvalidTransition = apperr.New(apperr.KindForbidden, "invalid_step", "this step is not available right now")

// Next returns the step reached by applying ev to from. Abort is accepted
// from every step; everything else moves strictly forward.
func Next(from Step, ev Event) (Step, error) {
	if ev == EventAbort {
		return StepAborted, nil
	}
	switch {
	case from == StepPhoneEntry && ev == EventSubmitPhone:
		return StepOTPPending, nil
	case from == StepOTPPending && ev == EventVerifyOTP:
		return StepOTPVerified, nil
	case from == StepOTPPending && ev == EventResend:
		return StepOTPPending, nil
	case from == StepOTPVerified && ev == EventCompleteProfile:
		return StepProfileCompleted, nil
	}
	return from, ErrInvalidTransition.WithCause(fmt.Errorf("%s from %s", ev, from))
}
