package captcha

import "time"

// Challenge is a login suspended while the user solves a CAPTCHA.
type Challenge struct {
	State     string    `json:"state"`   // OAuth state, also the lookup key
	Cookies   string    `json:"cookies"` // serialised cookie jar at the moment the CAPTCHA was issued
	Email     string    `json:"email"`
	Timestamp time.Time `json:"timestamp"`
}

// Repo stores suspended logins. Reads are destructive: a challenge can be taken once.
type Repo interface {
	// Put stores the challenge under its state, stamping the current time and replacing any
	// earlier challenge for the same state.
	Put(challenge Challenge) error

	// TakeIfFresh removes the challenge for state and returns it if it is not older than the TTL.
	TakeIfFresh(state string) (*Challenge, bool)
}
