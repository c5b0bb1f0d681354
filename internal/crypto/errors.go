package crypto

import "errors"

// ErrSignature matches every signing or verification failure that is not
// simply "the signature does not match".
var ErrSignature = errors.New("signature error")

// SignatureError describes a malformed key, signature or algorithm.
type SignatureError struct {
	Op        string // sign, verify, load
	Algorithm string
	Reason    string
	Err       error
}

func (e *SignatureError) Error() string {
	msg := e.Op
	if e.Algorithm != "" {
		msg += " " + e.Algorithm
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SignatureError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrSignature, e.Err}
	}
	return []error{ErrSignature}
}
