package service

import (
	"errors"
	"fmt"
)

// ErrNoCredential signals that no publishing credential has been saved yet.
var ErrNoCredential = errors.New("no credential stored")

// PublishErrorKind classifies publish failures. The scheduler currently
// retries all kinds the same way; the classification feeds logs, attempt
// records and escalation messages.
type PublishErrorKind string

const (
	// PublishErrCredential covers a missing or undecryptable credential.
	PublishErrCredential PublishErrorKind = "credential"
	// PublishErrAsset covers an image that cannot be read from storage.
	PublishErrAsset PublishErrorKind = "asset"
	// PublishErrRemoteAuth covers a rejected login.
	PublishErrRemoteAuth PublishErrorKind = "remote_auth"
	// PublishErrRemoteAPI covers rejected blob uploads or record creation.
	PublishErrRemoteAPI PublishErrorKind = "remote_api"
)

type PublishError struct {
	Kind PublishErrorKind
	Err  error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish failed (%s): %v", e.Kind, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

func publishErr(kind PublishErrorKind, err error) *PublishError {
	return &PublishError{Kind: kind, Err: err}
}
