package fulfillment

import (
	"errors"
	"fmt"
)

// State is a step of the fulfillment state machine.
type State string

const (
	StateReceivedEvent        State = "ReceivedEvent"
	StateSignatureVerified    State = "SignatureVerified"
	StateSessionConfirmedPaid State = "SessionConfirmedPaid"
	StateOrderUpserted        State = "OrderUpserted"
	StateArchiveRequested     State = "ArchiveRequested"
	StateArchiveBuilt         State = "ArchiveBuilt"
	StateUploaded             State = "Uploaded"
	StateURLIssued            State = "UrlIssued"
	StateOrderMarkedFulfilled State = "OrderMarkedFulfilled"
	StateFailed               State = "Failed"
)

var (
	// ErrUpload is fatal to a generation attempt; the order keeps its prior state.
	ErrUpload = errors.New("archive upload failed")
	// ErrTimeout marks an external call that ran past its deadline.
	ErrTimeout = errors.New("external call timed out")
	// ErrNoItems means neither the request, the order nor the session named anything to deliver.
	ErrNoItems = errors.New("no line items to deliver")
	// ErrItemsNotPurchased means a requested item is not part of what the session paid for.
	ErrItemsNotPurchased = errors.New("requested items were not purchased")
)

// StageError is the Failed(reason) transition: Stage is the last state reached
// before the pipeline stopped and Err is the reason.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("fulfillment failed after %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
