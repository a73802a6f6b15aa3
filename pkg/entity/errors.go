package entity

import (
	"errors"
	"fmt"
)

// Structural violations indicate programmer error, not domain data issues.
// They surface immediately as wrapped sentinels matched with errors.Is.
var (
	// ErrUnknownProperty reports an access to a property that was never defined.
	ErrUnknownProperty = errors.New("unknown property")
	// ErrReadOnly reports an assignment to a read-only property.
	ErrReadOnly = errors.New("property is read-only")
	// ErrValueType reports a typed read whose stored value has another type.
	ErrValueType = errors.New("property value has unexpected type")
	// ErrNilItem reports a nil item passed to a collection operation.
	ErrNilItem = errors.New("nil item")
	// ErrDuplicateItem reports inserting an item already present in the collection.
	ErrDuplicateItem = errors.New("item already in collection")
	// ErrNotInCollection reports removing an item the collection does not hold.
	ErrNotInCollection = errors.New("item not in collection")
	// ErrCrossAggregate reports inserting an item rooted in another aggregate.
	ErrCrossAggregate = errors.New("item belongs to another aggregate")
	// ErrAlreadyOwned reports adopting a child that another owner still holds.
	ErrAlreadyOwned = errors.New("item already has an owner")
	// ErrAdoptionCycle reports an adoption that would close a parent loop.
	ErrAdoptionCycle = errors.New("adoption would create a cycle")
	// ErrCascadeDepth reports a rule cascade exceeding the depth ceiling.
	ErrCascadeDepth = errors.New("rule cascade too deep")
	// ErrBusy reports initiating persistence while async work is in flight.
	ErrBusy = errors.New("entity is busy")
	// ErrChildSave reports initiating persistence on a non-root entity.
	ErrChildSave = errors.New("child entities cannot initiate their own save")
	// ErrNoFactory reports hydrating a collection constructed without an item factory.
	ErrNoFactory = errors.New("collection has no item factory")
	// ErrNotFound reports a missing aggregate in a repository.
	ErrNotFound = errors.New("aggregate not found")
)

// ValidationError is returned when persistence is blocked by error-severity
// messages somewhere in the aggregate. Messages carry subtree paths in their
// Property field, as produced by AggregateMessages.
type ValidationError struct {
	Messages []Message
}

func (e *ValidationError) Error() string {
	n := 0
	for _, m := range e.Messages {
		if m.Severity.affectsValidity() {
			n++
		}
	}
	return fmt.Sprintf("aggregate blocked by %d validation message(s)", n)
}
