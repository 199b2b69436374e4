package empi

import "errors"

var (
	// Not-found class: surfaced to the caller, never retried.
	ErrIdentityNotFound = errors.New("master identity not found")
	ErrAliasNotFound    = errors.New("alias not found")

	// Conflict / business-rule class.
	ErrAliasConflict     = errors.New("alias already claimed by another identity")
	ErrDuplicateAlias    = errors.New("alias already registered")
	ErrOrphanedAlias     = errors.New("alias record has no owning identity")
	ErrIdentityNotActive = errors.New("identity is not active")
	ErrInvalidInput      = errors.New("invalid input")

	// Unrecoverable-state class: operational fault, not a client error.
	ErrIdentifierExhausted = errors.New("identifier generation attempts exhausted")
)

// Persistence-time race signals. Never surfaced as-is: the service
// either retries with a fresh candidate or re-reads the winner.
var (
	errEMPINumberTaken = errors.New("empi number already assigned")
	errPatientRefTaken = errors.New("patient reference already linked")
)
