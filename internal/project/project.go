// Package project holds the tenant's workspace data: projects, members, and
// the income/expense entries booked against projects. Projects and members
// are the countable resources governed by plan ceilings.
package project

import (
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrProjectNotFound = errors.New("project: not found")
	ErrEntryInvalid    = errors.New("project: invalid entry")
)

// Project is a unit of work a tenant tracks money against.
type Project struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Member is a person belonging to a tenant's workspace.
type Member struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	EntryIncome  EntryKind = "income"
	EntryExpense EntryKind = "expense"
)

// Valid reports whether the kind is one of the known classifications.
func (k EntryKind) Valid() bool {
	return k == EntryIncome || k == EntryExpense
}

// Entry is an append-only income or expense row booked against a project.
// Amounts are minor units (cents, grosze) in the entry's own currency;
// normalization to the reporting currency happens at read time.
type Entry struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	ProjectID   string    `json:"projectId"`
	Kind        EntryKind `json:"kind"`
	AmountCents int64     `json:"amountCents"`
	Currency    string    `json:"currency"`
	Description string    `json:"description,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Validate checks an entry before it enters the ledger.
func (e *Entry) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: kind must be %q or %q", ErrEntryInvalid, EntryIncome, EntryExpense)
	}
	if e.AmountCents <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrEntryInvalid)
	}
	if len(e.Currency) != 3 {
		return fmt.Errorf("%w: currency must be a three-letter code", ErrEntryInvalid)
	}
	return nil
}
