// Package auth validates the tickets customers log in with and keeps track of
// the session keys they negotiate.
package auth

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/dcrodman/mcos/internal/core/data"
)

var (
	ErrUnknown        = errors.New("an unexpected error occurred, please contact your server administrator")
	ErrInvalidTicket  = errors.New("ticket not found")
	ErrCustomerBanned = errors.New("this account has been suspended")
	ErrNoSessionKey   = errors.New("no session key for customer")
)

// Swapped out in tests.
var (
	findTicket     = data.FindTicket
	findCustomer   = data.FindCustomerByID
	createCustomer = data.CreateCustomer
	createTicket   = data.CreateTicket
	findSessionKey = data.FindSessionKey
	saveSessionKey = data.SaveSessionKey
)

// VerifyTicket resolves the context id a client presented to the customer it
// was issued for and checks that the customer may log in.
func VerifyTicket(db *gorm.DB, contextID string) (*data.Customer, error) {
	ticket, err := findTicket(db, contextID)
	if err != nil {
		return nil, fmt.Errorf("%w: finding ticket: %v", ErrUnknown, err)
	}
	if ticket == nil {
		return nil, ErrInvalidTicket
	}

	customer, err := findCustomer(db, ticket.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("%w: finding customer: %v", ErrUnknown, err)
	}
	if customer == nil {
		return nil, ErrInvalidTicket
	} else if customer.Banned {
		return nil, ErrCustomerBanned
	}

	return customer, nil
}

// CreateCustomer registers a new customer and, if contextID is set, issues it
// a ticket to log in with.
func CreateCustomer(db *gorm.DB, username, password, contextID string) (*data.Customer, error) {
	customer := &data.Customer{
		Username: username,
		Password: data.HashPassword(password),
	}
	if err := createCustomer(db, customer); err != nil {
		return nil, err
	}

	if contextID != "" {
		ticket := &data.Ticket{ContextID: contextID, CustomerID: customer.ID}
		if err := createTicket(db, ticket); err != nil {
			return nil, fmt.Errorf("issuing ticket: %w", err)
		}
	}

	return customer, nil
}
