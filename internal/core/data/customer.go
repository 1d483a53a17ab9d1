package data

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Customer is a registered account. Its ID is the customer id carried in
// login and persona frames.
type Customer struct {
	ID        uint32 `gorm:"primaryKey"`
	Username  string `gorm:"unique; not null"`
	Password  string `gorm:"not null"`
	Banned    bool   `gorm:"default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt
}

// Ticket is the context id handed out by the authentication web service. The
// client presents it to the login server in place of a password.
type Ticket struct {
	ContextID  string `gorm:"primaryKey"`
	CustomerID uint32 `gorm:"index; not null"`
	CreatedAt  time.Time
}

// SessionKey is the most recent symmetric key a customer negotiated with the
// login server. The lobby and transaction servers load it to key their own
// connections.
type SessionKey struct {
	CustomerID   uint32 `gorm:"primaryKey"`
	Key          string `gorm:"not null"`
	ConnectionID uint32
	UpdatedAt    time.Time
}

// HashPassword returns the stored form of a password.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// FindCustomerByID returns the customer or nil if there is no match.
func FindCustomerByID(db *gorm.DB, id uint32) (*Customer, error) {
	var customer Customer
	err := db.First(&customer, id).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &customer, nil
}

// FindCustomerByUsername searches for a customer with the specified username, returning the
// *Customer instance if found or nil if there is no match.
func FindCustomerByUsername(db *gorm.DB, username string) (*Customer, error) {
	var customer Customer
	err := db.Where("username = ?", username).First(&customer).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &customer, nil
}

// CreateCustomer persists the Customer record to the database.
func CreateCustomer(db *gorm.DB, customer *Customer) error {
	return db.Create(customer).Error
}

// DeleteCustomer soft-deletes a Customer record from the database.
func DeleteCustomer(db *gorm.DB, customer *Customer) error {
	return db.Delete(customer).Error
}

// CreateTicket records a context id for the customer.
func CreateTicket(db *gorm.DB, ticket *Ticket) error {
	return db.Create(ticket).Error
}

// FindTicket returns the ticket for a context id or nil if it was never issued.
func FindTicket(db *gorm.DB, contextID string) (*Ticket, error) {
	var ticket Ticket
	err := db.Where("context_id = ?", contextID).First(&ticket).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &ticket, nil
}

// SaveSessionKey stores key as the customer's current session key, replacing
// any earlier one.
func SaveSessionKey(db *gorm.DB, key *SessionKey) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "customer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"key", "connection_id", "updated_at"}),
	}).Create(key).Error
}

// FindSessionKey returns the customer's current session key or nil.
func FindSessionKey(db *gorm.DB, customerID uint32) (*SessionKey, error) {
	var key SessionKey
	err := db.Where("customer_id = ?", customerID).First(&key).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &key, nil
}
