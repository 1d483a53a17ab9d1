// Package datatest opens throwaway databases for tests of the packages built
// on top of data.
package datatest

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dcrodman/mcos/internal/core/data"
)

// Open creates a migrated SQLite database under the test's temp dir.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(
		sqlite.Open(filepath.Join(t.TempDir(), "test.db")),
		&gorm.Config{Logger: logger.Discard},
	)
	if err != nil {
		t.Fatalf("error initializing test database: %s", err)
	}
	if err := data.Migrate(db); err != nil {
		t.Fatalf("error auto migrating db: %s", err)
	}
	t.Cleanup(func() { _ = data.Close(db) })
	return db
}

// Customer creates a customer holding a ticket for contextID.
func Customer(t testing.TB, db *gorm.DB, username, contextID string) *data.Customer {
	t.Helper()

	customer := &data.Customer{Username: username, Password: data.HashPassword(username)}
	if err := data.CreateCustomer(db, customer); err != nil {
		t.Fatalf("error creating customer: %s", err)
	}
	if err := data.CreateTicket(db, &data.Ticket{ContextID: contextID, CustomerID: customer.ID}); err != nil {
		t.Fatalf("error creating ticket: %s", err)
	}
	return customer
}
