package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/dcrodman/mcos/internal/core"
	"github.com/dcrodman/mcos/internal/core/auth"
	"github.com/dcrodman/mcos/internal/core/data"
)

var TicketFlag string

var customerCmd = &cobra.Command{
	Use:   "customer",
	Short: "Customer management tools",
}

var customerAddCmd = &cobra.Command{
	Use:   "add [username] [password]",
	Short: "Registers a new customer and issues it a login ticket",
	Run:   CustomerAddCommand,
}

var customerDeleteCmd = &cobra.Command{
	Use:   "delete [username]",
	Short: "Deletes a customer from the database",
	Run:   CustomerDeleteCommand,
}

func initDB() *gorm.DB {
	config, err := core.LoadConfig(ConfigFlag)
	if err != nil {
		fmt.Println("error loading config:", err)
		os.Exit(1)
	}
	db, err := data.Open(config)
	if err != nil {
		fmt.Println("error connecting to database:", err.Error())
		os.Exit(1)
	}
	return db
}

func CustomerAddCommand(cmd *cobra.Command, args []string) {
	db := initDB()
	defer data.Close(db)

	username, args := popArg(args, "Username")
	password, _ := popArg(args, "Password")
	username = strings.TrimSpace(username)

	existing, err := data.FindCustomerByUsername(db, username)
	if err != nil {
		fmt.Println("error finding customer:", err)
		return
	} else if existing != nil {
		fmt.Printf("customer '%s' already exists; skipping\n", username)
		return
	}

	ticket := TicketFlag
	if ticket == "" {
		if ticket, err = newContextID(); err != nil {
			fmt.Println("error generating ticket:", err)
			return
		}
	}

	customer, err := auth.CreateCustomer(db, username, password, ticket)
	if err != nil {
		fmt.Println("error creating customer:", err)
		return
	}
	fmt.Printf("created customer '%s' (ID: %d) with ticket %s\n", customer.Username, customer.ID, ticket)
}

func CustomerDeleteCommand(cmd *cobra.Command, args []string) {
	db := initDB()
	defer data.Close(db)

	username, _ := popArg(args, "Username")
	customer, err := data.FindCustomerByUsername(db, username)
	if err != nil {
		fmt.Println("error finding customer:", err)
		return
	} else if customer == nil {
		fmt.Printf("no customer named '%s'\n", username)
		return
	}

	if err := data.DeleteCustomer(db, customer); err != nil {
		fmt.Println("error deleting customer:", err)
		return
	}
	fmt.Println("deleted customer")
}

// newContextID returns a ticket in the same form the authentication web
// service hands out.
func newContextID() (string, error) {
	b := make([]byte, 17)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func popArg(args []string, prompt string) (string, []string) {
	if len(args) == 1 {
		return args[0], nil
	} else if len(args) > 1 {
		return args[0], args[1:]
	}

	fmt.Printf("%s: ", prompt)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	return scanner.Text(), args
}
