package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dcrodman/mcos/internal/core/data"
	"github.com/dcrodman/mcos/internal/persona"
)

var personaCmd = &cobra.Command{
	Use:   "persona",
	Short: "Persona management tools",
}

var personaAddCmd = &cobra.Command{
	Use:   "add [username] [name]",
	Short: "Creates a persona for an existing customer",
	Run:   PersonaAddCommand,
}

func PersonaAddCommand(cmd *cobra.Command, args []string) {
	db := initDB()
	defer data.Close(db)

	username, args := popArg(args, "Username")
	name, _ := popArg(args, "Persona name")

	customer, err := data.FindCustomerByUsername(db, username)
	if err != nil {
		fmt.Println("error finding customer:", err)
		return
	} else if customer == nil {
		fmt.Printf("no customer named '%s'\n", username)
		return
	}

	if !persona.ValidName(name) {
		fmt.Printf("'%s' is not a valid persona name\n", name)
		return
	}
	normalized := persona.NormalizeName(name)
	if existing, err := data.FindPersonaByName(db, normalized); err != nil {
		fmt.Println("error finding persona:", err)
		return
	} else if existing != nil {
		fmt.Printf("persona '%s' is taken\n", name)
		return
	}

	p := &data.Persona{CustomerID: customer.ID, Name: name, NormalizedName: normalized}
	if err := data.CreatePersona(db, p); err != nil {
		fmt.Println("error creating persona:", err)
		return
	}
	fmt.Printf("created persona '%s' (ID: %d) for %s\n", p.Name, p.ID, customer.Username)
}
