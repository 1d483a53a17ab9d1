package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var ConfigFlag string

func main() {
	rootCmd := &cobra.Command{
		Use:   "mcos",
		Short: "Motor City Online server and related tools",
		Run:   ServerCommand,
	}
	rootCmd.PersistentFlags().StringVarP(&ConfigFlag, "config", "c", "./", "Path to the server config/data directory")

	customerCmd.AddCommand(customerAddCmd)
	customerCmd.AddCommand(customerDeleteCmd)
	customerAddCmd.Flags().StringVarP(&TicketFlag, "ticket", "t", "", "Context id to issue the customer (generated when empty)")

	personaCmd.AddCommand(personaAddCmd)

	keygenCmd.Flags().IntVarP(&KeyBitsFlag, "bits", "b", 1024, "Size of the RSA key")
	keygenCmd.Flags().BoolVarP(&ForceFlag, "force", "f", false, "Overwrite an existing key")

	analyzeCmd.Flags().BoolVar(&TruncateFlag, "truncate", false, "Only dump the first bytes of each frame")

	rootCmd.AddCommand(customerCmd)
	rootCmd.AddCommand(personaCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(analyzeCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
