package main

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dcrodman/mcos/internal/core"
	"github.com/dcrodman/mcos/internal/core/encryption"
)

var (
	KeyBitsFlag int
	ForceFlag   bool
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generates the RSA key the login server opens session keys with",
	Run:   KeygenCommand,
}

func KeygenCommand(cmd *cobra.Command, args []string) {
	config, err := core.LoadConfig(ConfigFlag)
	if err != nil {
		fmt.Println("error loading config:", err)
		os.Exit(1)
	}
	path := config.QualifiedPath(config.PrivateKeyFile)

	if _, err := os.Stat(path); err == nil && !ForceFlag {
		fmt.Printf("%s already exists; pass --force to replace it\n", path)
		os.Exit(1)
	}

	key, err := rsa.GenerateKey(rand.Reader, KeyBitsFlag)
	if err != nil {
		fmt.Printf("error generating RSA key: %s\n", err.Error())
		os.Exit(1)
	}
	if err := encryption.WritePrivateKey(path, key); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s\n", path)
}
