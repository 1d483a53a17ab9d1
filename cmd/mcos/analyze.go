package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dcrodman/mcos/internal/analyzer"
	"github.com/dcrodman/mcos/internal/core"
	"github.com/dcrodman/mcos/internal/core/client"
)

const truncatePacketLimit = 64

var TruncateFlag bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze <capture.pcap>",
	Short: "Dumps the game frames found in a packet capture",
	Args:  cobra.ExactArgs(1),
	Run:   AnalyzeCommand,
}

func AnalyzeCommand(cmd *cobra.Command, args []string) {
	f, err := os.Open(args[0])
	if err != nil {
		fmt.Println("error opening capture:", err)
		os.Exit(1)
	}
	defer f.Close()

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()

	a := &analyzer.Analyzer{Writer: w}
	// Use the configured ports when there is a config to read them from.
	if config, err := core.LoadConfig(ConfigFlag); err == nil {
		a.Ports = client.PortTable{
			config.Ports.Login:        client.ServiceLogin,
			config.Ports.Chat:         client.ServiceChat,
			config.Ports.Persona:      client.ServicePersona,
			config.Ports.Lobby:        client.ServiceLobby,
			config.Ports.Transactions: client.ServiceTransactions,
		}
	}
	if TruncateFlag {
		a.TruncateThreshold = truncatePacketLimit
	}

	n, err := a.ReadPcap(bufio.NewReader(f))
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	fmt.Fprintf(w, "%d frames\n", n)
}
