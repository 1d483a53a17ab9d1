package internal

import (
	"context"
	"crypto/rsa"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/dcrodman/mcos/internal/chat"
	"github.com/dcrodman/mcos/internal/core"
	"github.com/dcrodman/mcos/internal/core/auth"
	"github.com/dcrodman/mcos/internal/core/client"
	"github.com/dcrodman/mcos/internal/core/data"
	"github.com/dcrodman/mcos/internal/core/debug"
	"github.com/dcrodman/mcos/internal/core/encryption"
	"github.com/dcrodman/mcos/internal/dispatch"
	"github.com/dcrodman/mcos/internal/lobby"
	"github.com/dcrodman/mcos/internal/login"
	"github.com/dcrodman/mcos/internal/persona"
	"github.com/dcrodman/mcos/internal/transactions"
)

// Controller is the main entrypoint for the server. It's responsible for
// initializing any shared resources (database, logging, encryption sessions
// and the connection registry), defining the servers, and launching everything.
type Controller struct {
	Config *core.Config

	logger     *logrus.Logger
	wg         sync.WaitGroup
	db         *gorm.DB
	privateKey *rsa.PrivateKey
	dispatcher *dispatch.Dispatcher
	servers    []*frontend
}

// Start blocks until ctx is cancelled and every server has shut down.
func (c *Controller) Start(ctx context.Context) error {
	defer c.Shutdown()
	// Stops any servers already running if a later one fails to start.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var err error
	// Set up the logger, which will be used by all sub-servers.
	if c.logger, err = core.NewLogger(c.Config); err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}

	// Start any debug utilities if we're configured to do so.
	if c.Config.Debugging.PprofEnabled {
		debug.StartPprofServer(c.logger, c.Config.Debugging.PprofPort)
	}

	if c.db, err = data.Open(c.Config); err != nil {
		return err
	}
	if c.privateKey, err = encryption.LoadPrivateKey(c.Config.QualifiedPath(c.Config.PrivateKeyFile)); err != nil {
		return err
	}

	// Configure and run all of our servers.
	c.declareServers()
	return c.run(ctx)
}

// portTable maps the configured ports to the services listening on them.
func (c *Controller) portTable() client.PortTable {
	return client.PortTable{
		c.Config.Ports.Login:        client.ServiceLogin,
		c.Config.Ports.Chat:         client.ServiceChat,
		c.Config.Ports.Persona:      client.ServicePersona,
		c.Config.Ports.Lobby:        client.ServiceLobby,
		c.Config.Ports.Transactions: client.ServiceTransactions,
	}
}

// Set up all of the servers we want to run.
func (c *Controller) declareServers() {
	ports := c.portTable()
	registry := client.NewRegistry(ports)
	sessions := encryption.NewManager(c.privateKey)
	keys := auth.NewKeyStore(c.db)

	c.dispatcher = dispatch.New(registry, sessions, c.logger)
	if c.Config.Debugging.PacketLoggingEnabled {
		c.dispatcher.PacketWriter = os.Stdout
	}

	backends := []Backend{
		&login.Server{
			Name:     "LOGIN",
			Config:   c.Config,
			Logger:   c.logger,
			DB:       c.db,
			Sessions: sessions,
			Registry: registry,
			Keys:     keys,
		},
		&chat.Server{
			Name:     "CHAT",
			Config:   c.Config,
			Logger:   c.logger,
			Registry: registry,
		},
		&persona.Server{
			Name:     "PERSONA",
			Config:   c.Config,
			Logger:   c.logger,
			DB:       c.db,
			Registry: registry,
		},
		&lobby.Server{
			Name:     "LOBBY",
			Config:   c.Config,
			Logger:   c.logger,
			DB:       c.db,
			Sessions: sessions,
			Registry: registry,
			Keys:     keys,
		},
		&transactions.Server{
			Name:     "MCOTS",
			Config:   c.Config,
			Logger:   c.logger,
			DB:       c.db,
			Sessions: sessions,
			Registry: registry,
			Keys:     keys,
		},
	}

	c.servers = nil
	for _, backend := range backends {
		service := backend.Routes().Service
		c.servers = append(c.servers, &frontend{
			Address: c.Config.ListenAddress(ports.Port(service)),
			Backend: backend,
		})
	}
}

func (c *Controller) run(ctx context.Context) error {
	// Start all of our servers. Failure to initialize one of the registered servers is considered terminal.
	for _, server := range c.servers {
		server.Config = c.Config
		server.Logger = c.logger
		server.Dispatcher = c.dispatcher

		if err := server.Start(ctx, &c.wg); err != nil {
			return fmt.Errorf("error starting %s server: %w", server.Backend.Identifier(), err)
		}
	}

	c.wg.Wait()
	return nil
}

// Shutdown waits for the servers to stop and releases the database.
func (c *Controller) Shutdown() {
	c.wg.Wait()
	if c.db != nil {
		if err := data.Close(c.db); err != nil && c.logger != nil {
			c.logger.Warnf("error closing database: %v", err)
		}
	}
}
