package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/mcos/internal/core"
	"github.com/dcrodman/mcos/internal/core/client"
	"github.com/dcrodman/mcos/internal/core/frame"
	"github.com/dcrodman/mcos/internal/dispatch"
)

// How long the accept loop backs off while the server is at capacity.
var capacityBackoff = 10 * time.Second

// frontend implements the concurrent client connection logic.
//
// Frames are read from any connected clients and handed to the dispatcher,
// abstracting the lower level connection details away from the Backends.
type frontend struct {
	Address    string
	Backend    Backend
	Config     *core.Config
	Logger     *logrus.Logger
	Dispatcher *dispatch.Dispatcher

	socket *net.TCPListener
}

// Start initializes the server backend, registers its routes and opens a TCP
// socket for it. A blocking loop for accepting client connections is spun off
// in its own goroutine and added to the WaitGroup. Context cancellations will
// stop the server.
func (f *frontend) Start(ctx context.Context, wg *sync.WaitGroup) error {
	if err := f.Backend.Init(ctx); err != nil {
		return fmt.Errorf("error initializing %s server: %v", f.Backend.Identifier(), err)
	}
	f.Dispatcher.Register(f.Backend.Routes())

	socket, err := f.createSocket()
	if err != nil {
		return fmt.Errorf("error creating socket on %s: %v", f.Address, err)
	}
	f.socket = socket

	wg.Add(1)
	go f.startBlockingLoop(ctx, socket, wg)

	return nil
}

// createSocket opens a TCP socket to listen for client connections on the Address
// provided to the frontend.
func (f *frontend) createSocket() (*net.TCPListener, error) {
	hostAddr, err := net.ResolveTCPAddr("tcp", f.Address)
	if err != nil {
		return nil, fmt.Errorf("error resolving address %s", err.Error())
	}

	socket, err := net.ListenTCP("tcp", hostAddr)
	if err != nil {
		return nil, fmt.Errorf("error listening on socket: %s", err.Error())
	}

	return socket, nil
}

// startBlockingLoop implements a connection handling loop that's purely responsible for
// accepting new connections and spinning off goroutines to serve them.
func (f *frontend) startBlockingLoop(ctx context.Context, socket *net.TCPListener, wg *sync.WaitGroup) {
	defer wg.Done()

	f.Logger.Printf("[%s] waiting for connections on %v", f.Backend.Identifier(), socket.Addr())

	connections := make(chan *net.TCPConn)
	go func() {
		for {
			// Poll until we can accept more clients.
			for f.Config.MaxConnections > 0 && f.Dispatcher.Registry.Len() >= f.Config.MaxConnections {
				select {
				case <-ctx.Done():
					return
				case <-time.After(capacityBackoff):
				}
			}

			connection, err := socket.AcceptTCP()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				f.Logger.Warnf("failed to accept connection: %s", err.Error())
				continue
			}

			select {
			case connections <- connection:
			case <-ctx.Done():
				_ = connection.Close()
				return
			}
		}
	}()

	clientWg := &sync.WaitGroup{}
handleLoop:
	for {
		select {
		case <-ctx.Done():
			break handleLoop
		case connection := <-connections:
			clientWg.Add(1)
			go f.acceptClient(ctx, connection, clientWg)
		}
	}

	f.Logger.Infof("[%v] shutting down (waiting for connections to close)", f.Backend.Identifier())
	_ = socket.Close()
	clientWg.Wait()
	f.Logger.Infof("[%v] exited", f.Backend.Identifier())
}

// acceptClient registers the connection and, once any greeting has been sent,
// moves into the frame processing loop.
func (f *frontend) acceptClient(ctx context.Context, connection *net.TCPConn, wg *sync.WaitGroup) {
	defer wg.Done()

	c, err := f.Dispatcher.Connect(connection)
	if err != nil {
		f.Logger.Errorf("[%s] failed to greet %s: %s", f.Backend.Identifier(), c.IPAddr(), err)
		f.closeConnectionAndRecover(f.Backend.Identifier(), c)
		return
	}
	f.Logger.Infof("[%s] accepted connection %d from %s", f.Backend.Identifier(), c.ID, c.IPAddr())

	f.processPackets(ctx, c)
}

// processPackets starts a blocking loop dedicated to reading frames sent from
// a game client and only returns once the connection has closed.
func (f *frontend) processPackets(ctx context.Context, c *client.Connection) {
	defer f.closeConnectionAndRecover(f.Backend.Identifier(), c)

	// Unblock the read below when the server shuts down.
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	logger := f.Logger.WithFields(logrus.Fields(c.DebugTags))
	for {
		raw, err := frame.Read(c, c.Service.FrameKind())
		if errors.Is(err, io.EOF) {
			return
		} else if err != nil {
			if ctx.Err() == nil {
				logger.Warnf("error reading from %s: %s", c.IPAddr(), err)
			}
			return
		}

		err = f.Dispatcher.Dispatch(ctx, c, raw)
		switch dispatch.Action(err) {
		case dispatch.Continue:
		case dispatch.DropFrame:
			logger.Warnf("dropped frame: %s", err)
		default:
			logger.Warn("error in client communication: " + err.Error())
			return
		}
	}
}

// closeConnectionAndRecover is the failsafe that catches any panics, disconnects the
// client, and forgets it regardless of the state of the connection.
func (f *frontend) closeConnectionAndRecover(serverName string, c *client.Connection) {
	if err := recover(); err != nil {
		f.Logger.Errorf("error in client communication with %s: error=%s, trace: %s",
			c.IPAddr(), err, debug.Stack())
	}

	f.Dispatcher.Disconnect(c.ID)
	if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		f.Logger.Warnf("failed to close client connection: %s", err)
	}

	f.Logger.Infof("[%s] disconnected client %s", serverName, c.IPAddr())
}
