package debug

import (
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
)

// PrintPacketParams describes one frame to be dumped.
type PrintPacketParams struct {
	Writer io.Writer
	// Service the frame was exchanged with, e.g. "lobby".
	Service string
	// True if the frame was sent by the client.
	ClientPacket bool
	// Printable name of the opcode.
	Name   string
	Opcode uint16
	Data   []byte
	// Only print the first TruncateThreshold bytes if it is non-zero.
	TruncateThreshold int
}

var dumper = spew.ConfigState{Indent: "  ", DisableCapacities: true}

// PrintPacket writes a header line and a hex dump of the frame to the writer.
func PrintPacket(params PrintPacketParams) {
	direction := "server -> client"
	if params.ClientPacket {
		direction = "client -> server"
	}

	data := params.Data
	if params.TruncateThreshold > 0 && len(data) > params.TruncateThreshold {
		data = data[:params.TruncateThreshold]
	}

	fmt.Fprintf(params.Writer, "[%s] %s %s (%#04x) %d bytes\n",
		params.Service, direction, params.Name, params.Opcode, len(params.Data))
	dumper.Fdump(params.Writer, data)
	fmt.Fprintln(params.Writer)
}

// StartPprofServer starts the default pprof HTTP server that can be accessed via localhost
// to get runtime information about the server. See https://golang.org/pkg/net/http/pprof/
func StartPprofServer(logger *logrus.Logger, port int) {
	listenerAddr := fmt.Sprintf("localhost:%d", port)
	logger.Infof("starting pprof server on %s", listenerAddr)

	go func() {
		if err := http.ListenAndServe(listenerAddr, nil); err != nil {
			logger.Infof("error starting pprof server: %s", err)
		}
	}()
}
