// Package analyzer replays packet captures of game traffic, splitting the TCP
// streams back into frames and dumping each one.
package analyzer

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/dcrodman/mcos/internal/core/client"
	"github.com/dcrodman/mcos/internal/core/debug"
	"github.com/dcrodman/mcos/internal/core/field"
	"github.com/dcrodman/mcos/internal/core/frame"
	"github.com/dcrodman/mcos/internal/packets"
)

// Analyzer reassembles the frames sent in each direction of every connection
// found in a capture. Segments are assumed to arrive in order.
type Analyzer struct {
	Writer io.Writer
	// Ports decides which service a connection belongs to. Nil means the
	// retail ports.
	Ports             client.PortTable
	TruncateThreshold int

	streams map[string]*stream
}

type stream struct {
	service    client.Service
	fromClient bool
	buf        []byte
}

// ReadPcap dumps every frame in a pcap file and returns how many it found.
func (a *Analyzer) ReadPcap(r io.Reader) (int, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("error reading capture: %w", err)
	}

	frames := 0
	source := gopacket.NewPacketSource(reader, reader.LinkType())
	for packet := range source.Packets() {
		frames += a.HandlePacket(packet)
	}
	return frames, nil
}

// HandlePacket feeds one captured packet into its stream and dumps any frames
// it completes.
func (a *Analyzer) HandlePacket(packet gopacket.Packet) int {
	tcp, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
	if !ok || len(tcp.Payload) == 0 || packet.NetworkLayer() == nil {
		return 0
	}

	fromClient, service := a.classify(int(tcp.SrcPort), int(tcp.DstPort))
	if service == client.ServiceUnknown {
		return 0
	}

	if a.streams == nil {
		a.streams = make(map[string]*stream)
	}
	key := packet.NetworkLayer().NetworkFlow().String() + " " + tcp.TransportFlow().String()
	s, ok := a.streams[key]
	if !ok {
		s = &stream{service: service, fromClient: fromClient}
		a.streams[key] = s
	}
	s.buf = append(s.buf, tcp.Payload...)

	frames := 0
	for {
		raw, ok := s.next()
		if !ok {
			break
		}
		a.emit(s, raw)
		frames++
	}
	return frames
}

// classify guesses the service from whichever end of the connection is a
// known server port and reports whether the client sent the segment.
func (a *Analyzer) classify(srcPort, dstPort int) (bool, client.Service) {
	ports := a.Ports
	if ports == nil {
		ports = client.DefaultPorts()
	}
	if service := ports.Classify(dstPort); service != client.ServiceUnknown {
		return true, service
	}
	return false, ports.Classify(srcPort)
}

// next pops one complete frame off the stream buffer.
func (s *stream) next() ([]byte, bool) {
	if len(s.buf) == 0 {
		return nil, false
	}
	if s.service == client.ServiceLobby && !s.fromClient && bytes.HasPrefix(s.buf, packets.OkToLogin) {
		raw := s.buf[:len(packets.OkToLogin)]
		s.buf = s.buf[len(packets.OkToLogin):]
		return raw, true
	}

	r := bytes.NewReader(s.buf)
	raw, err := frame.Read(r, s.service.FrameKind())
	switch {
	case err == nil:
		s.buf = s.buf[len(s.buf)-r.Len():]
		return raw, true
	case errors.Is(err, field.ErrTruncatedBuffer):
		// The length can't be trusted, so nothing after it can be framed.
		s.buf = nil
	}
	return nil, false
}

func (a *Analyzer) emit(s *stream, raw []byte) {
	var opcode uint16
	if s.service.FrameKind() == frame.KindServer {
		if f, err := frame.DecodeServer(raw, nil); err == nil {
			opcode = f.Opcode()
		}
	} else if len(raw) >= 2 {
		opcode = uint16(raw[0])<<8 | uint16(raw[1])
	}

	debug.PrintPacket(debug.PrintPacketParams{
		Writer:            a.Writer,
		Service:           s.service.String(),
		ClientPacket:      s.fromClient,
		Name:              packets.Name(opcode, s.service.FrameKind() == frame.KindServer),
		Opcode:            opcode,
		Data:              raw,
		TruncateThreshold: a.TruncateThreshold,
	})
}
