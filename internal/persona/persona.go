package persona

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"gorm.io/gorm"

	"github.com/dcrodman/mcos/internal/core"
	"github.com/dcrodman/mcos/internal/core/cache"
	"github.com/dcrodman/mcos/internal/core/client"
	"github.com/dcrodman/mcos/internal/core/data"
	"github.com/dcrodman/mcos/internal/core/field"
	"github.com/dcrodman/mcos/internal/core/frame"
	"github.com/dcrodman/mcos/internal/dispatch"
	"github.com/dcrodman/mcos/internal/packets"
)

const (
	minNameLength = 3
	maxNameLength = 16

	personaCacheTTL = 5 * time.Minute
)

// Server is the PERSONA server implementation. It lists the personas a
// customer owns and checks new persona names before the client creates them.
type Server struct {
	Name     string
	Config   *core.Config
	Logger   *logrus.Logger
	DB       *gorm.DB
	Registry *client.Registry

	personaCache *cache.Cache
}

func (s *Server) Identifier() string {
	return s.Name
}

func (s *Server) Init(_ context.Context) error {
	if s.DB == nil {
		return fmt.Errorf("%s: no database configured", s.Name)
	}
	s.personaCache = cache.New()
	return nil
}

func (s *Server) Routes() dispatch.Routes {
	return dispatch.Routes{
		Service: client.ServicePersona,
		Outer: map[uint16]dispatch.Route{
			packets.GameLoginType:           {Layout: packets.GameLogin, Handler: s.handleGameLogin},
			packets.GameLogoutType:          {Layout: packets.GameLogout, Handler: s.handleGameLogout},
			packets.GetPersonaMapsType:      {Layout: packets.GetPersonaMaps, Handler: s.handleGetPersonaMaps},
			packets.ValidatePersonaNameType: {Layout: packets.ValidatePersonaName, Handler: s.handleValidatePersonaName},
			packets.HeartbeatType:           {Layout: packets.Heartbeat, Handler: dispatch.Ignore},
		},
	}
}

// NormalizeName returns the form persona names are compared in, so that names
// differing only in case collide.
func NormalizeName(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// ValidName reports whether name may be used for a new persona.
func ValidName(name string) bool {
	if n := utf8.RuneCountInString(name); n < minNameLength || n > maxNameLength {
		return false
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' {
			return false
		}
	}
	return true
}

func (s *Server) handleGameLogin(_ context.Context, connID uint32, f *frame.Frame) ([]*frame.Frame, error) {
	customerID, err := f.Uint("CustomerId")
	if err != nil {
		return nil, err
	}
	if c, ok := s.Registry.Get(connID); ok {
		c.SetCustomerID(customerID)
	}
	return []*frame.Frame{ack(f)}, nil
}

func (s *Server) handleGameLogout(_ context.Context, connID uint32, f *frame.Frame) ([]*frame.Frame, error) {
	customerID, err := s.customerID(connID, f)
	if err != nil {
		return nil, err
	}
	s.personaCache.Delete(cacheKey(customerID))
	s.Logger.Debugf("customer %d logged out of connection %d", customerID, connID)
	return []*frame.Frame{ack(f)}, nil
}

func (s *Server) handleGetPersonaMaps(_ context.Context, connID uint32, f *frame.Frame) ([]*frame.Frame, error) {
	customerID, err := s.customerID(connID, f)
	if err != nil {
		return nil, err
	}
	personas, err := s.personas(customerID)
	if err != nil {
		return nil, err
	}

	var entries []byte
	for _, p := range personas {
		entry := field.MustNew(packets.PersonaMapsEntry, []field.Field{
			field.MustNew(packets.PersonaMapsEntry.Children[0], p.ID),
			field.MustNew(packets.PersonaMapsEntry.Children[1], p.ShardID),
			field.MustNew(packets.PersonaMapsEntry.Children[2], p.Name),
		})
		entries = append(entries, entry.Encode()...)
	}

	resp := frame.New(packets.PersonaMapsType, f.Header.Version, packets.PersonaMaps).
		MustSet("CustomerId", customerID).
		MustSet("Count", len(personas))
	if err := resp.SetField("Personas", entries); err != nil {
		return nil, fmt.Errorf("listing %d personas: %w", len(personas), err)
	}
	return []*frame.Frame{resp}, nil
}

func (s *Server) handleValidatePersonaName(_ context.Context, _ uint32, f *frame.Frame) ([]*frame.Frame, error) {
	name, err := f.Field("Name")
	if err != nil {
		return nil, err
	}

	if !ValidName(name.String()) {
		return []*frame.Frame{nameInvalid(f, packets.NameMalformed)}, nil
	}
	existing, err := data.FindPersonaByName(s.DB, NormalizeName(name.String()))
	if err != nil {
		return nil, fmt.Errorf("looking up persona name: %w", err)
	}
	if existing != nil {
		return []*frame.Frame{nameInvalid(f, packets.NameTaken)}, nil
	}

	resp := frame.New(packets.PersonaNameValidType, f.Header.Version, packets.PersonaNameValid).
		MustSet("Name", name.String())
	return []*frame.Frame{resp}, nil
}

// personas returns the customer's personas, from the cache when possible.
func (s *Server) personas(customerID uint32) ([]data.Persona, error) {
	if v, ok := s.personaCache.Get(cacheKey(customerID)); ok {
		return v.([]data.Persona), nil
	}
	personas, err := data.FindPersonasByCustomer(s.DB, customerID)
	if err != nil {
		return nil, fmt.Errorf("finding personas for customer %d: %w", customerID, err)
	}
	s.personaCache.Put(cacheKey(customerID), personas, personaCacheTTL)
	return personas, nil
}

// customerID reads the customer from the frame, falling back to the one that
// logged in on the connection when the client sent a bare header.
func (s *Server) customerID(connID uint32, f *frame.Frame) (uint32, error) {
	customerID, err := f.Uint("CustomerId")
	if errors.Is(err, frame.ErrFieldNotFound) {
		if c, ok := s.Registry.Get(connID); ok && c.CustomerID() != 0 {
			return c.CustomerID(), nil
		}
	}
	return customerID, err
}

func ack(req *frame.Frame) *frame.Frame {
	return frame.New(packets.AckType, req.Header.Version, packets.Ack).
		MustSet("Opcode", req.Opcode()).
		MustSet("Result", packets.ResultOK)
}

func nameInvalid(req *frame.Frame, reason uint32) *frame.Frame {
	return frame.New(packets.PersonaNameInvalidType, req.Header.Version, packets.PersonaNameInvalid).
		MustSet("Reason", reason)
}

func cacheKey(customerID uint32) string {
	return strconv.FormatUint(uint64(customerID), 10)
}
