package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smukkama/geofence-server/internal/connection"
	"github.com/smukkama/geofence-server/internal/domain"
	"github.com/smukkama/geofence-server/internal/engine"
	"github.com/smukkama/geofence-server/internal/metrics"
	"github.com/smukkama/geofence-server/internal/protocol"
	"github.com/smukkama/geofence-server/internal/timer"
	"github.com/smukkama/geofence-server/pkg/config"
)

// LocationReporter resolves vehicles and accepts their location reports.
// *engine.Engine implements it.
type LocationReporter interface {
	Vehicle(ctx context.Context, id string) (*domain.Vehicle, error)
	ReportLocation(ctx context.Context, report domain.LocationReport) (*engine.LocationResult, error)
}

// TCPServer accepts tracker connections and feeds their fixes to the engine
type TCPServer struct {
	config      *config.TCPServerConfig
	connManager *connection.Manager
	scheduler   *timer.Scheduler
	reporter    LocationReporter
	listener    net.Listener

	conns sync.Map // connection_id -> net.Conn, including unidentified

	wg     sync.WaitGroup
	stopCh chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// NewTCPServer creates a new TCP server
func NewTCPServer(cfg *config.TCPServerConfig, connManager *connection.Manager, scheduler *timer.Scheduler, reporter LocationReporter) *TCPServer {
	ctx, cancel := context.WithCancel(context.Background())
	return &TCPServer{
		config:      cfg,
		connManager: connManager,
		scheduler:   scheduler,
		reporter:    reporter,
		stopCh:      make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the TCP server
func (s *TCPServer) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP server: %w", err)
	}

	s.listener = listener
	fmt.Printf("TCP tracker server listening on %s\n", listener.Addr())

	s.wg.Add(1)
	go s.acceptConnections()

	return nil
}

// Addr returns the listening address once started
func (s *TCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every connection, then waits for handlers
func (s *TCPServer) Stop() {
	close(s.stopCh)
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}
	s.conns.Range(func(_, v any) bool {
		v.(net.Conn).Close()
		return true
	})

	s.wg.Wait()
	fmt.Println("TCP tracker server stopped")
}

func (s *TCPServer) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				fmt.Printf("Failed to accept connection: %v\n", err)
				continue
			}
		}

		if s.connManager.Count() >= s.config.MaxConnections {
			fmt.Println("Maximum connections reached, rejecting connection")
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func identifyTimerID(connectionID string) string   { return "identify-" + connectionID }
func inactivityTimerID(connectionID string) string { return "inactivity-" + connectionID }

func (s *TCPServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	connectionID := uuid.New().String()
	s.conns.Store(connectionID, conn)
	defer s.conns.Delete(connectionID)

	// The identify timer closes the socket, which unblocks the read below.
	_ = s.scheduler.Schedule(identifyTimerID(connectionID), time.Now().Add(s.config.IdentifyTimeout), func() {
		fmt.Printf("Identify timeout for connection %s\n", connectionID)
		conn.Close()
	})

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	s.scheduler.Cancel(identifyTimerID(connectionID))
	if err != nil {
		fmt.Printf("Failed to read identify message from %s: %v\n", conn.RemoteAddr(), err)
		return
	}

	msg, err := protocol.ParseMessage(line)
	if err != nil {
		s.sendMessage(conn, protocol.NewErrorAck(err))
		return
	}
	identifyMsg, ok := msg.(*protocol.IdentifyMessage)
	if !ok {
		s.sendMessage(conn, protocol.NewErrorAck(errors.New("expected identify message")))
		return
	}
	vehicleID := identifyMsg.VehicleID

	if _, err := s.reporter.Vehicle(s.ctx, vehicleID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			err = domain.NewValidationError("vehicle_id", "unknown vehicle")
		} else {
			fmt.Printf("Failed to resolve vehicle %s: %v\n", vehicleID, err)
		}
		s.sendMessage(conn, protocol.NewErrorAck(err))
		return
	}

	superseded, err := s.connManager.Register(connectionID, vehicleID, conn)
	if err != nil {
		s.sendMessage(conn, protocol.NewErrorAck(err))
		return
	}
	if superseded != nil {
		fmt.Printf("Vehicle %s reconnected, closing connection %s\n", vehicleID, superseded.ConnectionID)
		superseded.Conn.Close()
	}
	defer s.connManager.Unregister(connectionID)
	defer s.scheduler.Cancel(inactivityTimerID(connectionID))

	metrics.TrackerConnections.Add(1)
	defer metrics.TrackerConnections.Add(-1)

	fmt.Printf("Tracker identified: %s (vehicle=%s)\n", connectionID, vehicleID)

	if err := s.sendMessage(conn, protocol.NewAckMessage(protocol.AckStatusIdentified)); err != nil {
		return
	}
	s.scheduleInactivityTimer(connectionID, conn)

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			fmt.Printf("Connection %s closed: %v\n", connectionID, err)
			return
		}

		msg, err := protocol.ParseMessage(line)
		if err != nil {
			s.sendMessage(conn, protocol.NewErrorAck(err))
			continue
		}

		if err := s.sendMessage(conn, s.handleMessage(vehicleID, msg)); err != nil {
			fmt.Printf("Failed to send ack to %s: %v\n", connectionID, err)
			return
		}

		s.connManager.UpdateActivity(connectionID)
		s.scheduleInactivityTimer(connectionID, conn)
	}
}

// handleMessage processes one message and returns its ack
func (s *TCPServer) handleMessage(vehicleID string, msg interface{}) *protocol.AckMessage {
	switch m := msg.(type) {
	case *protocol.LocationMessage:
		return s.handleLocation(vehicleID, m)

	case *protocol.KeepaliveMessage:
		return protocol.NewAckMessage(protocol.AckStatusAlive)

	case *protocol.IdentifyMessage:
		return protocol.NewErrorAck(errors.New("already identified"))

	default:
		return protocol.NewErrorAck(fmt.Errorf("unknown message type: %T", msg))
	}
}

func (s *TCPServer) handleLocation(vehicleID string, msg *protocol.LocationMessage) *protocol.AckMessage {
	report := domain.LocationReport{
		VehicleID: vehicleID,
		Latitude:  msg.Data.Latitude,
		Longitude: msg.Data.Longitude,
		Timestamp: msg.Data.Timestamp,
	}

	res, err := s.reporter.ReportLocation(s.ctx, report)
	if err != nil {
		if !domain.IsValidation(err) {
			fmt.Printf("Failed to process location for %s: %v\n", vehicleID, err)
		}
		return protocol.NewErrorAck(err)
	}

	ack := protocol.NewAckMessage(protocol.AckStatusAccepted)
	for _, g := range res.Geofences {
		ack.Geofences = append(ack.Geofences, g.GeofenceID)
	}
	return ack
}

func (s *TCPServer) sendMessage(conn net.Conn, msg interface{}) error {
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		return err
	}

	_, err = conn.Write(append(data, '\n'))
	return err
}

func (s *TCPServer) scheduleInactivityTimer(connectionID string, conn net.Conn) {
	expiryAt := time.Now().Add(s.config.InactivityTimeout)

	callback := func() {
		fmt.Printf("Inactivity timeout for connection %s\n", connectionID)
		// Unregister happens in the handler's deferred cleanup.
		conn.Close()
	}

	_ = s.scheduler.Schedule(inactivityTimerID(connectionID), expiryAt, callback)
}
