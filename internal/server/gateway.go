package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smukkama/glucose-stats/internal/connection"
	"github.com/smukkama/glucose-stats/internal/protocol"
	"github.com/smukkama/glucose-stats/internal/timer"
	"github.com/smukkama/glucose-stats/pkg/config"
)

// EventPublisher sends events to the measurements topic
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev *protocol.Event) error
}

// Gateway accepts meter connections and forwards their readings as events
type Gateway struct {
	config      *config.TCPServerConfig
	connManager *connection.Manager
	scheduler   *timer.Scheduler
	publisher   EventPublisher
	listener    net.Listener
	wg          sync.WaitGroup
	stopCh      chan struct{}
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewGateway creates a new meter gateway
func NewGateway(cfg *config.TCPServerConfig, connManager *connection.Manager, scheduler *timer.Scheduler, publisher EventPublisher) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		config:      cfg,
		connManager: connManager,
		scheduler:   scheduler,
		publisher:   publisher,
		stopCh:      make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts listening for meters
func (g *Gateway) Start() error {
	addr := fmt.Sprintf(":%d", g.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	g.listener = listener
	fmt.Printf("Gateway listening on %s\n", listener.Addr())

	g.wg.Add(1)
	go g.acceptConnections()

	return nil
}

// Addr returns the address the gateway listens on
func (g *Gateway) Addr() net.Addr {
	return g.listener.Addr()
}

// Stop closes the listener and every meter connection, then waits for the handlers
func (g *Gateway) Stop() {
	close(g.stopCh)
	g.cancel()

	if g.listener != nil {
		g.listener.Close()
	}

	for _, meter := range g.connManager.Meters() {
		meter.Conn.Close()
	}

	g.wg.Wait()
	fmt.Println("Gateway stopped")
}

func (g *Gateway) acceptConnections() {
	defer g.wg.Done()

	for {
		conn, err := g.listener.Accept()
		if err != nil {
			select {
			case <-g.stopCh:
				return
			default:
				log.Printf("Failed to accept connection: %v", err)
				continue
			}
		}

		if g.connManager.Count() >= g.config.MaxConnections {
			log.Printf("Maximum connections reached, rejecting %s", conn.RemoteAddr())
			conn.Close()
			continue
		}

		g.wg.Add(1)
		go g.handleConnection(conn)
	}
}

func (g *Gateway) handleConnection(conn net.Conn) {
	defer g.wg.Done()
	defer conn.Close()

	connectionID := uuid.New().String()

	conn.SetReadDeadline(time.Now().Add(g.config.IdentifyTimeout))

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		log.Printf("Failed to read identify message from %s: %v", conn.RemoteAddr(), err)
		return
	}

	msg, err := protocol.ParseMessage([]byte(line))
	if err != nil {
		log.Printf("Failed to parse identify message: %v", err)
		g.sendAck(conn, protocol.AckStatusError)
		return
	}

	identify, ok := msg.(*protocol.IdentifyMessage)
	if !ok {
		log.Printf("Expected identify message, got %T", msg)
		g.sendAck(conn, protocol.AckStatusError)
		return
	}

	meter, err := g.connManager.Register(connectionID, identify.SubjectID, identify.Device, conn)
	if err != nil {
		log.Printf("Failed to register meter: %v", err)
		g.sendAck(conn, protocol.AckStatusError)
		return
	}
	defer g.connManager.Unregister(connectionID)
	defer g.scheduler.Cancel(inactivityTimerID(connectionID))

	fmt.Printf("Meter identified: %s (subject=%s, device=%s)\n", connectionID, identify.SubjectID, identify.Device)
	g.closeStaleConnections(meter)

	if err := g.sendAck(conn, protocol.AckStatusIdentified); err != nil {
		log.Printf("Failed to send ack: %v", err)
		return
	}

	g.scheduleInactivityTimer(meter, time.Now().Add(g.config.InactivityTimeout))
	conn.SetReadDeadline(time.Time{})

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			select {
			case <-g.stopCh:
			default:
				fmt.Printf("Connection %s closed: %v\n", connectionID, err)
			}
			return
		}

		msg, err := protocol.ParseMessage([]byte(line))
		if err != nil {
			log.Printf("Failed to parse message from %s: %v", connectionID, err)
			g.sendAck(conn, protocol.AckStatusError)
			continue
		}

		status := protocol.AckStatusAccepted
		err = g.handleMessage(identify, msg)
		if err != nil {
			log.Printf("Failed to handle message from %s: %v", connectionID, err)
			status = protocol.AckStatusError
		}
		if _, isKeepalive := msg.(*protocol.KeepaliveMessage); isKeepalive {
			status = protocol.AckStatusAlive
		}
		_, isMeasurement := msg.(*protocol.MeasurementMessage)
		g.connManager.Activity(connectionID, isMeasurement && err == nil)

		if err := g.sendAck(conn, status); err != nil {
			log.Printf("Failed to send ack to %s: %v", connectionID, err)
			return
		}
	}
}

// closeStaleConnections closes older connections of the same subject and
// device. A meter that reconnects after a network drop replaces its old
// session instead of waiting for the inactivity timeout.
func (g *Gateway) closeStaleConnections(meter *connection.Meter) {
	if meter.Device == "" {
		return
	}
	for _, other := range g.connManager.SubjectMeters(meter.SubjectID) {
		if other.ConnectionID == meter.ConnectionID || other.Device != meter.Device {
			continue
		}
		fmt.Printf("Replacing stale connection %s of %s/%s\n", other.ConnectionID, meter.SubjectID, meter.Device)
		other.Conn.Close()
	}
}

func (g *Gateway) handleMessage(identify *protocol.IdentifyMessage, msg interface{}) error {
	now := time.Now()

	switch m := msg.(type) {
	case *protocol.MeasurementMessage:
		ev, err := protocol.NewMeasurementEvent(identify.SubjectID, identify.Device, m.Data, now)
		if err != nil {
			return err
		}
		return g.publish(ev)

	case *protocol.SwitchWindowMessage:
		return g.publish(protocol.NewSwitchWindowEvent(identify.SubjectID, m.Window, now))

	case *protocol.KeepaliveMessage:
		return nil

	case *protocol.IdentifyMessage:
		return errors.New("meter already identified")

	default:
		return fmt.Errorf("unknown message type: %T", msg)
	}
}

func (g *Gateway) publish(ev *protocol.Event) error {
	if err := g.publisher.PublishEvent(g.ctx, ev); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (g *Gateway) sendAck(conn net.Conn, status string) error {
	data, err := protocol.EncodeMessage(protocol.NewAckMessage(status))
	if err != nil {
		return err
	}

	_, err = conn.Write(append(data, '\n'))
	return err
}

func inactivityTimerID(connectionID string) string {
	return "inactivity-" + connectionID
}

// scheduleInactivityTimer arms one timer per connection. When it fires
// early because the meter was active since, it re-arms itself for the
// meter's last activity plus the timeout.
func (g *Gateway) scheduleInactivityTimer(meter *connection.Meter, expiryAt time.Time) {
	callback := func() {
		if _, exists := g.connManager.Get(meter.ConnectionID); !exists {
			return
		}
		if next := meter.LastActive().Add(g.config.InactivityTimeout); next.After(time.Now()) {
			g.scheduleInactivityTimer(meter, next)
			return
		}
		fmt.Printf("Inactivity timeout for connection %s\n", meter.ConnectionID)
		// Unregister happens in the connection handler once the read fails
		meter.Conn.Close()
	}

	g.scheduler.Schedule(inactivityTimerID(meter.ConnectionID), expiryAt, callback)
}
