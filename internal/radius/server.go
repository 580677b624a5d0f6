package radius

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/vpnradius/backend/internal/config"
	"github.com/vpnradius/backend/internal/logstore"
	"layeh.com/radius"
)

const serverLogger = "radius.server"

const lookupTimeout = 5 * time.Second

// Server owns the two RADIUS UDP sockets (authentication and accounting)
// and dispatches each datagram: header sanity check, NAS registry lookup,
// parse with the resolved secret, then the matching engine. Packets that
// fail any step before the engine are dropped without a reply.
type Server struct {
	cfg      *config.Config
	registry *Registry
	auth     *AuthEngine
	acct     *AcctEngine
	logs     *logstore.Store

	authConn *net.UDPConn
	acctConn *net.UDPConn
	done     chan struct{}
	wg       sync.WaitGroup
}

func NewServer(cfg *config.Config, registry *Registry, auth *AuthEngine, acct *AcctEngine, logs *logstore.Store) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		auth:     auth,
		acct:     acct,
		logs:     logs,
		done:     make(chan struct{}),
	}
}

// Start binds both sockets and begins serving. Non-blocking; use Shutdown
// to stop.
func (s *Server) Start() error {
	authConn, err := listenUDP(s.cfg.BindAddress, s.cfg.AuthPort)
	if err != nil {
		return fmt.Errorf("failed to bind auth socket: %w", err)
	}
	acctConn, err := listenUDP(s.cfg.BindAddress, s.cfg.AcctPort)
	if err != nil {
		authConn.Close()
		return fmt.Errorf("failed to bind acct socket: %w", err)
	}
	s.authConn = authConn
	s.acctConn = acctConn

	s.logs.Infof(serverLogger, "RADIUS server listening on %s:%d (auth) and %s:%d (acct)",
		s.cfg.BindAddress, s.cfg.AuthPort, s.cfg.BindAddress, s.cfg.AcctPort)

	s.wg.Add(2)
	go s.readLoop(s.authConn, true)
	go s.readLoop(s.acctConn, false)
	return nil
}

func listenUDP(address string, port int) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", address, port))
	if err != nil {
		return nil, err
	}
	return net.ListenUDP("udp", addr)
}

func (s *Server) readLoop(conn *net.UDPConn, isAuth bool) {
	defer s.wg.Done()

	for {
		buf := make([]byte, maxPacketLength)
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.logs.Errorf(serverLogger, "UDP read error: %v", err)
			continue
		}

		datagram := buf[:n]
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleDatagram(conn, datagram, remote, isAuth)
		}()
	}
}

func (s *Server) handleDatagram(conn *net.UDPConn, buf []byte, remote *net.UDPAddr, isAuth bool) {
	if !validHeader(buf) {
		s.logs.Debugf(serverLogger, "Dropping malformed packet from %s", remote.IP)
		return
	}

	sourceIP := remote.IP.String()
	identifier := peekNASIdentifier(buf)

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	nas, err := s.registry.Find(ctx, sourceIP, identifier)
	if errors.Is(err, ErrUnknownNAS) {
		s.logs.Warnf(serverLogger, "Dropping packet from unknown NAS %s (identifier %q)", sourceIP, identifier)
		return
	}
	if err != nil {
		s.logs.Errorf(serverLogger, "NAS lookup failed for %s: %v", sourceIP, err)
		return
	}

	packet, err := radius.Parse(buf, nas.SecretBytes())
	if err != nil {
		s.logs.Warnf(serverLogger, "Dropping unparseable packet from NAS %s: %v", nas.Identifier, err)
		return
	}

	var resp *radius.Packet
	switch packet.Code {
	case radius.CodeAccessRequest:
		if !isAuth {
			s.logs.Warnf(serverLogger, "Access-Request on accounting port from NAS %s, dropping", nas.Identifier)
			return
		}
		resp = s.auth.Handle(packet, nas)
	case radius.CodeAccountingRequest:
		if isAuth {
			s.logs.Warnf(serverLogger, "Accounting-Request on auth port from NAS %s, dropping", nas.Identifier)
			return
		}
		if !verifyAcctRequestAuthenticator(buf, nas.SecretBytes()) {
			s.logs.Warnf(serverLogger, "Bad accounting authenticator from NAS %s, dropping", nas.Identifier)
			return
		}
		resp = s.acct.Handle(packet, nas)
	case radius.CodeDisconnectRequest, radius.CodeCoARequest:
		// Server-initiated session control is the NAS side of CoA; as a
		// server we only log the attempt.
		s.logs.Infof(serverLogger, "Ignoring %s from NAS %s", packet.Code, nas.Identifier)
		return
	default:
		s.logs.Debugf(serverLogger, "Dropping packet with code %s from NAS %s", packet.Code, nas.Identifier)
		return
	}

	encoded, err := resp.Encode()
	if err != nil {
		s.logs.Errorf(serverLogger, "Failed to encode response for NAS %s: %v", nas.Identifier, err)
		return
	}
	if _, err := conn.WriteToUDP(encoded, remote); err != nil {
		s.logs.Errorf(serverLogger, "Failed to send response to NAS %s: %v", nas.Identifier, err)
	}
}

// Shutdown closes both sockets and waits for in-flight handlers.
func (s *Server) Shutdown() {
	close(s.done)
	if s.authConn != nil {
		s.authConn.Close()
	}
	if s.acctConn != nil {
		s.acctConn.Close()
	}
	s.wg.Wait()
	s.logs.Infof(serverLogger, "RADIUS server stopped")
}
