package hap

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/fastybird/hapbridge/pkg/hap/ed25519"
	"github.com/fastybird/hapbridge/pkg/hap/setup"
	"github.com/rs/zerolog"
)

const (
	DefaultSetupTimeout    = 30 * time.Second
	DefaultMaxPairings     = 16
	DefaultMaxAuthAttempts = 100
	DefaultRequestTimeout  = 10 * time.Second
)

var ErrServerClosed = errors.New("hap: server closed")

// Server of HAP bridge. One Session for each TCP connection.
type Server struct {
	DeviceID      string // 77:75:87:A0:7D:F4
	DevicePrivate []byte // ed25519 private key
	Pin           string // 123-45-678
	SetupID       string // 4 chars for setup hash
	Model         string
	Category      byte

	Bridge   *Bridge
	Pairings PairingStore
	Log      zerolog.Logger

	SetupTimeout    time.Duration
	MaxPairings     int
	MaxAuthAttempts int
	EventQueueSize  int
	RequestTimeout  time.Duration

	// OnChange is called when advertised TXT values have changed
	OnChange func()

	// pairMu guards pair-setup owner and pairing records for one step
	pairMu       sync.Mutex
	setupOwner   *Session
	setupStarted time.Time
	authFailures int

	sessions     map[*Session]struct{}
	configNumber int
	closed       bool
	mu           sync.Mutex
}

func (s *Server) ServerPublic() []byte {
	return ed25519.PublicKey(s.DevicePrivate)
}

// Serve accepts connections until listener fails or server is closed
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			return err
		}

		go func() {
			if err := s.Handle(conn); err != nil {
				s.Log.Trace().Err(err).Msgf("[hap] %s: session closed", conn.RemoteAddr())
			}
		}()
	}
}

// Handle runs session for connection and blocks until it ends
func (s *Server) Handle(conn net.Conn) error {
	session := newSession(s, conn)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrServerClosed
	}
	if s.sessions == nil {
		s.sessions = map[*Session]struct{}{}
	}
	s.sessions[session] = struct{}{}
	s.mu.Unlock()

	s.Log.Debug().Msgf("[hap] %s: new session", conn.RemoteAddr())

	defer s.removeSession(session)

	return session.serve()
}

func (s *Server) removeSession(session *Session) {
	session.Close()

	s.mu.Lock()
	delete(s.sessions, session)
	s.mu.Unlock()

	s.pairMu.Lock()
	if s.setupOwner == session {
		s.setupOwner = nil
	}
	s.pairMu.Unlock()
}

// Close all sessions, listener is closed by the caller
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*Session, 0, len(s.sessions))
	for session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
	return nil
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) Sessions() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := make([]*Session, 0, len(s.sessions))
	for session := range s.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

// Paired returns true if bridge has at least one pairing
func (s *Server) Paired() bool {
	pairings, err := s.Pairings.List()
	return err == nil && len(pairings) > 0
}

func (s *Server) ConfigNumber() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.configNumber == 0 {
		return 1
	}
	return s.configNumber
}

// TXT records for the mDNS advertisement
func (s *Server) TXT() map[string]string {
	category := s.Category
	if category == 0 {
		category = CategoryBridge
	}

	info := map[string]string{
		TXTConfigNumber: strconv.Itoa(s.ConfigNumber()),
		TXTDeviceID:     s.DeviceID,
		TXTModel:        s.Model,
		TXTProtoVersion: "1.1",
		TXTStateNumber:  "1",
		TXTFeatureFlags: "0",
		TXTStatusFlags:  StatusNotPaired,
		TXTCategory:     strconv.Itoa(int(category)),
	}

	if s.Paired() {
		info[TXTStatusFlags] = StatusPaired
	}

	if s.SetupID != "" {
		info[TXTSetupHash] = setup.SetupHash(s.SetupID, s.DeviceID)
	}

	return info
}

// SetupURI for QR code
func (s *Server) SetupURI() string {
	category := s.Category
	if category == 0 {
		category = CategoryBridge
	}
	return setup.GenerateSetupURI(strconv.Itoa(int(category)), s.Pin, s.SetupID)
}

// Reload rebuilds accessory tree from configuration and bumps configuration number
func (s *Server) Reload(ctx context.Context) error {
	if err := s.Bridge.Rebuild(ctx); err != nil {
		return err
	}

	// subscriptions to removed characteristics are dropped, others survive
	// because iids are stable
	for _, session := range s.Sessions() {
		session.unsubscribeMissing(s.Bridge)
	}

	s.mu.Lock()
	// c# is 1..65535, zero means the initial 1
	n := s.configNumber
	if n == 0 {
		n = 1
	}
	if n++; n > 65535 {
		n = 1
	}
	s.configNumber = n
	s.mu.Unlock()

	s.changed()
	return nil
}

// Notify is called on value change from the state store side
func (s *Server) Notify(ref PropertyRef, value any) {
	id, v, ok := s.Bridge.Update(ref, value)
	if !ok {
		s.Log.Trace().Msgf("[hap] notify unknown property %s", ref)
		return
	}
	s.publish(id, v, nil)
}

// publish event to all subscribed sessions except the source
func (s *Server) publish(id CharID, value any, except *Session) {
	for _, session := range s.Sessions() {
		if session != except {
			session.notify(id, value)
		}
	}
}

// closeClient closes all sessions of controller
func (s *Server) closeClient(clientID string) {
	for _, session := range s.Sessions() {
		if session.ClientID() == clientID {
			s.Log.Debug().Msgf("[hap] %s: close session of removed pairing %s", session.RemoteAddr(), clientID)
			session.Close()
		}
	}
}

func (s *Server) changed() {
	if s.OnChange != nil {
		s.OnChange()
	}
}

func (s *Server) setupTimeout() time.Duration {
	if s.SetupTimeout > 0 {
		return s.SetupTimeout
	}
	return DefaultSetupTimeout
}

func (s *Server) maxPairings() int {
	if s.MaxPairings > 0 {
		return s.MaxPairings
	}
	return DefaultMaxPairings
}

func (s *Server) maxAuthAttempts() int {
	if s.MaxAuthAttempts > 0 {
		return s.MaxAuthAttempts
	}
	return DefaultMaxAuthAttempts
}

func (s *Server) requestTimeout() time.Duration {
	if s.RequestTimeout > 0 {
		return s.RequestTimeout
	}
	return DefaultRequestTimeout
}
