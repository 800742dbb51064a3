package hap

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/fastybird/hapbridge/pkg/hap/secure"
)

type SessionState byte

const (
	SessionUnpaired SessionState = iota
	SessionPairSetup
	SessionPairVerify
	SessionVerified
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionUnpaired:
		return "unpaired"
	case SessionPairSetup:
		return "pair-setup"
	case SessionPairVerify:
		return "pair-verify"
	case SessionVerified:
		return "verified"
	case SessionClosed:
		return "closed"
	}
	return "unknown"
}

// errCloseSession ends session after response has been written
var errCloseSession = errors.New("hap: close session")

// afterFunc runs after response is written, with connection write lock held
type afterFunc func() error

type Session struct {
	server *Server

	conn   net.Conn
	rd     *bufio.Reader // plain reader, then reader of secure conn
	secure *secure.Conn

	state    SessionState
	clientID string
	setup    *pairSetup
	verify   *pairVerify

	subs   map[CharID]struct{}
	events *eventQueue

	ctx    context.Context
	cancel context.CancelFunc

	mu sync.Mutex
}

func newSession(server *Server, conn net.Conn) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		server: server,
		conn:   conn,
		rd:     bufio.NewReaderSize(conn, secure.BufferSize),
		subs:   map[CharID]struct{}{},
		events: newEventQueue(server.EventQueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	if s.state != SessionClosed {
		s.state = state
	}
	s.mu.Unlock()
}

func (s *Session) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Close connection, pending pairing is aborted by the server
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == SessionClosed {
		s.mu.Unlock()
		return
	}
	s.state = SessionClosed
	s.subs = map[CharID]struct{}{}
	s.mu.Unlock()

	s.cancel()
	_ = s.conn.Close()
}

func (s *Session) serve() error {
	for {
		req, err := http.ReadRequest(s.rd)
		if err != nil {
			if errors.Is(err, io.EOF) || s.State() == SessionClosed {
				return nil
			}
			return err
		}

		body, err := io.ReadAll(req.Body)
		if err != nil {
			return err
		}

		s.server.Log.Trace().Msgf("[hap] %s: %s %s", s.conn.RemoteAddr(), req.Method, req.URL)

		res, after, err := s.handle(req, body)
		if err != nil {
			return err
		}

		if err = s.writeResponse(res, after); err != nil {
			if errors.Is(err, errCloseSession) {
				return nil
			}
			return err
		}
	}
}

func (s *Session) handle(req *http.Request, body []byte) (*http.Response, afterFunc, error) {
	switch req.URL.Path {
	case PathPairSetup:
		return s.handlePairSetup(body)

	case PathPairVerify:
		return s.handlePairVerify(body)

	case PathIdentify:
		res, err := s.handleIdentify()
		return res, nil, err
	}

	if s.State() != SessionVerified {
		res, err := makeResponse(
			StatusConnectionAuthorizationRequired, MimeJSON,
			JSONStatus{Status: StatusInsufficientPrivileges},
		)
		if err == nil {
			res.Status = "470 Connection Authorization Required"
		}
		return res, nil, err
	}

	switch req.URL.Path {
	case PathAccessories:
		if req.Method == "GET" {
			res, err := s.handleAccessories()
			return res, nil, err
		}

	case PathCharacteristics:
		switch req.Method {
		case "GET":
			res, err := s.handleGetCharacteristics(req)
			return res, nil, err
		case "PUT":
			res, err := s.handlePutCharacteristics(body)
			return res, nil, err
		}

	case PathPairings:
		if req.Method == "POST" {
			return s.handlePairings(body)
		}
	}

	res, err := makeResponse(http.StatusNotFound, MimeJSON, JSONStatus{Status: StatusResourceDoesNotExist})
	return res, nil, err
}

func (s *Session) writeResponse(res *http.Response, after afterFunc) error {
	b, err := marshalResponse(res)
	if err != nil {
		return err
	}

	// secure connection is changed only by this goroutine
	if sc := s.secure; sc != nil {
		sc.Lock()
		defer sc.Unlock()

		if _, err = sc.WriteLocked(b); err != nil {
			return err
		}
	} else if _, err = s.conn.Write(b); err != nil {
		return err
	}

	if after != nil {
		return after()
	}
	return nil
}

// switchSecure is called after V4 response, for already verified session it
// replaces session keys
func (s *Session) switchSecure(clientID string, shared []byte) error {
	if s.secure != nil {
		// write lock is held by writeResponse
		if err := s.secure.Rekey(shared, false); err != nil {
			return err
		}
	} else {
		sc, err := secure.Server(s.conn, s.rd, shared)
		if err != nil {
			return err
		}

		s.secure = sc
		s.rd = bufio.NewReaderSize(sc, 32*1024)

		go s.eventLoop(sc)
	}

	s.mu.Lock()
	s.clientID = clientID
	s.mu.Unlock()

	s.setState(SessionVerified)

	s.server.Log.Debug().Msgf("[hap] %s: verified client=%s", s.conn.RemoteAddr(), clientID)
	return nil
}

// Subscribe or unsubscribe from events of characteristic
func (s *Session) Subscribe(id CharID, enable bool) {
	s.mu.Lock()
	if s.state != SessionClosed {
		if enable {
			s.subs[id] = struct{}{}
		} else {
			delete(s.subs, id)
		}
	}
	s.mu.Unlock()
}

func (s *Session) unsubscribeMissing(bridge *Bridge) {
	s.mu.Lock()
	for id := range s.subs {
		if _, ok := bridge.Character(id); !ok {
			delete(s.subs, id)
		}
	}
	s.mu.Unlock()
}

func (s *Session) Subscribed(id CharID) bool {
	s.mu.Lock()
	_, ok := s.subs[id]
	s.mu.Unlock()
	return ok
}

func (s *Session) notify(id CharID, value any) {
	if !s.Subscribed(id) {
		return
	}

	if !s.events.Push(id, value) {
		s.server.Log.Trace().Msgf("[hap] %s: event queue is full, drop oldest", s.conn.RemoteAddr())
	}
}

func (s *Session) eventLoop(sc *secure.Conn) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.events.signal:
		}

		items := s.events.Pop()
		if len(items) == 0 {
			continue
		}

		chars := make([]JSONCharacter, 0, len(items))
		for _, item := range items {
			chars = append(chars, JSONCharacter{AID: item.id.AID, IID: item.id.IID, Value: item.value})
		}

		data, err := MarshalEvent(chars)
		if err != nil {
			s.server.Log.Warn().Err(err).Msgf("[hap] %s: marshal event", s.conn.RemoteAddr())
			continue
		}

		if _, err = sc.Write(data); err != nil {
			s.server.Log.Debug().Err(err).Msgf("[hap] %s: write event", s.conn.RemoteAddr())
			s.Close()
			return
		}
	}
}
