// Package peer implements a single P2P connection's lifecycle: the
// connect/handshake/ready/closing state machine, per-command request
// correlation, and the known-network-height ratchet (spec §4.6).
package peer

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Acktarius/HNSGo-sub000/hnserrors"
	"github.com/Acktarius/HNSGo-sub000/logging"
	"github.com/Acktarius/HNSGo-sub000/wire"
)

// State is a PeerSession's lifecycle stage.
type State int

const (
	Disconnected State = iota
	Connecting
	Handshaking
	Ready
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Ready:
		return "ready"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// HandshakeTimeout bounds the version/verack exchange (spec §4.6).
const HandshakeTimeout = 10 * time.Second

// Config carries the dial target and the local identity announced in
// our version message.
type Config struct {
	Addr               string
	LocalNonce         uint64
	LocalAgent         string
	LocalHeight        func() uint32 // read at version-send time
	MaxCascadedErrors  int
	ConnectTimeout     time.Duration
	SocketTimeout      time.Duration
	MaxDeclaredMsgSize uint32
}

func (c *Config) applyDefaults() {
	if c.MaxCascadedErrors == 0 {
		c.MaxCascadedErrors = 5
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.SocketTimeout == 0 {
		c.SocketTimeout = 30 * time.Second
	}
	if c.MaxDeclaredMsgSize == 0 {
		c.MaxDeclaredMsgSize = wire.MaxMessageSize
	}
}

// pendingRequest is one outstanding request of a given command,
// correlated by reply command since the wire carries no request id
// (spec §4.6).
type pendingRequest struct {
	deadline time.Time
	reply    chan wire.Frame
}

// Session is a single connection's state machine. It owns its own
// socket and goroutines; it never reaches back into a PeerDirectory —
// callers observe completion via Done() and Err() (spec §9 "cyclic
// back-references").
type Session struct {
	id  string
	cfg Config
	log logging.Logger

	conn net.Conn

	mu                 sync.Mutex
	state              State
	knownNetworkHeight uint32
	cascadedErrors     int
	pending            map[wire.Cmd]*pendingRequest

	done chan struct{}
	err  error

	remoteAgent  string
	remoteHeight uint32

	unsolicited func(wire.Frame)
}

// New constructs a Session in the Disconnected state. It does not
// dial until Run is called.
func New(cfg Config, log logging.Logger) *Session {
	cfg.applyDefaults()
	if log == nil {
		log = logging.Nop()
	}
	return &Session{
		id:      uuid.NewString(),
		cfg:     cfg,
		log:     log.New("peer").New(cfg.Addr),
		state:   Disconnected,
		pending: make(map[wire.Cmd]*pendingRequest),
		done:    make(chan struct{}),
	}
}

// ID returns this session's correlation id for log lines.
func (s *Session) ID() string { return s.id }

// SetUnsolicitedHandler registers a callback for frames that arrive
// with no matching pending request — gossiped addr, announced
// headers, pings. Must be called before Run.
func (s *Session) SetUnsolicitedHandler(fn func(wire.Frame)) {
	s.mu.Lock()
	s.unsolicited = fn
	s.mu.Unlock()
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// KnownNetworkHeight returns the peer-announced height observed in its
// version message, or 0 if none has arrived yet.
func (s *Session) KnownNetworkHeight() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.knownNetworkHeight
}

// Done is closed when the session reaches Closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the terminal error, if the session closed abnormally.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.log.Debugf("state -> %s", st)
}

// Run dials the peer, performs the handshake, then services incoming
// frames until ctx is cancelled or a fatal error occurs. It blocks
// until the session reaches Closed.
func (s *Session) Run(ctx context.Context) error {
	s.setState(Connecting)

	dialer := net.Dialer{Timeout: s.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return s.fail(hnserrors.New(hnserrors.IOError, "dial %s", s.cfg.Addr, err))
	}
	s.conn = conn
	defer conn.Close()

	s.setState(Handshaking)
	if err := s.handshake(ctx); err != nil {
		return s.fail(err)
	}

	s.setState(Ready)
	if err := s.postHandshakeAnnounce(); err != nil {
		return s.fail(err)
	}

	err = s.serve(ctx)
	if err != nil {
		return s.fail(err)
	}
	s.closeNormally()
	return nil
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.setState(Closing)
	if s.conn != nil {
		s.conn.Close()
	}
	s.setState(Closed)
	close(s.done)
	return err
}

func (s *Session) closeNormally() {
	s.setState(Closing)
	if s.conn != nil {
		s.conn.Close()
	}
	s.setState(Closed)
	close(s.done)
}

// handshake sends our version, then waits up to HandshakeTimeout for
// both the peer's version and verack (spec §4.6). Either arriving
// late fails the session.
func (s *Session) handshake(ctx context.Context) error {
	ourVersion := wire.Version{
		Version:  1,
		Services: wire.SFNodeNetwork,
		Time:     uint64(time.Now().Unix()),
		Nonce:    s.cfg.LocalNonce,
		Agent:    s.cfg.LocalAgent,
	}
	if s.cfg.LocalHeight != nil {
		ourVersion.Height = s.cfg.LocalHeight()
	}
	payload, err := ourVersion.Encode()
	if err != nil {
		return err
	}
	if err := wire.WriteFrame(s.conn, wire.MainnetMagic, wire.CmdVersion, payload); err != nil {
		return err
	}

	deadline := time.Now().Add(HandshakeTimeout)
	s.conn.SetReadDeadline(deadline)

	var gotVersion, gotVerAck bool
	for !gotVersion || !gotVerAck {
		frame, err := wire.ReadFrame(s.conn, wire.MainnetMagic, s.cfg.MaxDeclaredMsgSize)
		if err != nil {
			return hnserrors.New(hnserrors.ProtocolError, "handshake read failed", err)
		}
		switch frame.Cmd {
		case wire.CmdVersion:
			v, err := wire.DecodeVersion(frame.Payload)
			if err != nil {
				return err
			}
			s.mu.Lock()
			s.remoteAgent = v.Agent
			s.remoteHeight = v.Height
			if v.Height > s.knownNetworkHeight {
				s.knownNetworkHeight = v.Height
			}
			s.mu.Unlock()
			if err := wire.WriteFrame(s.conn, wire.MainnetMagic, wire.CmdVerAck, wire.EncodeEmpty()); err != nil {
				return err
			}
			gotVersion = true
		case wire.CmdVerAck:
			gotVerAck = true
		default:
			// Tolerate anything else arriving early; it is simply not
			// part of the handshake pair this loop is waiting for.
		}
	}
	s.conn.SetReadDeadline(time.Time{})
	return nil
}

// postHandshakeAnnounce sends sendheaders and getaddr once, mirroring
// the reference flow (spec §4.6).
func (s *Session) postHandshakeAnnounce() error {
	if err := wire.WriteFrame(s.conn, wire.MainnetMagic, wire.CmdSendHeaders, wire.EncodeEmpty()); err != nil {
		return err
	}
	return wire.WriteFrame(s.conn, wire.MainnetMagic, wire.CmdGetAddr, wire.EncodeEmpty())
}

// Request sends a frame and blocks until a reply carrying replyCmd
// arrives, the per-request deadline elapses, or ctx is cancelled.
// Only one outstanding request per command is tracked at a time, per
// spec §4.6 ("one outstanding request of each type").
func (s *Session) Request(ctx context.Context, cmd wire.Cmd, payload []byte, replyCmd wire.Cmd, timeout time.Duration) (wire.Frame, error) {
	reply := make(chan wire.Frame, 1)
	s.mu.Lock()
	s.pending[replyCmd] = &pendingRequest{deadline: time.Now().Add(timeout), reply: reply}
	s.mu.Unlock()

	if err := wire.WriteFrame(s.conn, wire.MainnetMagic, cmd, payload); err != nil {
		s.clearPending(replyCmd)
		return wire.Frame{}, err
	}

	select {
	case f := <-reply:
		return f, nil
	case <-time.After(timeout):
		s.clearPending(replyCmd)
		s.bumpCascadedError()
		return wire.Frame{}, hnserrors.New(hnserrors.IOError, "request %s timed out waiting for %s", cmd.Name(), replyCmd.Name())
	case <-ctx.Done():
		s.clearPending(replyCmd)
		return wire.Frame{}, ctx.Err()
	}
}

func (s *Session) clearPending(cmd wire.Cmd) {
	s.mu.Lock()
	delete(s.pending, cmd)
	s.mu.Unlock()
}

func (s *Session) bumpCascadedError() {
	s.mu.Lock()
	s.cascadedErrors++
	exceeded := s.cascadedErrors >= s.cfg.MaxCascadedErrors
	s.mu.Unlock()
	if exceeded && s.conn != nil {
		s.conn.Close()
	}
}

// serve reads frames until the connection closes or ctx is cancelled,
// dispatching replies to any matching pending request and passing
// every other frame to the handler set with SetUnsolicitedHandler, or
// dropping it when no handler is set.
func (s *Session) serve(ctx context.Context) error {
	type readResult struct {
		frame wire.Frame
		err   error
	}
	frames := make(chan readResult, 1)

	go func() {
		for {
			s.conn.SetReadDeadline(time.Now().Add(s.cfg.SocketTimeout))
			f, err := wire.ReadFrame(s.conn, wire.MainnetMagic, s.cfg.MaxDeclaredMsgSize)
			frames <- readResult{f, err}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-frames:
			if r.err != nil {
				return r.err
			}
			s.dispatch(r.frame)
		}
	}
}

func (s *Session) dispatch(f wire.Frame) {
	s.mu.Lock()
	req, ok := s.pending[f.Cmd]
	if ok {
		delete(s.pending, f.Cmd)
	}
	handler := s.unsolicited
	s.mu.Unlock()

	if !ok {
		if handler != nil {
			handler(f)
		}
		return
	}
	select {
	case req.reply <- f:
	default:
	}
}
