// Package server accepts client sessions over TCP and feeds their commands
// to the command handler, one session per connection.
package server

import (
	"bufio"
	"context"
	"log"
	"net"
	"sync"
	"time"

	uuid "github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/orcishprogramming/Tuwaiq-drones-project/internal/command"
	"github.com/orcishprogramming/Tuwaiq-drones-project/internal/readiness"
	"github.com/orcishprogramming/Tuwaiq-drones-project/internal/vehicle"
)

const greeting = "OK connected to server"

type Config struct {
	ListenAddress  string
	ConnectTimeout time.Duration
	HealthTimeout  time.Duration
}

// Server owns the listening socket. Sessions run concurrently; the shared
// flight state inside the handler is the only cross-session mutable
// resource.
type Server struct {
	cfg     Config
	link    vehicle.Link
	gate    *readiness.Gate
	handler *command.Handler

	mu sync.Mutex
	ln net.Listener
}

func New(cfg Config, link vehicle.Link, handler *command.Handler) *Server {
	return &Server{
		cfg:     cfg,
		link:    link,
		gate:    readiness.NewGate(link),
		handler: handler,
	}
}

// Run performs the boot protocol and then serves until ctx is cancelled.
// The listener is never opened when the vehicle connection wait fails: no
// sessions are accepted against a vehicle that never showed up. A health
// timeout is only a warning; health may become OK later and commands fail
// individually until then.
func (s *Server) Run(ctx context.Context) error {
	if err := s.link.Connect(ctx); err != nil {
		return errors.Wrap(err, "connecting vehicle link")
	}

	log.Printf("Waiting for vehicle connection...")
	if err := s.gate.WaitConnected(ctx, s.cfg.ConnectTimeout); err != nil {
		return errors.Wrap(err, "vehicle never connected")
	}
	log.Printf("Vehicle is connected")

	log.Printf("Waiting for vehicle health (global/home position)...")
	if err := s.gate.WaitHealthy(ctx, s.cfg.HealthTimeout); err != nil {
		log.Printf("Vehicle health not OK yet (%v) - missions may fail until position fix is ready", err)
	} else {
		log.Printf("Health OK: global and home position are ready")
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", s.cfg.ListenAddress)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	// serveCtx scopes the listener and every session to this Run call:
	// cancelling it closes the listener and unblocks session reads, so
	// wg.Wait below cannot hang on an idle client
	serveCtx, serveCancel := context.WithCancel(ctx)
	defer serveCancel()
	go func() {
		<-serveCtx.Done()
		ln.Close()
	}()

	log.Printf("Listening on %s", ln.Addr())
	log.Printf("Commands: takeoff | mission | land | status | stop")

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			serveCancel()
			wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "accept")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleSession(serveCtx, conn)
		}()
	}
}

// Addr returns the bound listen address, or nil before the boot protocol has
// completed.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// handleSession serves one client connection. Commands are processed
// strictly sequentially: one handler invocation is in flight per session at
// a time. A read error or peer close ends the session without a reply; a
// write error ends it silently.
func (s *Server) handleSession(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	// closing the connection on cancel unblocks a session stuck reading an
	// idle client, so shutdown never waits on one
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessionCtx.Done()
		conn.Close()
	}()

	session := uuid.New().String()[:8]
	log.Printf("[%s] client connected: %s", session, conn.RemoteAddr())

	w := bufio.NewWriter(conn)
	if err := writeLine(w, greeting); err != nil {
		log.Printf("[%s] greeting failed: %v", session, err)
		return
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		kind := command.Parse(scanner.Text())
		log.Printf("[%s] CMD: %s", session, kind)

		res := s.handler.Handle(ctx, kind)
		if err := writeLine(w, res.Reply); err != nil {
			log.Printf("[%s] write failed: %v", session, err)
			return
		}
		if res.CloseSession {
			break
		}
	}

	log.Printf("[%s] client disconnected", session)
}

func writeLine(w *bufio.Writer, line string) error {
	if _, err := w.WriteString(line + "\n"); err != nil {
		return err
	}
	return w.Flush()
}
