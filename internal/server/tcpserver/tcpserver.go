// Package tcpserver lets the mock API accept pastes piped over netcat:
// the whole stream becomes a single-file paste and the reply carries the
// paste URL and its security token.
package tcpserver

import (
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tombowditch/mystbin-go/internal/config"
	"github.com/tombowditch/mystbin-go/internal/paste"
	"github.com/tombowditch/mystbin-go/internal/ratelimit"
	"github.com/tombowditch/mystbin-go/internal/store"
	"github.com/tombowditch/mystbin-go/internal/util/randutil"
)

// Filename is the name given to the single file of a piped paste.
const Filename = "stdin.txt"

// Server holds dependencies for the TCP server.
type Server struct {
	store   store.Store
	limiter ratelimit.Limiter
	baseURL string
	log     logrus.FieldLogger
}

// New creates a new TCP server with the given store. Paste links in replies
// are rooted at baseURL. limiter may be nil.
func New(s store.Store, limiter ratelimit.Limiter, baseURL string, log logrus.FieldLogger) *Server {
	return &Server{store: s, limiter: limiter, baseURL: strings.TrimSuffix(baseURL, "/"), log: log}
}

// Serve starts listening on the given address and handles connections.
// This function blocks until the listener fails.
func (s *Server) Serve(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(l)
}

// ServeListener handles connections accepted from l until it is closed.
func (s *Server) ServeListener(l net.Listener) error {
	defer l.Close()

	s.log.WithField("addr", l.Addr().String()).Info("tcp server listening")

	for {
		conn, err := l.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	cip, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		cip = conn.RemoteAddr().String()
	}
	log := s.log.WithField("ip", cip)

	// Check rate limit before reading
	if s.limiter != nil {
		if d := s.limiter.Take(cip + " tcp"); !d.Allowed {
			log.Warn("rate limit exceeded")
			conn.Write([]byte("rate limit exceeded\r\n"))
			return
		}
	}

	msg := make([]byte, 0)
	buf := make([]byte, 1024)

	conn.SetReadDeadline(time.Now().Add(time.Second * 5))

	for {
		n, err := conn.Read(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); err != io.EOF && (!ok || !netErr.Timeout()) {
				log.WithError(err).Error("read error")
				conn.Write([]byte("read err\r\n"))
				return
			}
			break
		}

		if len(msg)+n > config.MockMaxPayloadSize {
			conn.Write([]byte("payload too big\r\n"))
			return
		}

		msg = append(msg, buf[:n]...)

		conn.SetReadDeadline(time.Now().Add(time.Second * 2))
	}

	files := []store.File{{Filename: Filename, Content: string(msg)}}
	if err := paste.Validate(files, nil, time.Now()); err != nil {
		conn.Write([]byte(err.Error() + "\r\n"))
		return
	}

	rec := &store.Record{
		CreatedAt:     time.Now().UTC(),
		SecurityToken: uuid.NewString(),
		Files:         files,
	}

	// Generate unique identifier and store atomically
	for tried := 0; tried < 10; tried++ {
		rec.ID = randutil.PasteID(config.MockIDLength)
		ok, err := s.store.Create(rec)
		if err != nil {
			log.WithError(err).Error("store create failed")
			conn.Write([]byte("error, could not reach the store\r\n"))
			return
		}
		if ok {
			log.WithField("identifier", rec.ID).Info("created paste via TCP")
			fmt.Fprintf(conn, "%s/%s\r\nsecurity token: %s\r\n", s.baseURL, rec.ID, rec.SecurityToken)
			return
		}
		// Collision, try again
		log.WithField("identifier", rec.ID).Debug("identifier collision, retrying")
	}

	log.Error("could not generate unique identifier after retries")
	conn.Write([]byte("error\r\n"))
}
