package broker

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"

	"github.com/gammazero/nexus/v3/router"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/sirupsen/logrus"
)

// Server implements a WAMP server through which connected nodes relay their
// channels and signaling messages.
type Server struct {
	address    string
	realm      string
	router     router.Router
	httpServer *http.Server
	tls        bool
	logger     *logrus.Entry
}

// NewServer instantiates a new Server which can be run at a specified address.
// TLS is used when certFile and keyFile are both set.
func NewServer(address string,
	realm string,
	certFile string,
	keyFile string,
	logger *logrus.Entry) (*Server, error) {

	// Create router instance.
	routerConfig := &router.Config{
		RealmConfigs: []*router.RealmConfig{
			{
				URI:           wamp.URI(realm),
				AnonymousAuth: true,
				AllowDisclose: true,
			},
		},
	}

	nxr, err := router.NewRouter(routerConfig, logger)
	if err != nil {
		return nil, err
	}

	wss := router.NewWebsocketServer(nxr)

	httpServer := &http.Server{
		Handler: wss,
		Addr:    address,
	}

	res := &Server{
		address:    address,
		realm:      realm,
		router:     nxr,
		httpServer: httpServer,
		logger:     logger,
	}

	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			nxr.Close()
			return nil, fmt.Errorf("error loading X509 key pair: %s", err)
		}
		httpServer.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
		res.tls = true
	}

	return res, nil
}

// Run starts the WAMP websocket server. It blocks until Shutdown is called.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts websocket connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.WithFields(logrus.Fields{
		"address": ln.Addr().String(),
		"realm":   s.realm,
		"tls":     s.tls,
	}).Info("Broker listening")

	var err error
	if s.tls {
		// The certificates have already been loaded in the TLSConfig of
		// the server in the constructor
		err = s.httpServer.ServeTLS(ln, "", "")
	} else {
		err = s.httpServer.Serve(ln)
	}
	if err != nil && err != http.ErrServerClosed {
		s.logger.WithError(err).Error("Run")
		return err
	}
	return nil
}

// Shutdown stops the websocket server, and the wamp router
func (s *Server) Shutdown() {
	defer s.router.Close()

	if err := s.httpServer.Shutdown(context.Background()); err != nil {
		s.logger.WithError(err).Error("Shutting down http server")
	}
}

// Router returns the WAMP router, to which in-process clients can connect
// directly.
func (s *Server) Router() router.Router {
	return s.router
}

// Realm returns the realm served by the router.
func (s *Server) Realm() string {
	return s.realm
}

// Addr returns the address of the server
func (s *Server) Addr() string {
	return s.address
}
