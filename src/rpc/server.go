package rpc

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rcenet/rce/src/protocol"
	"github.com/sirupsen/logrus"
)

// Server dispatches incoming method calls to the registered services. Its
// Handle method is the request handler of protocol.MessageTypeRPC.
type Server struct {
	schema *protocol.Schema

	mu       sync.RWMutex
	services map[string]MethodTable

	logger *logrus.Entry
}

// NewServer creates a Server decoding arguments with schema.
func NewServer(schema *protocol.Schema, logger *logrus.Entry) *Server {
	return &Server{
		schema:   schema,
		services: make(map[string]MethodTable),
		logger:   logger,
	}
}

// Register exposes a service under name, replacing any previous one.
func (s *Server) Register(name string, table MethodTable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[name] = table
}

// Unregister removes a service.
func (s *Server) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.services, name)
}

// Services returns the names of the registered services.
func (s *Server) Services() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]string, 0, len(s.services))
	for name := range s.services {
		res = append(res, name)
	}
	sort.Strings(res)
	return res
}

// Handle decodes and runs a method call. Undecodable calls and results fail
// the request; errors of the method itself are returned to the caller as a
// RemoteError.
func (s *Server) Handle(req *protocol.NetworkRequest) ([]byte, error) {
	call, err := decodeCall(s.schema, req.Content)
	if err != nil {
		return nil, err
	}
	call.Sender = req.Sender

	value, err := s.invoke(call)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"service": call.Service,
			"method":  call.Method,
			"sender":  req.Sender.RawID(),
			"error":   err,
		}).Debug("Method call failed")

		return protocol.Encode(&wireResult{
			Error: &wireError{Type: errorType(err), Message: err.Error()},
		})
	}

	data, err := s.schema.Serialize(value)
	if err != nil {
		return nil, fmt.Errorf("result of %s.%s: %w", call.Service, call.Method, err)
	}
	return protocol.Encode(&wireResult{Value: data})
}

func (s *Server) invoke(call *Call) (value interface{}, err error) {
	s.mu.RLock()
	method, ok := s.services[call.Service][call.Method]
	s.mu.RUnlock()

	if !ok {
		return nil, &NoSuchMethodError{Service: call.Service, Method: call.Method}
	}

	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()

	return method(call)
}

type panicError struct {
	value interface{}
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

func (e *panicError) ErrorType() string {
	return "Panic"
}
