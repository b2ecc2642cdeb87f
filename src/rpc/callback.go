package rpc

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rcenet/rce/src/identity"
	"github.com/rcenet/rce/src/metrics"
	"github.com/rcenet/rce/src/protocol"
	"github.com/sirupsen/logrus"
)

// CallbackServiceName is the rpc service through which remote nodes reach
// the callback objects of a node.
const CallbackServiceName = "rce.callback"

// KindCallbackReference is the schema kind of CallbackReference.
const KindCallbackReference = "rce.callback-ref"

var (
	// ErrNoSuchCallback is returned for unknown or torn down object ids.
	ErrNoSuchCallback = errors.New("no such callback object")

	// ErrCallbackNotPermitted is returned when a node calls a callback object
	// that was not handed to it.
	ErrCallbackNotPermitted = errors.New("callback object not bound to caller")
)

// ReleaseOutcome tells a releasing holder what happened to the binding.
type ReleaseOutcome int

const (
	// StillInUse means other holders keep the binding alive.
	StillInUse ReleaseOutcome = iota
	// TornDown means this release removed the binding.
	TornDown
	// AlreadyGone means the binding was removed before, by another release or
	// by its TTL.
	AlreadyGone
	// NotHeld means the releasing node holds no reference to the binding,
	// either never or not anymore.
	NotHeld
)

func (o ReleaseOutcome) String() string {
	switch o {
	case StillInUse:
		return "StillInUse"
	case TornDown:
		return "TornDown"
	case AlreadyGone:
		return "AlreadyGone"
	case NotHeld:
		return "NotHeld"
	default:
		return "Unknown"
	}
}

// CallbackObject is an object of the local node that remote nodes may call.
type CallbackObject struct {
	Name    string
	Methods MethodTable
}

// NewCallbackObject creates a CallbackObject.
func NewCallbackObject(name string, methods MethodTable) *CallbackObject {
	return &CallbackObject{Name: name, Methods: methods}
}

// CallbackReference designates a callback object on its home node. It can be
// passed as an rpc argument.
type CallbackReference struct {
	ObjectID string `codec:"id"`
	Home     string `codec:"home"`
}

// RegisterTypes adds the kinds of this package to schema.
func RegisterTypes(schema *protocol.Schema) error {
	return schema.Register(KindCallbackReference, CallbackReference{})
}

type binding struct {
	id     string
	object *CallbackObject
	// references per holding node; a holder is dropped when its count
	// reaches zero
	holders map[identity.InstanceNodeSessionID]int
	expires time.Time
}

func (b *binding) refs() int {
	n := 0
	for _, c := range b.holders {
		n += c
	}
	return n
}

// CallbackService holds the callback objects of the local node.
type CallbackService struct {
	local identity.InstanceNodeSessionID
	ttl   time.Duration

	mu       sync.Mutex
	bindings map[string]*binding
	byObject map[*CallbackObject]*binding

	metrics *metrics.Collector
	logger  *logrus.Entry
}

// NewCallbackService creates a CallbackService. Bindings not used nor
// renewed for ttl are removed by Sweep.
func NewCallbackService(local identity.InstanceNodeSessionID, ttl time.Duration, collector *metrics.Collector, logger *logrus.Entry) *CallbackService {
	return &CallbackService{
		local:    local,
		ttl:      ttl,
		bindings: make(map[string]*binding),
		byObject: make(map[*CallbackObject]*binding),
		metrics:  collector,
		logger:   logger,
	}
}

// AddCallbackObject binds obj for calls from remote and returns its object
// id. Adding an object that is already bound returns the same id and takes
// one more reference.
func (s *CallbackService) AddCallbackObject(obj *CallbackObject, remote identity.InstanceNodeSessionID) (string, error) {
	if obj == nil {
		return "", errors.New("nil callback object")
	}
	if remote.IsZero() {
		return "", errors.New("callback object without remote node")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.byObject[obj]
	if !ok {
		b = &binding{
			id:      strings.ReplaceAll(uuid.New().String(), "-", ""),
			object:  obj,
			holders: make(map[identity.InstanceNodeSessionID]int),
		}
		s.bindings[b.id] = b
		s.byObject[obj] = b
	}
	b.holders[remote]++
	b.expires = time.Now().Add(s.ttl)

	s.metrics.SetCallbackBindings(len(s.bindings))

	s.logger.WithFields(logrus.Fields{
		"object": b.id,
		"name":   obj.Name,
		"remote": remote.RawID(),
		"refs":   b.refs(),
	}).Debug("Callback object bound")

	return b.id, nil
}

// Reference returns the reference under which remote nodes reach a bound
// object.
func (s *CallbackService) Reference(objectID string) CallbackReference {
	return CallbackReference{ObjectID: objectID, Home: s.local.RawID()}
}

// Release drops one of the references holder took on a binding. The
// binding is torn down when its last holder releases it.
func (s *CallbackService) Release(objectID string, holder identity.InstanceNodeSessionID) ReleaseOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bindings[objectID]
	if !ok {
		return AlreadyGone
	}

	count, ok := b.holders[holder]
	if !ok {
		return NotHeld
	}
	if count > 1 {
		b.holders[holder] = count - 1
	} else {
		delete(b.holders, holder)
	}
	if len(b.holders) > 0 {
		return StillInUse
	}

	s.remove(b)
	s.logger.WithField("object", objectID).Debug("Callback object released")
	return TornDown
}

// SetTTL sets the remaining lifetime of a binding.
func (s *CallbackService) SetTTL(objectID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bindings[objectID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchCallback, objectID)
	}
	b.expires = time.Now().Add(ttl)
	return nil
}

// Sweep removes the bindings that expired at now and returns their ids.
func (s *CallbackService) Sweep(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for id, b := range s.bindings {
		if now.After(b.expires) {
			s.remove(b)
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)

	if len(expired) > 0 {
		s.logger.WithField("count", len(expired)).Debug("Callback objects expired")
	}
	return expired
}

// Len returns the number of bindings.
func (s *CallbackService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bindings)
}

// Invoke calls a method of a bound object on behalf of from. Using a binding
// renews its TTL.
func (s *CallbackService) Invoke(from identity.InstanceNodeSessionID, objectID string, method string, args []interface{}) (interface{}, error) {
	s.mu.Lock()
	b, ok := s.bindings[objectID]
	if ok {
		if _, permitted := b.holders[from]; !permitted {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: %s by %s", ErrCallbackNotPermitted, objectID, from.RawID())
		}
		b.expires = time.Now().Add(s.ttl)
	}
	s.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchCallback, objectID)
	}

	m, ok := b.object.Methods[method]
	if !ok {
		return nil, &NoSuchMethodError{Service: b.object.Name, Method: method}
	}
	return m(&Call{Sender: from, Service: b.object.Name, Method: method, Args: args})
}

// Methods returns the method table of the callback rpc service.
func (s *CallbackService) Methods() MethodTable {
	return MethodTable{
		"invoke": func(call *Call) (interface{}, error) {
			id, err := call.String(0)
			if err != nil {
				return nil, err
			}
			method, err := call.String(1)
			if err != nil {
				return nil, err
			}
			return s.Invoke(call.Sender, id, method, call.Args[2:])
		},
		"release": func(call *Call) (interface{}, error) {
			id, err := call.String(0)
			if err != nil {
				return nil, err
			}
			return int(s.Release(id, call.Sender)), nil
		},
	}
}

// remove must be called with the lock held.
func (s *CallbackService) remove(b *binding) {
	delete(s.bindings, b.id)
	delete(s.byObject, b.object)
	s.metrics.SetCallbackBindings(len(s.bindings))
}
