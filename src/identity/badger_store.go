package identity

import (
	"errors"

	"github.com/dgraph-io/badger"
	"github.com/rcenet/rce/src/common"
)

var (
	instanceIDKey  = []byte("identity/instance")
	displayNameKey = []byte("identity/name")
)

// Store keeps the parts of the local identity that outlive a session.
type Store interface {
	// InstanceNodeID returns the persisted instance id, creating one on first
	// use.
	InstanceNodeID() (InstanceNodeID, error)
	// DisplayName returns the persisted display name, or a KeyNotFound error.
	DisplayName() (string, error)
	// SetDisplayName persists the display name.
	SetDisplayName(name string) error
	Close() error
}

// StoreErr is returned by stores for missing keys.
type StoreErr struct {
	key string
}

// Error implements the error interface.
func (e *StoreErr) Error() string {
	return "identity store: " + e.key + ": Not Found"
}

// ErrType implements common.Typed.
func (e *StoreErr) ErrType() common.ErrType {
	return common.KeyNotFound
}

// BadgerStore persists the instance id and display name in a badger database
// so that the instance part of the node identity survives restarts.
type BadgerStore struct {
	db   *badger.DB
	path string
}

// NewBadgerStore opens, or creates, the identity database under path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.SyncWrites = true
	opts.Logger = nil

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &BadgerStore{
		db:   handle,
		path: path,
	}, nil
}

// InstanceNodeID implements the Store interface.
func (s *BadgerStore) InstanceNodeID() (InstanceNodeID, error) {
	raw, err := s.get(instanceIDKey)
	if err == nil {
		return ParseInstanceNodeID(string(raw))
	}
	if !common.Is(err, common.KeyNotFound) {
		return InstanceNodeID{}, err
	}

	id := NewInstanceNodeID()
	if err := s.set(instanceIDKey, []byte(id.RawID())); err != nil {
		return InstanceNodeID{}, err
	}
	return id, nil
}

// DisplayName implements the Store interface.
func (s *BadgerStore) DisplayName() (string, error) {
	raw, err := s.get(displayNameKey)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// SetDisplayName implements the Store interface.
func (s *BadgerStore) SetDisplayName(name string) error {
	return s.set(displayNameKey, []byte(name))
}

// Path returns the database directory.
func (s *BadgerStore) Path() string {
	return s.path
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) get(key []byte) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, &StoreErr{key: string(key)}
	}
	return val, err
}

func (s *BadgerStore) set(key, val []byte) error {
	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	if err := tx.Set(key, val); err != nil {
		return err
	}

	return tx.Commit()
}

// InmemStore is a Store that forgets everything when the process exits. It is
// used when identity persistence is disabled.
type InmemStore struct {
	id   InstanceNodeID
	name *string
}

// NewInmemStore creates an InmemStore with a random instance id.
func NewInmemStore() *InmemStore {
	return &InmemStore{id: NewInstanceNodeID()}
}

// InstanceNodeID implements the Store interface.
func (s *InmemStore) InstanceNodeID() (InstanceNodeID, error) {
	return s.id, nil
}

// DisplayName implements the Store interface.
func (s *InmemStore) DisplayName() (string, error) {
	if s.name == nil {
		return "", &StoreErr{key: string(displayNameKey)}
	}
	return *s.name, nil
}

// SetDisplayName implements the Store interface.
func (s *InmemStore) SetDisplayName(name string) error {
	s.name = &name
	return nil
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}
