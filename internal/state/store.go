package state

import (
	"fmt"

	"github.com/cosmos/iavl"
	dbm "github.com/tendermint/tm-db"
)

const treeCacheSize = 100_000

// Store is the authenticated persistent record store. All records live
// in a single Merkle-ized tree so one root hash commits to the entire
// ledger, order, and position keyspace. Mutations go through a Txn and
// reach the tree only on Txn commit; versions are persisted by Commit.
type Store struct {
	tree    *iavl.MutableTree
	version int64
	root    []byte
}

// OpenStore loads (or initializes) a store on the given backend.
func OpenStore(db dbm.DB) (*Store, error) {
	tree, err := iavl.NewMutableTree(db, treeCacheSize, false)
	if err != nil {
		return nil, fmt.Errorf("create tree: %w", err)
	}
	version, err := tree.Load()
	if err != nil {
		return nil, fmt.Errorf("load tree: %w", err)
	}
	s := &Store{tree: tree, version: version}
	if version > 0 {
		root, err := tree.Hash()
		if err != nil {
			return nil, fmt.Errorf("hash tree: %w", err)
		}
		s.root = root
	}
	return s, nil
}

// OpenMemStore opens a store on an in-memory backend, for tests.
func OpenMemStore() (*Store, error) {
	return OpenStore(dbm.NewMemDB())
}

// Begin starts a transaction overlay on the current working state.
func (s *Store) Begin() *Txn {
	return &Txn{
		store:   s,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

// Commit persists the working tree as a new version and returns the
// resulting root hash.
func (s *Store) Commit() ([]byte, int64, error) {
	root, version, err := s.tree.SaveVersion()
	if err != nil {
		return nil, 0, fmt.Errorf("save version: %w", err)
	}
	s.version = version
	s.root = root
	return root, version, nil
}

// Root returns the root hash of the last committed version.
func (s *Store) Root() []byte {
	return s.root
}

// Version returns the last committed version.
func (s *Store) Version() int64 {
	return s.version
}

func (s *Store) get(key []byte) ([]byte, error) {
	return s.tree.Get(key)
}

func (s *Store) set(key, value []byte) error {
	_, err := s.tree.Set(key, value)
	return err
}

func (s *Store) remove(key []byte) error {
	_, _, err := s.tree.Remove(key)
	return err
}
