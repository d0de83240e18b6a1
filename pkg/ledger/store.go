package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/certen/sidechain-node/pkg/kvstore"
)

// tableNamePattern matches the contract/table naming rule from the data
// model: letters, digits, underscore.
var tableNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidTableName reports whether name is a legal contract or table name.
func ValidTableName(name string) bool {
	return name != "" && tableNamePattern.MatchString(name)
}

// Store is the document-collection abstraction the out-of-scope embedded
// database would otherwise provide: a chain collection, a contracts
// collection, and one collection per contract-owned table, all persisted as
// key ranges in a single KV.
type Store struct {
	kv kvstore.KV
}

// NewStore wraps kv as a ledger Store.
func NewStore(kv kvstore.KV) *Store {
	return &Store{kv: kv}
}

var (
	chainPrefix    = []byte("chain:")
	contractPrefix = []byte("contracts:")
)

func chainKey(blockNumber uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, blockNumber)
	return append(append([]byte{}, chainPrefix...), b...)
}

func contractKey(name string) []byte {
	return append(append([]byte{}, contractPrefix...), []byte(name)...)
}

func tablePrefix(contract, table string) []byte {
	return []byte(fmt.Sprintf("tbl:%s_%s:", contract, table))
}

func tableRowKey(contract, table, rowID string) []byte {
	return append(tablePrefix(contract, table), []byte(rowID)...)
}

// PutBlock writes a block into the chain collection at its own block number.
func (s *Store) PutBlock(b *Block) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return s.kv.Set(chainKey(b.BlockNumber), raw)
}

// GetBlock reads the block at blockNumber, or ErrNotFound.
func (s *Store) GetBlock(blockNumber uint64) (*Block, error) {
	raw, err := s.kv.Get(chainKey(blockNumber))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	var b Block
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// GetLatestBlock scans the chain collection for the highest block number
// present. Returns ErrNotFound if the chain is empty.
func (s *Store) GetLatestBlock() (*Block, error) {
	var latest *Block
	err := s.kv.Iterate(chainPrefix, func(_, value []byte) bool {
		var b Block
		if json.Unmarshal(value, &b) == nil {
			if latest == nil || b.BlockNumber > latest.BlockNumber {
				latest = &b
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

// IterateChain walks every block in ascending block-number order, calling fn
// for each. Iteration stops early if fn returns false.
func (s *Store) IterateChain(fn func(b *Block) bool) error {
	// chainKey encodes block number as big-endian, so lexical key order is
	// numeric order.
	cont := true
	err := s.kv.Iterate(chainPrefix, func(_, value []byte) bool {
		var b Block
		if json.Unmarshal(value, &b) != nil {
			return true
		}
		cont = fn(&b)
		return cont
	})
	return err
}

// PutContract writes a contract record write-once: it is the caller's
// responsibility (via GetContract) to reject redeployment before calling
// this.
func (s *Store) PutContract(c *ContractRecord) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.kv.Set(contractKey(c.Name), raw)
}

// GetContract reads a contract record, or ErrNotFound.
func (s *Store) GetContract(name string) (*ContractRecord, error) {
	raw, err := s.kv.Get(contractKey(name))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	var c ContractRecord
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateTable is idempotent: it returns the existing table's qualified name
// if contract already owns table, otherwise registers a new one in the
// contract's record.
func (s *Store) CreateTable(contract, table string) (string, error) {
	qualified := contract + "_" + table
	rec, err := s.GetContract(contract)
	if err != nil {
		return "", err
	}
	for _, t := range rec.Tables {
		if t == qualified {
			return qualified, nil
		}
	}
	rec.Tables = append(rec.Tables, qualified)
	if err := s.PutContract(rec); err != nil {
		return "", err
	}
	return qualified, nil
}

// Insert writes a document keyed by rowID into <contract>_<table>.
func (s *Store) Insert(contract, table, rowID string, doc interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.kv.Set(tableRowKey(contract, table, rowID), raw)
}

// FindInTable returns every document in <contract>_<table> for which match
// returns true. match receives the raw JSON document bytes.
func (s *Store) FindInTable(contract, table string, match func(doc []byte) bool) ([][]byte, error) {
	var out [][]byte
	err := s.kv.Iterate(tablePrefix(contract, table), func(_, value []byte) bool {
		if match == nil || match(value) {
			out = append(out, value)
		}
		return true
	})
	return out, err
}

// FindOneInTable returns the first matching document, or nil if none match.
func (s *Store) FindOneInTable(contract, table string, match func(doc []byte) bool) ([]byte, error) {
	var found []byte
	err := s.kv.Iterate(tablePrefix(contract, table), func(_, value []byte) bool {
		if match == nil || match(value) {
			found = value
			return false
		}
		return true
	})
	return found, err
}
