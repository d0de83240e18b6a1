// Copyright 2025 Certen Protocol
package contracts

import (
	"encoding/json"
	"fmt"

	"github.com/certen/sidechain-node/pkg/consensus"
	"github.com/certen/sidechain-node/pkg/ledger"
)

// LedgerSource reads the witnesses contract's tables directly from the
// ledger's own document store, implementing consensus.WitnessRegistry,
// consensus.ParamsSource, and consensus.ScheduleSource without a second
// copy of the registry: the Round Coordinator and the contract share one
// source of truth.
type LedgerSource struct {
	store *ledger.Store
}

// NewLedgerSource wraps store as a consensus.WitnessRegistry /
// ParamsSource / ScheduleSource.
func NewLedgerSource(store *ledger.Store) *LedgerSource {
	return &LedgerSource{store: store}
}

// GetWitness implements consensus.WitnessRegistry.
func (s *LedgerSource) GetWitness(account string) (*consensus.Witness, error) {
	raw, err := s.store.FindOneInTable(WitnessesContract, "registry", func(doc []byte) bool {
		var row witnessRow
		if json.Unmarshal(doc, &row) != nil {
			return false
		}
		return row.Account == account
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ledger.ErrNotFound
	}
	var row witnessRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, err
	}
	return &consensus.Witness{Account: row.Account, SigningKey: row.SigningKey, BLSPublicKey: row.BLSPublicKey, IP: row.IP}, nil
}

// GetParams implements consensus.ParamsSource.
func (s *LedgerSource) GetParams() (*consensus.Params, error) {
	raw, err := s.store.FindOneInTable(WitnessesContract, "params", nil)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("contracts: params row not found, is the witnesses contract deployed?")
	}
	var row paramsRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, err
	}
	return &consensus.Params{
		Round:                   row.Round,
		LastBlockRound:          row.LastBlockRound,
		LastVerifiedBlockNumber: row.LastVerifiedBlockNumber,
		CurrentWitness:          row.CurrentWitness,
	}, nil
}

// GetSchedule implements consensus.ScheduleSource.
func (s *LedgerSource) GetSchedule(round uint64) ([]string, error) {
	rows, err := s.store.FindInTable(WitnessesContract, "schedules", func(doc []byte) bool {
		var row scheduleRow
		if json.Unmarshal(doc, &row) != nil {
			return false
		}
		return row.Round == round
	})
	if err != nil {
		return nil, err
	}
	accounts := make([]string, 0, len(rows))
	for _, raw := range rows {
		var row scheduleRow
		if err := json.Unmarshal(raw, &row); err != nil {
			continue
		}
		accounts = append(accounts, row.Witness)
	}
	return accounts, nil
}
