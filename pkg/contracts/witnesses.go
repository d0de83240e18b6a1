// Copyright 2025 Certen Protocol
//
// Package contracts holds the compiled-in contract types deployed at
// genesis: the witnesses contract that backs the Round Coordinator's
// registry/schedule/params sources, and a simple token contract exercising
// the currency host API.
package contracts

import (
	"encoding/json"

	"github.com/certen/sidechain-node/pkg/execution"
)

// WitnessesCode is the deploy-time code key for the witnesses contract
// factory.
const WitnessesCode = "witnesses_v1"

// WitnessesContract is the conventional contract name the witnesses
// factory is deployed under; LedgerSource reads its tables by this name.
const WitnessesContract = "witnesses"

type witnessRow struct {
	Account      string `json:"account"`
	SigningKey   string `json:"signingKey"`
	BLSPublicKey string `json:"blsPublicKey,omitempty"`
	IP           string `json:"ip"`
}

type scheduleRow struct {
	Round   uint64 `json:"round"`
	Witness string `json:"witness"`
}

type paramsRow struct {
	Round                   uint64 `json:"round"`
	LastBlockRound          uint64 `json:"lastBlockRound"`
	LastVerifiedBlockNumber uint64 `json:"lastVerifiedBlockNumber"`
	CurrentWitness          string `json:"currentWitness"`
}

const paramsRowID = "global"

// WitnessesFactory builds the witnesses contract: a registry of witness
// accounts, a per-round verifying schedule, and the single global params
// record the Round Coordinator reads every tick. Non-goal per spec.md §2:
// this contract does not itself elect witnesses; register/setSchedule/
// advanceRound are trusted operations, gated only by table ownership, not
// by any additional authorization scheme.
func WitnessesFactory() map[string]execution.ActionHandler {
	return map[string]execution.ActionHandler{
		"createSSC": func(ctx *execution.ActionContext) {
			if _, err := ctx.CreateTable("registry"); err != nil {
				ctx.Assert(false, err.Error())
				return
			}
			if _, err := ctx.CreateTable("schedules"); err != nil {
				ctx.Assert(false, err.Error())
				return
			}
			tbl, err := ctx.CreateTable("params")
			if err != nil {
				ctx.Assert(false, err.Error())
				return
			}
			_ = tbl.Insert(paramsRowID, paramsRow{CurrentWitness: ctx.Sender})
		},

		"register": func(ctx *execution.ActionContext) {
			var args witnessRow
			if err := json.Unmarshal(ctx.Payload, &args); err != nil || args.Account == "" || args.SigningKey == "" {
				ctx.Assert(false, "register requires account, signingKey, ip")
				return
			}
			tbl := ctx.GetTable("registry")
			if tbl == nil {
				ctx.Assert(false, "registry table missing")
				return
			}
			if err := tbl.Insert(args.Account, args); err != nil {
				ctx.Assert(false, err.Error())
				return
			}
			ctx.Emit("registered", args)
		},

		"setSchedule": func(ctx *execution.ActionContext) {
			var args struct {
				Round    uint64   `json:"round"`
				Accounts []string `json:"accounts"`
			}
			if err := json.Unmarshal(ctx.Payload, &args); err != nil || len(args.Accounts) == 0 {
				ctx.Assert(false, "setSchedule requires round and accounts")
				return
			}
			tbl := ctx.GetTable("schedules")
			if tbl == nil {
				ctx.Assert(false, "schedules table missing")
				return
			}
			for _, account := range args.Accounts {
				row := scheduleRow{Round: args.Round, Witness: account}
				rowID := account
				if err := tbl.Insert(rowID+":"+itoa(args.Round), row); err != nil {
					ctx.Assert(false, err.Error())
					return
				}
			}
			ctx.Emit("scheduleSet", args)
		},

		// advanceRound is called once per produced block range by the node
		// operating this contract's host (not by the Round Coordinator,
		// which only reads params); it rolls currentWitness and the round
		// counters forward deterministically.
		"advanceRound": func(ctx *execution.ActionContext) {
			var args struct {
				LastBlockRound uint64 `json:"lastBlockRound"`
				NextWitness    string `json:"nextWitness"`
			}
			if err := json.Unmarshal(ctx.Payload, &args); err != nil {
				ctx.Assert(false, "advanceRound requires lastBlockRound and nextWitness")
				return
			}
			tbl := ctx.GetTable("params")
			if tbl == nil {
				ctx.Assert(false, "params table missing")
				return
			}
			rows, err := tbl.Find(nil)
			if err != nil || len(rows) == 0 {
				ctx.Assert(false, "params row missing")
				return
			}
			var current paramsRow
			_ = json.Unmarshal(rows[0], &current)

			next := paramsRow{
				Round:                   current.Round + 1,
				LastBlockRound:          args.LastBlockRound,
				LastVerifiedBlockNumber: current.LastBlockRound,
				CurrentWitness:          args.NextWitness,
			}
			if err := tbl.Insert(paramsRowID, next); err != nil {
				ctx.Assert(false, err.Error())
				return
			}
			ctx.Emit("roundAdvanced", next)
		},

		// proposeRound records a finalized, anchored round for audit via
		// findInTable; it is invoked by the anchor chain's witnesses
		// contract counterpart in production, never by this node directly.
		"proposeRound": func(ctx *execution.ActionContext) {
			ctx.Assert(false, "proposeRound is anchor-chain only")
		},
	}
}

func itoa(n uint64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
