// Copyright 2025 Certen Protocol
package contracts

import (
	"encoding/json"

	"github.com/certen/sidechain-node/pkg/execution"
	"github.com/certen/sidechain-node/pkg/execution/currency"
)

// TokenCode is the deploy-time code key for the fungible token contract.
const TokenCode = "token_v1"

type balanceRow struct {
	Account string `json:"account"`
	Balance string `json:"balance"`
}

// TokenFactory builds a minimal fungible token contract: mint/transfer over
// a balances table, with amounts parsed through currency.Amount so no
// binary float ever touches a balance.
func TokenFactory() map[string]execution.ActionHandler {
	return map[string]execution.ActionHandler{
		"createSSC": func(ctx *execution.ActionContext) {
			if _, err := ctx.CreateTable("balances"); err != nil {
				ctx.Assert(false, err.Error())
			}
		},

		"mint": func(ctx *execution.ActionContext) {
			var args struct {
				To     string `json:"to"`
				Amount string `json:"amount"`
			}
			if err := json.Unmarshal(ctx.Payload, &args); err != nil {
				ctx.Assert(false, "invalid payload")
				return
			}
			amount, err := currency.Parse(args.Amount)
			if err != nil || amount.IsNegative() {
				ctx.Assert(false, "invalid amount")
				return
			}
			tbl := ctx.GetTable("balances")
			if tbl == nil {
				ctx.Assert(false, "balances table missing")
				return
			}
			to := args.To
			if to == "" {
				to = ctx.Sender
			}
			balance := currency.Zero()
			if raw, err := tbl.FindOne(matchAccount(to)); err == nil && raw != nil {
				var row balanceRow
				if json.Unmarshal(raw, &row) == nil {
					balance, _ = currency.Parse(row.Balance)
				}
			}
			balance = balance.Add(amount)
			if err := tbl.Insert(to, balanceRow{Account: to, Balance: balance.String()}); err != nil {
				ctx.Assert(false, err.Error())
				return
			}
			ctx.Emit("mint", balanceRow{Account: to, Balance: balance.String()})
		},

		"transfer": func(ctx *execution.ActionContext) {
			var args struct {
				To     string `json:"to"`
				Amount string `json:"amount"`
			}
			if err := json.Unmarshal(ctx.Payload, &args); err != nil || args.To == "" {
				ctx.Assert(false, "invalid payload")
				return
			}
			amount, err := currency.Parse(args.Amount)
			if err != nil || amount.IsNegative() {
				ctx.Assert(false, "invalid amount")
				return
			}
			tbl := ctx.GetTable("balances")
			if tbl == nil {
				ctx.Assert(false, "balances table missing")
				return
			}

			senderBalance := currency.Zero()
			if raw, err := tbl.FindOne(matchAccount(ctx.Sender)); err == nil && raw != nil {
				var row balanceRow
				if json.Unmarshal(raw, &row) == nil {
					senderBalance, _ = currency.Parse(row.Balance)
				}
			}
			if !ctx.Assert(senderBalance.Cmp(amount) >= 0, "insufficient balance") {
				return
			}

			recipientBalance := currency.Zero()
			if raw, err := tbl.FindOne(matchAccount(args.To)); err == nil && raw != nil {
				var row balanceRow
				if json.Unmarshal(raw, &row) == nil {
					recipientBalance, _ = currency.Parse(row.Balance)
				}
			}

			senderBalance = senderBalance.Sub(amount)
			recipientBalance = recipientBalance.Add(amount)
			if err := tbl.Insert(ctx.Sender, balanceRow{Account: ctx.Sender, Balance: senderBalance.String()}); err != nil {
				ctx.Assert(false, err.Error())
				return
			}
			if err := tbl.Insert(args.To, balanceRow{Account: args.To, Balance: recipientBalance.String()}); err != nil {
				ctx.Assert(false, err.Error())
				return
			}
			ctx.Emit("transfer", map[string]string{"from": ctx.Sender, "to": args.To, "amount": args.Amount})
		},
	}
}

func matchAccount(account string) func([]byte) bool {
	return func(doc []byte) bool {
		var row balanceRow
		if json.Unmarshal(doc, &row) != nil {
			return false
		}
		return row.Account == account
	}
}
