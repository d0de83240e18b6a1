// Copyright 2025 Certen Protocol
package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/certen/sidechain-node/pkg/ledger"
	"github.com/certen/sidechain-node/pkg/metrics"
)

// contractNamePattern is the data model's naming rule for contracts and
// tables: letters, digits, underscore.
var contractNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// forwardedFields are the payload keys trusted-forwarded from an outer
// transaction's payload into a reentrant call's sanitized params.
var forwardedFields = []string{"amountSTEEMSBD", "recipient", "isSignedWithActiveKey"}

// maxCallDepth bounds executeSmartContract reentrancy. Absent from the
// reference; added here per the design's recommendation.
const maxCallDepth = 4

// Executor runs untrusted contract code deterministically against a
// *ledger.Store, inside a bounded wall-clock budget, exposing the fixed
// host API of ActionContext. It implements ledger.Executor.
type Executor struct {
	registry  *Registry
	vmTimeout time.Duration
	debug     func(contract, msg string)
}

// New creates an Executor. vmTimeout bounds every single invocation
// (deploy's createSSC call and every execute/reentrant call); debug, if
// non-nil, receives every ctx.Debug call and may be wired to a logger or
// left nil to make debug output a true no-op.
func New(registry *Registry, vmTimeout time.Duration, debug func(contract, msg string)) *Executor {
	return &Executor{registry: registry, vmTimeout: vmTimeout, debug: debug}
}

// Deploy implements ledger.Executor. tx.Contract is the name being
// deployed; tx.Payload is a JSON object {"code": "<registry key>", "params":
// <createSSC argument>}.
func (e *Executor) Deploy(store *ledger.Store, tx *ledger.Transaction) (string, error) {
	if tx.Contract == nil || *tx.Contract == "" {
		return errorLogs("deploy requires a non-empty contract name"), nil
	}
	name := *tx.Contract
	if !contractNamePattern.MatchString(name) {
		return errorLogs("deploy requires a non-empty contract name"), nil
	}

	var req struct {
		Code   string          `json:"code"`
		Params json.RawMessage `json:"params"`
	}
	if tx.Payload != nil {
		if err := json.Unmarshal([]byte(*tx.Payload), &req); err != nil {
			return errorLogs(fmt.Sprintf("JSONParseError: %s", err.Error())), nil
		}
	}
	if req.Code == "" {
		return errorLogs("deploy requires non-empty code"), nil
	}

	if _, err := store.GetContract(name); err == nil {
		return errorLogs("contract already exists"), nil
	} else if err != ledger.ErrNotFound {
		return "", err
	}

	factory, ok := e.registry.lookup(req.Code)
	if !ok {
		return errorLogs(fmt.Sprintf("unknown contract code: %s", req.Code)), nil
	}

	rec := &ledger.ContractRecord{Name: name, Owner: tx.Sender, Code: req.Code}
	if err := store.PutContract(rec); err != nil {
		return "", err
	}

	actions := factory()
	ctx := &ActionContext{
		Sender:               tx.Sender,
		Owner:                tx.Sender,
		RefAnchorBlockNumber: tx.RefAnchorBlockNumber,
		Action:               "createSSC",
		Payload:              req.Params,
		contract:             name,
		store:                store,
		logs:                 &LogSet{},
		exec:                 e,
	}
	if handler, ok := actions["createSSC"]; ok {
		if err := e.runBounded(func() { handler(ctx) }); err != nil {
			ctx.logs.AddError(err.Error())
		}
	}
	return ctx.logs.JSON()
}

// Execute implements ledger.Executor.
func (e *Executor) Execute(store *ledger.Store, tx *ledger.Transaction) (string, error) {
	if tx.Contract == nil || *tx.Contract == "" {
		return errorLogs("contract doesn't exist"), nil
	}
	name := *tx.Contract
	if tx.Action != nil && *tx.Action == "createSSC" {
		return errorLogs(ErrCreateSSCForbidden.Error()), nil
	}

	rec, err := store.GetContract(name)
	if err == ledger.ErrNotFound {
		return errorLogs("contract doesn't exist"), nil
	} else if err != nil {
		return "", err
	}

	factory, ok := e.registry.lookup(rec.Code)
	if !ok {
		return errorLogs(fmt.Sprintf("unknown contract code: %s", rec.Code)), nil
	}
	actions := factory()

	var actionName string
	if tx.Action != nil {
		actionName = *tx.Action
	}

	var payload json.RawMessage
	if tx.Payload != nil {
		payload = json.RawMessage(*tx.Payload)
	}

	ctx := &ActionContext{
		Sender:               tx.Sender,
		Owner:                rec.Owner,
		RefAnchorBlockNumber: tx.RefAnchorBlockNumber,
		Action:               actionName,
		Payload:              payload,
		contract:             name,
		store:                store,
		logs:                 &LogSet{},
		exec:                 e,
	}
	if handler, ok := actions[actionName]; ok && actionName != "" {
		if err := e.runBounded(func() { handler(ctx) }); err != nil {
			ctx.logs.AddError(err.Error())
		}
	}
	return ctx.logs.JSON()
}

// reenter implements the executeSmartContract host call: same outer sender,
// forwarded value/auth fields, logs both propagated and returned fresh.
func (e *Executor) reenter(outer *ActionContext, contractName, actionName, paramsJSON string) (*LogSet, error) {
	if actionName == "createSSC" {
		return &LogSet{Errors: []string{ErrCreateSSCForbidden.Error()}}, nil
	}
	if outer.depth+1 > maxCallDepth {
		return nil, ErrDepthExceeded
	}

	rec, err := outer.store.GetContract(contractName)
	if err == ledger.ErrNotFound {
		return &LogSet{Errors: []string{"contract doesn't exist"}}, nil
	} else if err != nil {
		return nil, err
	}

	factory, ok := e.registry.lookup(rec.Code)
	if !ok {
		return &LogSet{Errors: []string{fmt.Sprintf("unknown contract code: %s", rec.Code)}}, nil
	}
	actions := factory()

	mergedPayload, err := mergeForwardedFields(outer.Payload, paramsJSON)
	if err != nil {
		return nil, err
	}

	inner := &ActionContext{
		Sender:               outer.Sender,
		Owner:                rec.Owner,
		RefAnchorBlockNumber: outer.RefAnchorBlockNumber,
		Action:               actionName,
		Payload:              mergedPayload,
		contract:             contractName,
		store:                outer.store,
		logs:                 &LogSet{},
		exec:                 e,
		depth:                outer.depth + 1,
	}
	if handler, ok := actions[actionName]; ok {
		if err := e.runBounded(func() { handler(inner) }); err != nil {
			inner.logs.AddError(err.Error())
		}
	}

	outer.logs.Merge(inner.logs)
	return inner.logs, nil
}

// mergeForwardedFields copies amountSTEEMSBD/recipient/isSignedWithActiveKey
// from the outer payload into paramsJSON, overriding any conflicting value
// already present there.
func mergeForwardedFields(outerPayload json.RawMessage, paramsJSON string) (json.RawMessage, error) {
	params := map[string]interface{}{}
	if paramsJSON != "" {
		if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
			return nil, err
		}
	}
	if len(outerPayload) > 0 {
		outer := map[string]interface{}{}
		if err := json.Unmarshal(outerPayload, &outer); err == nil {
			for _, f := range forwardedFields {
				if v, ok := outer[f]; ok {
					params[f] = v
				}
			}
		}
	}
	return json.Marshal(params)
}

// runBounded runs fn on its own goroutine and enforces vmTimeout as a
// wall-clock fallback guard (the corpus has no embeddable interpreter to
// fuel-limit instead, see DESIGN.md). fn MUST NOT touch anything outside
// the ActionContext/Store it closed over.
func (e *Executor) runBounded(fn func()) error {
	start := time.Now()
	defer func() { metrics.ExecutionDuration.Observe(time.Since(start).Seconds()) }()

	if e.vmTimeout <= 0 {
		fn()
		metrics.TransactionsExecuted.WithLabelValues("ok").Inc()
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.vmTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()

	select {
	case <-done:
		metrics.TransactionsExecuted.WithLabelValues("ok").Inc()
		return nil
	case <-ctx.Done():
		metrics.TransactionsExecuted.WithLabelValues("timeout").Inc()
		return ErrTimeout
	}
}
