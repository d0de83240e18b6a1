package execution

import (
	"encoding/json"

	"github.com/certen/sidechain-node/pkg/ledger"
)

// ActionHandler is a single contract action. The contract "object" from the
// data model's template is just a named set of these; there is no class
// hierarchy, matching the mapping actionName -> handler the design favors
// over an embedded interpreter.
type ActionHandler func(ctx *ActionContext)

// Factory builds the action table for one deployed instance of a contract
// type. It is invoked once per deploy (to register createSSC and the
// contract's other actions) and is looked up by the contract record's Code
// field, which in this native-Go model names a compiled-in contract type
// rather than carrying literal source.
type Factory func() map[string]ActionHandler

// Registry holds the compiled-in contract factories available for
// deployment, keyed by the name passed as the deploy transaction's code.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a contract type under codeKey. Re-registering the same key
// overwrites the previous factory; this is a startup-time wiring operation,
// not a runtime one.
func (r *Registry) Register(codeKey string, f Factory) {
	r.factories[codeKey] = f
}

func (r *Registry) lookup(codeKey string) (Factory, bool) {
	f, ok := r.factories[codeKey]
	return f, ok
}

// ActionContext is the sandbox state handed to every action handler
// invocation: the fixed host API of §4.2, minus any ambient authority. There
// is no wall clock, randomness, filesystem, or network reachable from here.
type ActionContext struct {
	Sender               string
	Owner                string
	RefAnchorBlockNumber uint64
	Action               string
	Payload              json.RawMessage

	contract string
	store    *ledger.Store
	logs     *LogSet
	exec     *Executor
	depth    int
	aborted  bool
}

// Debug is a best-effort diagnostic hook; it MAY be a no-op in production
// and never affects logs or determinism.
func (c *ActionContext) Debug(msg string) {
	if c.exec != nil && c.exec.debug != nil {
		c.exec.debug(c.contract, msg)
	}
}

// Emit appends {event, data} to the transaction's events iff event is
// non-empty.
func (c *ActionContext) Emit(event string, data interface{}) {
	c.logs.AddEvent(event, data)
}

// Assert records msg to the transaction's errors when cond is false. It
// never halts execution on its own; the handler decides whether to early
// return. The boolean cond is always returned so callers can write
// `if !ctx.Assert(x, "...") { return }`.
func (c *ActionContext) Assert(cond bool, msg string) bool {
	if !cond && msg != "" {
		c.logs.AddError(msg)
	}
	return cond
}

// CreateTable registers <contract>_<name> under the deploying contract.
// Deploy-only: handlers invoked via Execute never see createSSC's context
// reused, so calling this outside deploy is a programmer error caught by
// the caller's own action wiring, not by this method.
func (c *ActionContext) CreateTable(name string) (*TableHandle, error) {
	qualified, err := c.store.CreateTable(c.contract, name)
	if err != nil {
		return nil, err
	}
	return &TableHandle{store: c.store, contract: c.contract, table: name, qualified: qualified}, nil
}

// GetTable returns a handle iff name was registered during this contract's
// deployment, nil otherwise (table-ownership invariant).
func (c *ActionContext) GetTable(name string) *TableHandle {
	rec, err := c.store.GetContract(c.contract)
	if err != nil {
		return nil
	}
	qualified := c.contract + "_" + name
	for _, t := range rec.Tables {
		if t == qualified {
			return &TableHandle{store: c.store, contract: c.contract, table: name, qualified: qualified}
		}
	}
	return nil
}

// FindInTable is the read-only cross-contract query: any contract may read
// any other contract's table, never write it.
func (c *ActionContext) FindInTable(contract, table string, match func(doc []byte) bool) ([][]byte, error) {
	return c.store.FindInTable(contract, table, match)
}

// FindOneInTable is FindInTable's single-result counterpart.
func (c *ActionContext) FindOneInTable(contract, table string, match func(doc []byte) bool) ([]byte, error) {
	return c.store.FindOneInTable(contract, table, match)
}

// ExecuteSmartContract is the reentrant inter-contract call. sender stays
// the outer transaction's sender (contracts are intermediaries, not
// principals); the callee's errors/events propagate into the outer logs AND
// are returned fresh so the caller can inspect them.
func (c *ActionContext) ExecuteSmartContract(contractName, actionName string, paramsJSON string) (*LogSet, error) {
	return c.exec.reenter(c, contractName, actionName, paramsJSON)
}

// TableHandle is a thin, ownership-checked view over one contract-owned
// collection.
type TableHandle struct {
	store     *ledger.Store
	contract  string
	table     string
	qualified string
}

// Insert writes doc under rowID.
func (t *TableHandle) Insert(rowID string, doc interface{}) error {
	return t.store.Insert(t.contract, t.table, rowID, doc)
}

// Find returns every row matching match.
func (t *TableHandle) Find(match func(doc []byte) bool) ([][]byte, error) {
	return t.store.FindInTable(t.contract, t.table, match)
}

// FindOne returns the first row matching match.
func (t *TableHandle) FindOne(match func(doc []byte) bool) ([]byte, error) {
	return t.store.FindOneInTable(t.contract, t.table, match)
}
