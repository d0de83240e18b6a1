// Copyright 2025 Certen Protocol
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/certen/sidechain-node/pkg/anchor"
	"github.com/certen/sidechain-node/pkg/config"
	"github.com/certen/sidechain-node/pkg/consensus"
	"github.com/certen/sidechain-node/pkg/contracts"
	"github.com/certen/sidechain-node/pkg/crypto/blsagg"
	"github.com/certen/sidechain-node/pkg/crypto/signing"
	"github.com/certen/sidechain-node/pkg/database"
	"github.com/certen/sidechain-node/pkg/execution"
	"github.com/certen/sidechain-node/pkg/kvstore"
	"github.com/certen/sidechain-node/pkg/ledger"
	"github.com/certen/sidechain-node/pkg/server"
)

func main() {
	logger := log.New(log.Writer(), "[sidechain-node] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer closeStore()

	registry := execution.NewRegistry()
	registry.Register(contracts.WitnessesCode, contracts.WitnessesFactory)
	registry.Register(contracts.TokenCode, contracts.TokenFactory)

	executor := execution.New(registry, cfg.JSVMTimeout, func(contract, msg string) {
		logger.Printf("[%s] %s", contract, msg)
	})

	chain := ledger.New(store, executor, cfg.ChainID)
	ensureGenesis(chain, cfg, logger)
	if err := bootstrapContracts(store, chain, cfg, logger); err != nil {
		logger.Fatalf("bootstrap contracts: %v", err)
	}

	var coordinator *consensus.Coordinator
	var healthMonitor *consensus.RoundHealthMonitor
	var serverOpts []server.Option
	if cfg.IsWitness() {
		coordinator, healthMonitor, err = startWitness(ctx, cfg, store, chain, logger)
		if err != nil {
			logger.Fatalf("start witness: %v", err)
		}
		serverOpts = append(serverOpts, server.WithWitnessHealth(healthMonitor))
	} else {
		logger.Printf("ACCOUNT/ACTIVE_SIGNING_KEY not set, running as read-only ledger mirror")
	}

	srv := server.NewServer(cfg.ListenAddr, chain, store, cfg.ChainID, serverOpts...)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatalf("server: %v", err)
		}
	}()

	var dbClient *database.Client
	if cfg.DBHost != "" {
		dbClient, err = database.NewClient(cfg)
		if err != nil {
			logger.Printf("database mirror unavailable: %v", err)
		} else {
			defer dbClient.Close()
			if err := dbClient.MigrateUp(ctx); err != nil {
				logger.Printf("migration failed: %v", err)
			}
		}
	}

	runProductionLoop(ctx, chain, dbClient, cfg, logger)

	if healthMonitor != nil {
		healthMonitor.Stop()
	}
	if coordinator != nil {
		coordinator.Stop()
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("server shutdown: %v", err)
	}
}

// openStore wires the ledger's KV persistence backend: LevelDB under
// DataDir, or an in-memory store when DataDir is empty (tests/devnet).
func openStore(cfg *config.Config) (*ledger.Store, func() error, error) {
	if cfg.DataDir == "" {
		kv := kvstore.NewMemoryKV()
		return ledger.NewStore(kv), func() error { return nil }, nil
	}

	db, err := kvstore.OpenLevelDB("ledger", cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open leveldb: %w", err)
	}
	return ledger.NewStore(db), db.Close, nil
}

// ensureGenesis commits block 0 if the chain is empty.
func ensureGenesis(chain *ledger.Ledger, cfg *config.Config, logger *log.Logger) {
	if _, err := chain.GetLatestBlock(); err == ledger.ErrNotFound {
		if _, err := chain.Genesis(time.Now().UTC().Format(time.RFC3339)); err != nil {
			logger.Fatalf("genesis: %v", err)
		}
		logger.Printf("committed genesis block for chain %s", cfg.ChainID)
	}
}

// bootstrapContracts deploys the witnesses and token contracts into block 1
// if they aren't already present, and, when this node is a witness,
// registers its own account/signingKey into the witnesses registry. This
// replaces the out-of-scope on-chain witness election the design defers to
// an external `witnesses` contract deployment step.
func bootstrapContracts(store *ledger.Store, chain *ledger.Ledger, cfg *config.Config, logger *log.Logger) error {
	if _, err := store.GetContract(contracts.WitnessesContract); err == ledger.ErrNotFound {
		deploy(chain, 1, "bootstrap-witnesses", "bootstrap", contracts.WitnessesContract, `{"code":"`+contracts.WitnessesCode+`","params":{}}`)
		logger.Printf("deployed witnesses contract")
	} else if err != nil {
		return err
	}

	if _, err := store.GetContract("token"); err == ledger.ErrNotFound {
		deploy(chain, 1, "bootstrap-token", "bootstrap", "token", `{"code":"`+contracts.TokenCode+`","params":{}}`)
		logger.Printf("deployed token contract")
	} else if err != nil {
		return err
	}

	if chain.PendingCount() > 0 {
		if _, err := chain.ProduceBlock(time.Now().UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("commit bootstrap block: %w", err)
		}
	}

	if cfg.IsWitness() {
		registerSelf(chain, cfg)
		if chain.PendingCount() > 0 {
			if _, err := chain.ProduceBlock(time.Now().UTC().Format(time.RFC3339)); err != nil {
				return fmt.Errorf("commit witness registration: %w", err)
			}
		}
	}
	return nil
}

func mustSigningKeyHex(cfg *config.Config) string {
	key, err := signing.PrivateKeyFromHex(cfg.ActiveSigningKey)
	if err != nil {
		return ""
	}
	return key.PublicKey().Hex()
}

// mustBLSPublicKeyHex derives the BLS public key to register for this node,
// or "" if ACTIVE_BLS_KEY is unset — the companion signature is additive,
// so a witness missing one simply never contributes to the aggregate.
func mustBLSPublicKeyHex(cfg *config.Config) string {
	if cfg.ActiveBLSKey == "" {
		return ""
	}
	key, err := blsagg.PrivateKeyFromHex(cfg.ActiveBLSKey)
	if err != nil {
		return ""
	}
	return key.PublicKey().Hex()
}

// registerSelf submits the "register" action against the witnesses
// contract for this node's own account.
func registerSelf(chain *ledger.Ledger, cfg *config.Config) {
	signingKey := mustSigningKeyHex(cfg)
	blsKey := mustBLSPublicKeyHex(cfg)
	payload := fmt.Sprintf(`{"account":%q,"signingKey":%q,"blsPublicKey":%q,"ip":%q}`, cfg.Account, signingKey, blsKey, cfg.ListenAddr)
	contract, action := contracts.WitnessesContract, "register"
	tx := ledger.NewTransaction(0, "register-"+cfg.Account, cfg.Account, &contract, &action, &payload)
	chain.Submit(tx)
}

// deploy submits a createSSC transaction deploying code under contractName.
func deploy(chain *ledger.Ledger, refAnchor uint64, txID, sender, contractName, payload string) {
	action := "createSSC"
	contract := contractName
	tx := ledger.NewTransaction(refAnchor, txID, sender, &contract, &action, &payload)
	chain.Submit(tx)
}

// runProductionLoop drains the ledger's pending transactions into a new
// block every AutosaveIntervalMS, mirroring each finalized block into the
// read-model database when configured. Returns once ctx is cancelled.
func runProductionLoop(ctx context.Context, chain *ledger.Ledger, db *database.Client, cfg *config.Config, logger *log.Logger) {
	ticker := time.NewTicker(time.Duration(cfg.AutosaveIntervalMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if chain.PendingCount() == 0 {
				continue
			}
			block, err := chain.ProduceBlock(time.Now().UTC().Format(time.RFC3339))
			if err != nil {
				logger.Printf("produce block: %v", err)
				continue
			}
			logger.Printf("produced block %d with %d transactions", block.BlockNumber, len(block.Transactions))
			if db != nil {
				if err := db.MirrorBlock(ctx, block); err != nil {
					logger.Printf("mirror block %d: %v", block.BlockNumber, err)
				}
			}
		}
	}
}

// startWitness wires the round coordinator: loads the signing key, builds
// the PeerManager transport and anchor client bound to the witnesses
// contract's own registry/params/schedule tables, starts the tick loop, and
// starts a RoundHealthMonitor watching that same params source and the
// PeerManager's connection count.
func startWitness(ctx context.Context, cfg *config.Config, store *ledger.Store, chain *ledger.Ledger, logger *log.Logger) (*consensus.Coordinator, *consensus.RoundHealthMonitor, error) {
	key, err := signing.PrivateKeyFromHex(cfg.ActiveSigningKey)
	if err != nil {
		return nil, nil, fmt.Errorf("parse ACTIVE_SIGNING_KEY: %w", err)
	}

	self := consensus.Witness{Account: cfg.Account, SigningKey: key.PublicKey().Hex(), BLSPublicKey: mustBLSPublicKeyHex(cfg), IP: cfg.ListenAddr}
	source := contracts.NewLedgerSource(store)

	anchorClient := anchor.NewClient(cfg.ChainID, cfg.AnchorAccount, cfg.AnchorEndpoints)
	peers := consensus.NewPeerManager(self, key, source)

	coordinator := consensus.New(consensus.DefaultConfig(), self, key, chainHashSource{chain}, source, source, source, anchorClient, peers)
	if cfg.ActiveBLSKey != "" {
		blsKey, err := blsagg.PrivateKeyFromHex(cfg.ActiveBLSKey)
		if err != nil {
			return nil, nil, fmt.Errorf("parse ACTIVE_BLS_KEY: %w", err)
		}
		coordinator.SetBLSKey(blsKey)
	}
	peers.BindCoordinator(coordinator)
	coordinator.Start(ctx)
	logger.Printf("witness %s started, listening for round proposals on %s", cfg.Account, cfg.ListenAddr)

	healthMonitor := consensus.NewRoundHealthMonitor(consensus.DefaultHealthMonitorConfig(), source, peers)
	healthMonitor.SetOnStallDetected(func(round uint64, d time.Duration) {
		logger.Printf("round %d stalled for %v", round, d)
	})
	healthMonitor.SetOnLowWitnesses(func(count int) {
		logger.Printf("only %d witnesses connected", count)
	})
	if err := healthMonitor.Start(); err != nil {
		logger.Printf("health monitor: %v", err)
	}

	return coordinator, healthMonitor, nil
}

// chainHashSource adapts *ledger.Ledger to consensus.BlockHashSource.
type chainHashSource struct{ chain *ledger.Ledger }

func (c chainHashSource) BlockHash(blockNumber uint64) (string, error) {
	b, err := c.chain.GetBlock(blockNumber)
	if err != nil {
		return "", err
	}
	return b.Hash, nil
}
