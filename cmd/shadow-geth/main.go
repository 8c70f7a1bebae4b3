// Command shadow-geth runs a go-ethereum full node extended with shadow
// bytecode override and shadow log indexing: every canonical block is
// re-executed against a configured set of substitute contract bytecode, and
// the synthetic logs that substitution produces are persisted and served
// over the "shadow" JSON-RPC namespace alongside the node's own eth
// namespace.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/eth"
	"github.com/ethereum/go-ethereum/eth/ethconfig"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/node"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/urfave/cli/v2"

	"github.com/shadow-hq/shadow-geth/internal/shadowcfg"
	"github.com/shadow-hq/shadow-geth/internal/shadowexec"
	"github.com/shadow-hq/shadow-geth/internal/shadownotify"
	"github.com/shadow-hq/shadow-geth/internal/shadowrpc"
	"github.com/shadow-hq/shadow-geth/internal/shadowstore"
)

var (
	dataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "data directory for the chain database and shadow log store",
		Value: "./shadow-geth-data",
	}
	shadowConfigFlag = &cli.StringFlag{
		Name:     "shadow.config",
		Usage:    "path to the shadow.json address -> bytecode override file",
		Required: true,
	}
	networkFlag = &cli.StringFlag{
		Name:  "network",
		Usage: "network to sync: mainnet, sepolia, or holesky",
		Value: "mainnet",
	}
	httpAddrFlag = &cli.StringFlag{
		Name:  "http.addr",
		Usage: "HTTP-RPC server listening interface",
		Value: node.DefaultHTTPHost,
	}
	httpPortFlag = &cli.IntFlag{
		Name:  "http.port",
		Usage: "HTTP-RPC server listening port",
		Value: node.DefaultHTTPPort,
	}
)

func main() {
	app := &cli.App{
		Name:   "shadow-geth",
		Usage:  "a go-ethereum node that serves shadow bytecode overrides and indexed shadow logs",
		Flags:  []cli.Flag{dataDirFlag, shadowConfigFlag, networkFlag, httpAddrFlag, httpPortFlag},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cliCtx *cli.Context) error {
	shadowSet, err := shadowcfg.Load(cliCtx.String(shadowConfigFlag.Name))
	if err != nil {
		return fmt.Errorf("loading shadow config: %w", err)
	}
	log.Info("loaded shadow bytecode overrides", "addresses", shadowSet.Len())

	dataDir := cliCtx.String(dataDirFlag.Name)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	genesis, chainID, err := genesisForNetwork(cliCtx.String(networkFlag.Name))
	if err != nil {
		return err
	}

	nodeCfg := node.DefaultConfig
	nodeCfg.Name = "shadow-geth"
	nodeCfg.DataDir = dataDir
	nodeCfg.HTTPHost = cliCtx.String(httpAddrFlag.Name)
	nodeCfg.HTTPPort = cliCtx.Int(httpPortFlag.Name)
	nodeCfg.HTTPModules = append(nodeCfg.HTTPModules, "shadow")

	stack, err := node.New(&nodeCfg)
	if err != nil {
		return fmt.Errorf("creating node: %w", err)
	}

	ethCfg := ethconfig.Defaults
	ethCfg.Genesis = genesis
	ethCfg.NetworkId = chainID

	ethService, err := eth.New(stack, &ethCfg)
	if err != nil {
		return fmt.Errorf("creating eth service: %w", err)
	}
	blockchain := ethService.BlockChain()

	storeDir := filepath.Join(dataDir, "db")
	if err := os.MkdirAll(storeDir, 0o755); err != nil {
		return fmt.Errorf("creating shadow log store directory: %w", err)
	}
	store, err := shadowstore.Open(filepath.Join(storeDir, "shadow.db"))
	if err != nil {
		return fmt.Errorf("opening shadow log store: %w", err)
	}

	exec := shadowexec.New(blockchain.Config(), blockchain)
	handler := shadownotify.New(blockchain, shadowSet, exec, store)
	go handler.Run()

	backend := &chainBackend{chain: blockchain}
	api := shadowrpc.NewAPI(backend, store, shadowSet, handler)

	stack.RegisterAPIs([]rpc.API{{
		Namespace: "shadow",
		Service:   api,
	}})

	if err := stack.Start(); err != nil {
		handler.Stop()
		store.Close()
		return fmt.Errorf("starting node: %w", err)
	}

	stack.Wait()
	handler.Stop()
	store.Close()
	return nil
}

func genesisForNetwork(name string) (*core.Genesis, uint64, error) {
	switch name {
	case "mainnet":
		return core.DefaultGenesisBlock(), params.MainnetChainConfig.ChainID.Uint64(), nil
	case "sepolia":
		return core.DefaultSepoliaGenesisBlock(), params.SepoliaChainConfig.ChainID.Uint64(), nil
	case "holesky":
		return core.DefaultHoleskyGenesisBlock(), params.HoleskyChainConfig.ChainID.Uint64(), nil
	default:
		return nil, 0, fmt.Errorf("unknown network %q", name)
	}
}

// chainBackend adapts a *core.BlockChain's number-keyed header lookups to
// the tag-aware shape shadowrpc.Backend needs, performing the same
// latest/earliest/finalized/safe resolution eth/filters.Backend performs
// for eth_getLogs.
type chainBackend struct {
	chain *core.BlockChain
}

func (b *chainBackend) HeaderByNumber(ctx context.Context, number rpc.BlockNumber) (*types.Header, error) {
	switch number {
	case rpc.PendingBlockNumber, rpc.LatestBlockNumber:
		return b.chain.CurrentHeader(), nil
	case rpc.FinalizedBlockNumber:
		if h := b.chain.CurrentFinalBlock(); h != nil {
			return h, nil
		}
		return b.chain.CurrentHeader(), nil
	case rpc.SafeBlockNumber:
		if h := b.chain.CurrentSafeBlock(); h != nil {
			return h, nil
		}
		return b.chain.CurrentHeader(), nil
	case rpc.EarliestBlockNumber:
		return b.chain.GetHeaderByNumber(0), nil
	default:
		return b.chain.GetHeaderByNumber(uint64(number)), nil
	}
}

func (b *chainBackend) HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error) {
	return b.chain.GetHeaderByHash(hash), nil
}
