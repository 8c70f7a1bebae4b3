// Package shadowrpc exposes the shadow log store and live indexing feed
// over a go-ethereum JSON-RPC namespace: shadow_getLogs, shadow_subscribe
// (shadowLogs), and the supplemented shadow_listShadowedAddresses.
package shadowrpc

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/shadow-hq/shadow-geth/internal/shadowcfg"
	"github.com/shadow-hq/shadow-geth/internal/shadownotify"
	"github.com/shadow-hq/shadow-geth/internal/shadowstore"
)

// API implements the "shadow" JSON-RPC namespace.
type API struct {
	backend Backend
	store   *shadowstore.Store
	shadow  *shadowcfg.Set
	handler *shadownotify.Handler
}

// NewAPI returns an API bound to the given backend, log store, shadow
// config, and notification handler. handler may be nil, in which case
// ShadowLogs always returns an error - useful for read-only deployments
// that only serve historical queries against an externally populated
// store.
func NewAPI(backend Backend, store *shadowstore.Store, shadow *shadowcfg.Set, handler *shadownotify.Handler) *API {
	return &API{backend: backend, store: store, shadow: shadow, handler: handler}
}

// GetLogs answers shadow_getLogs: a point-in-time query over the persisted
// shadow log store, filtered by address, topics, and either a block hash or
// a fromBlock/toBlock range.
func (api *API) GetLogs(ctx context.Context, params GetLogsParams) ([]RpcLog, error) {
	filter, err := validateBlockID(ctx, api.backend, params.BlockHash, params.FromBlock, params.ToBlock, true)
	if err != nil {
		return nil, err
	}
	filter.addresses = params.Address.Addresses()

	topics, err := validateTopics(params.Topics)
	if err != nil {
		return nil, err
	}
	filter.topics = topics

	logs, err := api.store.Query(filter.whereClause())
	if err != nil {
		return nil, fmt.Errorf("shadowrpc: getLogs: %w", err)
	}

	out := make([]RpcLog, len(logs))
	for i, l := range logs {
		out[i] = NewRpcLog(l)
	}
	return out, nil
}

// ShadowLogs backs the "shadowLogs" subscription, invoked by a client as
// shadow_subscribe("shadowLogs", params) per go-ethereum's pubsub naming
// convention (the exported method name, lowercased at the first letter,
// is the subscription name passed to `<namespace>_subscribe`). It streams
// every shadow log matching the given address/topic filter produced by
// each block as it is indexed. Unsubscribing is handled automatically by
// go-ethereum's rpc package once the client closes its connection or calls
// shadow_unsubscribe - no explicit unsubscribe method is needed on this
// API.
func (api *API) ShadowLogs(ctx context.Context, params SubscribeParams) (*rpc.Subscription, error) {
	if api.handler == nil {
		return nil, fmt.Errorf("shadowrpc: live subscriptions are unavailable on this node")
	}

	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return nil, rpc.ErrNotificationsUnsupported
	}

	topics, err := validateTopics(params.Topics)
	if err != nil {
		return nil, err
	}
	addresses := params.Address.Addresses()

	rpcSub := notifier.CreateSubscription()

	hashes, cancel := api.handler.Broadcaster().Subscribe(16)
	go func() {
		defer cancel()
		for {
			select {
			case hash, ok := <-hashes:
				if !ok {
					return
				}
				hashStr := hash.Hex()
				filter, err := validateBlockID(ctx, api.backend, &hashStr, nil, nil, false)
				if err != nil {
					log.Warn("shadowrpc: failed to validate broadcast block hash", "hash", hash, "err", err)
					continue
				}
				filter.addresses = addresses
				filter.topics = topics

				logs, err := api.store.Query(filter.whereClause())
				if err != nil {
					log.Warn("shadowrpc: subscription query failed", "hash", hash, "err", err)
					continue
				}
				for _, l := range logs {
					if err := notifier.Notify(rpcSub.ID, NewRpcLog(l)); err != nil {
						return
					}
				}
			case err := <-rpcSub.Err():
				_ = err
				return
			case <-notifier.Closed():
				return
			}
		}
	}()

	return rpcSub, nil
}

// ListShadowedAddresses answers the supplemented shadow_listShadowedAddresses
// call, returning every address this node overrides with shadow bytecode.
// The original source has no equivalent RPC method - operators had to read
// shadow.json directly - but exposing it here costs nothing and lets
// clients discover the override set without filesystem access to the node.
func (api *API) ListShadowedAddresses(ctx context.Context) []string {
	addrs := api.shadow.Addresses()
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}
