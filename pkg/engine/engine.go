package engine

import (
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/kubohiroya/hierarchidb/pkg/command"
	"github.com/kubohiroya/hierarchidb/pkg/enginerr"
	"github.com/kubohiroya/hierarchidb/pkg/log"
	"github.com/kubohiroya/hierarchidb/pkg/plugin"
	"github.com/kubohiroya/hierarchidb/pkg/storage"
	"github.com/kubohiroya/hierarchidb/pkg/subscription"
	"github.com/kubohiroya/hierarchidb/pkg/sweep"
	"github.com/kubohiroya/hierarchidb/pkg/tree"
	"github.com/kubohiroya/hierarchidb/pkg/types"
	"github.com/kubohiroya/hierarchidb/pkg/workingcopy"
	"github.com/rs/zerolog"
)

// defaultRPCTimeout is the implicit timeout every RPC call carries unless
// overridden in Config.
const defaultRPCTimeout = 30 * time.Second

// Config configures a single Engine instance: store names, TTLs, buffer
// sizes, and the rest of initialize's parameters. There is deliberately no
// environment variable reading here — the engine consumes no environment
// directly.
type Config struct {
	// DataDir holds coredb.db and ephemeraldb.db. Either path may be
	// overridden directly for tests that want distinct temp files.
	DataDir         string
	CoreDBPath      string
	EphemeralDBPath string

	// Plugins is registered into the plugin registry during Initialize, in
	// the order given (ties within equal CreateOrder break on nodeType).
	Plugins []*plugin.Plugin

	// RPCTimeout overrides defaultRPCTimeout; zero keeps the default.
	RPCTimeout time.Duration

	Log log.Config
}

func (c Config) coreDBPath() string {
	if c.CoreDBPath != "" {
		return c.CoreDBPath
	}
	return filepath.Join(c.DataDir, "coredb.db")
}

func (c Config) ephemeralDBPath() string {
	if c.EphemeralDBPath != "" {
		return c.EphemeralDBPath
	}
	return filepath.Join(c.DataDir, "ephemeraldb.db")
}

func (c Config) rpcTimeout() time.Duration {
	if c.RPCTimeout > 0 {
		return c.RPCTimeout
	}
	return defaultRPCTimeout
}

// Engine is the engine-scoped facade. One instance is created by
// Initialize and torn down by Shutdown; nothing here is a package-level
// singleton — every global the original design relied on becomes an
// engine-scoped object instead.
type Engine struct {
	cfg Config

	core      *storage.CoreDB
	ephemeral *storage.EphemeralDB
	registry  *plugin.Registry
	reader    *tree.Reader
	pipeline  *command.Pipeline
	broker    *subscription.Broker
	wcManager *workingcopy.Manager
	sweeper   *sweep.Sweeper

	query         *QueryAPI
	mutation      *MutationAPI
	subscriptionAPI *SubscriptionAPI
	workingCopy   *WorkingCopyAPI
	pluginAPI     *PluginRegistryAPI

	logger    zerolog.Logger
	startedAt time.Time

	mu     sync.Mutex
	closed bool
}

// Initialize opens both stores, registers every configured plugin, wires
// the command pipeline to the subscription broker, and starts the TTL
// sweeper.
func Initialize(cfg Config) (*Engine, error) {
	log.Init(cfg.Log)
	logger := log.WithComponent("engine")

	core, err := storage.OpenCoreDB(cfg.coreDBPath())
	if err != nil {
		return nil, enginerr.Wrap(enginerr.StorageUnavailable, err, "failed to open coreDB")
	}
	ephemeral, err := storage.OpenEphemeralDB(cfg.ephemeralDBPath())
	if err != nil {
		core.Close()
		return nil, enginerr.Wrap(enginerr.StorageUnavailable, err, "failed to open ephemeralDB")
	}

	registry := plugin.NewRegistry()
	for _, p := range cfg.Plugins {
		if err := registry.Register(p); err != nil {
			core.Close()
			ephemeral.Close()
			return nil, err
		}
		if err := core.Update(func(tx *storage.CoreTx) error {
			return tx.EnsureEntityBucket(p.Definition.NodeType, p.Definition.SchemaVersion)
		}); err != nil {
			core.Close()
			ephemeral.Close()
			return nil, enginerr.Wrap(enginerr.SchemaMismatch, err, "failed to prepare entity bucket for "+p.Definition.NodeType)
		}
	}

	reader := tree.NewReader(core)
	broker := subscription.NewBroker(reader)
	pipeline := command.NewPipeline(core, ephemeral, registry, broker)
	wcManager := workingcopy.NewManager(core, ephemeral, registry, pipeline)
	sweeper := sweep.NewSweeper(ephemeral)
	sweeper.Start()

	e := &Engine{
		cfg:       cfg,
		core:      core,
		ephemeral: ephemeral,
		registry:  registry,
		reader:    reader,
		pipeline:  pipeline,
		broker:    broker,
		wcManager: wcManager,
		sweeper:   sweeper,
		logger:    logger,
		startedAt: time.Now(),
	}
	e.query = &QueryAPI{reader: reader}
	e.mutation = newMutationAPI(e, pipeline)
	e.subscriptionAPI = &SubscriptionAPI{broker: broker}
	e.workingCopy = &WorkingCopyAPI{manager: wcManager}
	e.pluginAPI = &PluginRegistryAPI{registry: registry}

	logger.Info().Int("plugins", len(cfg.Plugins)).Msg("engine initialized")
	return e, nil
}

// Shutdown flushes pending writes (bbolt has none buffered past commit, so
// this is a close), revokes subscriptions, and closes stores. Safe to
// call more than once.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	e.sweeper.Stop()
	e.broker.UnsubscribeAll()

	var firstErr error
	if err := e.ephemeral.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.core.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	e.logger.Info().Msg("engine shut down")
	if firstErr != nil {
		return enginerr.Wrap(enginerr.StorageUnavailable, firstErr, "failed to close stores cleanly")
	}
	return nil
}

// CreateTree bootstraps a new tree (see command.Pipeline.CreateTree); it is
// not part of the five sub-APIs since tree creation is an administrative
// one-time act, not a client-issued command.
func (e *Engine) CreateTree(name string) (*types.Tree, error) {
	return e.pipeline.CreateTree(name)
}

func (e *Engine) getQueryAPI() *QueryAPI                   { return e.query }
func (e *Engine) getMutationAPI() *MutationAPI             { return e.mutation }
func (e *Engine) getSubscriptionAPI() *SubscriptionAPI     { return e.subscriptionAPI }
func (e *Engine) getWorkingCopyAPI() *WorkingCopyAPI       { return e.workingCopy }
func (e *Engine) getPluginRegistryAPI() *PluginRegistryAPI { return e.pluginAPI }

// GetQueryAPI returns the read-only query sub-API.
func (e *Engine) GetQueryAPI() *QueryAPI { return e.getQueryAPI() }

// GetMutationAPI returns the command-pipeline sub-API.
func (e *Engine) GetMutationAPI() *MutationAPI { return e.getMutationAPI() }

// GetSubscriptionAPI returns the subscription fabric sub-API.
func (e *Engine) GetSubscriptionAPI() *SubscriptionAPI { return e.getSubscriptionAPI() }

// GetWorkingCopyAPI returns the two-phase edit sub-API.
func (e *Engine) GetWorkingCopyAPI() *WorkingCopyAPI { return e.getWorkingCopyAPI() }

// GetPluginRegistryAPI returns the plugin registry sub-API.
func (e *Engine) GetPluginRegistryAPI() *PluginRegistryAPI { return e.getPluginRegistryAPI() }

// getTree, listTrees, getNode, getChildren, create, recoverFromTrash,
// getPluginsForTree, and removeNodes are backward-compat shortcuts: each
// routes straight to the sub-API that already implements it, with
// identical semantics, for callers that predate the five-sub-API split.

func (e *Engine) getTree(id types.TreeId) (*types.Tree, error) { return e.query.GetTree(id) }

func (e *Engine) listTrees() ([]*types.Tree, error) { return e.query.ListTrees() }

func (e *Engine) getNode(id types.NodeId) (*types.TreeNode, error) { return e.query.GetNode(id) }

func (e *Engine) getChildren(parentId types.NodeId, query types.ChildrenQuery) ([]*types.TreeNode, error) {
	return e.query.GetChildren(parentId, query)
}

// create is the shortcut for createNode.
func (e *Engine) create(treeId types.TreeId, parentId types.NodeId, nodeType, name string, initialEntityData []byte, onNameConflict types.NameConflictPolicy) *types.Result {
	return e.mutation.CreateNode(treeId, parentId, nodeType, name, initialEntityData, onNameConflict)
}

func (e *Engine) recoverFromTrash(nodeIds []types.NodeId, toParentId types.NodeId) *types.Result {
	return e.mutation.RecoverFromTrash(nodeIds, toParentId)
}

func (e *Engine) getPluginsForTree(treeId types.TreeId) []*plugin.Plugin {
	return e.pluginAPI.GetPluginsForTree(treeId)
}

func (e *Engine) removeNodes(nodeIds []types.NodeId) *types.Result { return e.mutation.RemoveNodes(nodeIds) }

// GetSystemHealth reports database liveness, per-service status, memory
// usage, process uptime, and the sweeper's maintenance counters. Database
// health is a liveness probe (an uncommitted View against each store);
// service health is always true once Initialize has returned, since every
// sub-API is a plain in-process struct with no independent failure mode of
// its own.
func (e *Engine) GetSystemHealth() types.SystemHealth {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	var limit int64 = -1
	if l := debug.SetMemoryLimit(-1); l > 0 && l < (1<<63-1) {
		limit = l
	}

	return types.SystemHealth{
		Databases: types.DatabaseHealth{
			CoreDB:      e.probeCore() == nil,
			EphemeralDB: e.probeEphemeral() == nil,
		},
		Services: map[string]bool{
			"query":        e.query != nil,
			"mutation":     e.mutation != nil,
			"subscription": e.subscriptionAPI != nil,
			"plugin":       e.pluginAPI != nil,
			"workingCopy":  e.workingCopy != nil,
		},
		Memory: types.MemoryHealth{
			UsedBytes:  mem.Alloc,
			LimitBytes: limit,
		},
		UptimeMs:           time.Since(e.startedAt).Milliseconds(),
		LastSweepAtMs:      e.sweeper.LastSweepAt(),
		SweptWorkingCopies: e.sweeper.TotalSwept(),
	}
}

func (e *Engine) probeCore() error {
	return e.core.View(func(tx *storage.CoreTx) error { return nil })
}

func (e *Engine) probeEphemeral() error {
	return e.ephemeral.View(func(tx *storage.EphemeralTx) error { return nil })
}

// recoverToResult is the RPC boundary's panic backstop: the engine never
// throws across the RPC boundary. Call as
// defer recoverToResult(e.logger, "op", &result) at the top of any facade
// method that returns a *types.Result.
func recoverToResult(logger zerolog.Logger, op string, result **types.Result) {
	if r := recover(); r != nil {
		logger.Error().Interface("panic", r).Str("op", op).Msg("recovered panic at RPC boundary")
		*result = &types.Result{Success: false, Error: &types.CommandError{
			Kind: string(enginerr.Internal), Message: "internal error",
		}}
	}
}
