// Package engine is the RPC facade: the single entry point a Worker-hosted
// client talks to. initialize() assembles every other engine-scoped package
// (pkg/storage, pkg/plugin, pkg/command, pkg/workingcopy, pkg/subscription,
// pkg/sweep) into one Engine; shutdown() tears them all down. Five sub-APIs
// are handed out by accessor — getQueryAPI/getMutationAPI/
// getSubscriptionAPI/getWorkingCopyAPI/getPluginRegistryAPI — plus a handful
// of backward-compat shortcuts that route straight through to them.
//
// Initialize follows a Config-driven constructor shape: open a store,
// build dependent services in order, and assemble one struct.
package engine
