// Package plugin implements the typed per-nodeType registry: a plugin
// declares metadata, a database schema version, sync validators,
// lifecycle hook capability flags, and supplies an EntityHandler at
// registration time. The command pipeline (pkg/command) is the only caller
// that invokes handler methods, always inside the same storage transaction
// it opened for the command.
package plugin
