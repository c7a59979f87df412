// Package loader resolves module code from an install directory.
//
// Three resolvers are provided and are usually combined with Chain:
//
//   - Static serves modules compiled into the host binary
//   - SharedObject opens Go plugins (.so) built against the host
//   - Process runs a module as a child process over net/rpc
//
// Each resolver answers sdk.ErrNotResolvable for paths it does not handle so
// the chain can try the next one.
package loader
