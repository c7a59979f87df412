// Package sdk is the contract between the host and module code.
//
// A module implements Module and, optionally, HandlerProvider to serve the
// handlers its manifest declares:
//
//	type billing struct{ db sdk.DB }
//
//	func (b *billing) Initialize(ctx *sdk.Context) error {
//		b.db = ctx.DB
//		ctx.Logger.Info("billing ready")
//		return nil
//	}
//
//	func (b *billing) Cleanup(ctx *sdk.Context) error { return nil }
//
//	func (b *billing) Handler(ref sdk.HandlerRef) (http.Handler, error) {
//		switch ref.Declared {
//		case "handlers/status":
//			return http.HandlerFunc(b.status), nil
//		}
//		return nil, fmt.Errorf("unknown handler %s", ref.Declared)
//	}
//
// The Context only carries what the host chose to expose: a logger tagged with
// the module name, the database handle, the module's identity and settings
// defaults, and the capabilities its declared permissions allow.
package sdk
