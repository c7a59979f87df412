// Package audit keeps an append-only trail of module lifecycle activity.
//
// # Overview
//
// Every lifecycle transition, status change and module removal observed by
// the controller becomes an Event. Events are written to one or more Loggers:
//
//   - FileLogger appends JSON lines to a rotating audit.log
//   - storage.AuditStore persists them in the host database, where the admin
//     API reads them back
//   - MultiLogger fans out to several of the above
//
// # Usage Example
//
//	recorder := audit.NewRecorder(audit.NewMultiLogger(fileLogger, dbStore), log)
//	ctrl, err := lifecycle.New(lifecycle.Config{
//		...
//		Observer: lifecycle.Observers{metrics, recorder},
//	})
//
// Events can be exported as JSON, NDJSON or CSV with Export.
package audit
