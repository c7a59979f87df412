// Package cli implements modhostctl, the operator CLI for a module host.
//
// # Offline checks
//
// validate: Validate a module directory, or every module under a root
//
//	modhostctl validate --dir ./modules/billing-sync
//	modhostctl validate --dir ./modules --all
//
// integrity: Compare a module's applied migrations with its files
//
//	modhostctl integrity \
//		--dir ./modules/billing-sync \
//		--driver postgres \
//		--dsn "postgres://modhost@localhost/modhost?sslmode=disable"
//
// # Admin API
//
// These commands talk to a running host:
//
//	modhostctl list
//	modhostctl status billing-sync
//	modhostctl register --dir /srv/modules/billing-sync
//	modhostctl install billing-sync
//	modhostctl enable billing-sync
//	modhostctl update billing-sync --dir /srv/modules/billing-sync-1.1.0
//	modhostctl disable billing-sync
//	modhostctl uninstall billing-sync
//	modhostctl events --type transition billing-sync
//
// # Configuration
//
//	export MODHOST_ADMIN_URL="http://localhost:8080"
//	export MODHOST_DB_DRIVER="postgres"
//	export MODHOST_DB_DSN="postgres://..."
//
// Flags override the environment.
package cli
