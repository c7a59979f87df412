// Package discovery finds module install directories under a modules root
// and watches it for new or changed manifests.
package discovery
