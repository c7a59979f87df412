// Package capabilities implements the host services a module can be granted:
// an outbound HTTP client, module-scoped file storage on local disk or S3, a
// webhook notifier and job-backed automation. Which module receives which is
// decided by lifecycle.PermissionCapabilities.
package capabilities
