// Package manifest validates, decodes and loads module descriptors.
//
// A descriptor is a YAML or JSON document (module.yaml, module.yml or
// module.json at the root of a module's install directory) that names the
// module and declares its routes, jobs, migrations, UI contributions,
// permissions and settings.
//
// Validation works on the raw decoded map so that type mistakes are reported
// per field instead of failing the whole decode:
//
//	result := manifest.Validate(raw)
//	if !result.Valid {
//		return result.Err() // *manifest.ValidationError
//	}
//	m, err := manifest.Decode(raw)
//
// Errors block registration. Warnings (missing author, permissions without a
// resource:action shape, doubtful cron schedules, unknown navigation
// categories) are reported but never block.
package manifest
