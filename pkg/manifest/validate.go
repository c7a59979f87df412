package manifest

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
)

// DefaultMigrationsDir is used when a manifest does not name its migrations directory
const DefaultMigrationsDir = "migrations"

var (
	namePattern   = regexp.MustCompile(`^[a-z0-9-]+$`)
	semverPattern = regexp.MustCompile(`^v?(\d+)\.(\d+)\.(\d+)(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

	// HTTPMethods is the set of route methods a module may declare
	HTTPMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}

	// SettingTypes is the set of setting types a module may declare
	SettingTypes = []string{"string", "number", "integer", "boolean", "select", "secret", "json"}

	// NavigationCategories are the fixed navigation buckets, in display order
	NavigationCategories = []string{"dashboard", "operations", "integrations", "analytics", "settings", "uncategorized"}

	scheduleParser = cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
)

// Issue is a single validation finding
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Field == "" {
		return i.Message
	}
	return i.Field + ": " + i.Message
}

// Result is the outcome of validating a descriptor. Valid is true iff Errors is empty.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// ValidationError is returned when a descriptor fails validation
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		msgs = append(msgs, issue.String())
	}
	return "invalid manifest: " + strings.Join(msgs, "; ")
}

// Err returns a *ValidationError when the result has errors, nil otherwise
func (r Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return &ValidationError{Issues: append([]Issue(nil), r.Errors...)}
}

type checker struct {
	errors   []Issue
	warnings []Issue
}

func (c *checker) fail(field, format string, args ...interface{}) {
	c.errors = append(c.errors, Issue{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (c *checker) warn(field, format string, args ...interface{}) {
	c.warnings = append(c.warnings, Issue{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks a raw descriptor structurally and semantically. It never
// panics and always reports every finding.
func Validate(raw map[string]interface{}) Result {
	c := &checker{}
	if raw == nil {
		c.fail("", "manifest is empty")
		return c.result()
	}

	name, ok := requiredString(c, raw, "name")
	if ok && !namePattern.MatchString(name) {
		c.fail("name", "must be kebab-case (lowercase letters, digits and hyphens), got %q", name)
	}

	version, ok := requiredString(c, raw, "version")
	if ok && !semverPattern.MatchString(version) {
		c.fail("version", "must be a semantic version (e.g. 1.2.3), got %q", version)
	}

	for _, field := range []string{"displayName", "description"} {
		optionalString(c, raw, field)
	}
	if _, present := raw["author"]; !present {
		c.warn("author", "author is recommended")
	} else {
		optionalString(c, raw, "author")
	}

	if entry, ok := optionalString(c, raw, "entry"); ok {
		checkRelativePath(c, "entry", entry)
	}
	if dir, ok := optionalString(c, raw, "migrations"); ok {
		checkRelativePath(c, "migrations", dir)
	}

	validateRoutes(c, raw["routes"])
	validateJobs(c, raw["jobs"])
	validateSettings(c, raw["settings"])
	validateUI(c, raw["ui"])
	validateDependencies(c, raw["dependencies"])
	validatePermissions(c, raw["permissions"])

	return c.result()
}

func (c *checker) result() Result {
	return Result{
		Valid:    len(c.errors) == 0,
		Errors:   c.errors,
		Warnings: c.warnings,
	}
}

func validateRoutes(c *checker, v interface{}) {
	if v == nil {
		return
	}
	routes, ok := v.([]interface{})
	if !ok {
		c.fail("routes", "must be a list")
		return
	}

	seen := make(map[string]int)
	for i, item := range routes {
		field := fmt.Sprintf("routes[%d]", i)
		route, ok := item.(map[string]interface{})
		if !ok {
			c.fail(field, "must be an object")
			continue
		}

		method, hasMethod := requiredString(c, route, field+".method")
		if hasMethod {
			method = strings.ToUpper(method)
			if !contains(HTTPMethods, method) {
				c.fail(field+".method", "must be one of %s, got %q", strings.Join(HTTPMethods, ", "), method)
				hasMethod = false
			}
		}
		routePath, hasPath := requiredString(c, route, field+".path")
		if hasPath && !strings.HasPrefix(routePath, "/") {
			c.fail(field+".path", "must start with /")
			hasPath = false
		}
		if handler, ok := requiredString(c, route, field+".handler"); ok {
			checkRelativePath(c, field+".handler", handler)
		}
		if mw, present := route["middleware"]; present {
			if _, ok := stringList(mw); !ok {
				c.fail(field+".middleware", "must be a list of strings")
			}
		}

		if hasMethod && hasPath {
			key := method + " " + routePath
			if first, dup := seen[key]; dup {
				c.fail(field, "duplicate route %s (already declared by routes[%d])", key, first)
			} else {
				seen[key] = i
			}
		}
	}
}

func validateJobs(c *checker, v interface{}) {
	if v == nil {
		return
	}
	jobs, ok := v.(map[string]interface{})
	if !ok {
		c.fail("jobs", "must be an object keyed by job name")
		return
	}

	for _, name := range sortedKeys(jobs) {
		field := "jobs." + name
		if strings.TrimSpace(name) == "" {
			c.fail("jobs", "job name must not be empty")
			continue
		}
		job, ok := jobs[name].(map[string]interface{})
		if !ok {
			c.fail(field, "must be an object")
			continue
		}

		requiredString(c, job, field+".description")
		if handler, ok := requiredString(c, job, field+".handler"); ok {
			checkRelativePath(c, field+".handler", handler)
		}

		if sched, present := job["schedule"]; present && sched != nil {
			expr, ok := sched.(string)
			if !ok {
				c.fail(field+".schedule", "must be a cron string or null")
			} else {
				checkSchedule(c, field+".schedule", expr)
			}
		}

		if retries, present := job["retries"]; present && retries != nil {
			n, ok := toInt(retries)
			if !ok || n < 0 {
				c.fail(field+".retries", "must be a non-negative integer")
			}
		}

		if timeout, present := job["timeout"]; present && timeout != nil {
			d, err := parseDuration(timeout)
			if err != nil {
				c.fail(field+".timeout", "must be milliseconds or a duration string: %v", err)
			} else if d < 0 {
				c.fail(field+".timeout", "must not be negative")
			}
		}

		if schema, present := job["config"]; present && schema != nil {
			if _, ok := schema.(map[string]interface{}); !ok {
				c.fail(field+".config", "must be an object")
			}
		}
	}
}

// checkSchedule only warns: the job subsystem owns schedule semantics.
func checkSchedule(c *checker, field, expr string) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		c.warn(field, "schedule is empty")
		return
	}
	if !strings.HasPrefix(expr, "@") {
		if n := len(strings.Fields(expr)); n != 5 && n != 6 {
			c.warn(field, "cron expression should have 5 or 6 fields, got %d", n)
			return
		}
	}
	if _, err := scheduleParser.Parse(expr); err != nil {
		c.warn(field, "cron expression may be invalid: %v", err)
	}
}

func validateSettings(c *checker, v interface{}) {
	if v == nil {
		return
	}
	settings, ok := v.(map[string]interface{})
	if !ok {
		c.fail("settings", "must be an object keyed by setting name")
		return
	}
	for _, key := range sortedKeys(settings) {
		field := "settings." + key
		setting, ok := settings[key].(map[string]interface{})
		if !ok {
			c.fail(field, "must be an object")
			continue
		}
		if typ, ok := requiredString(c, setting, field+".type"); ok && !contains(SettingTypes, typ) {
			c.fail(field+".type", "must be one of %s, got %q", strings.Join(SettingTypes, ", "), typ)
		}
		requiredString(c, setting, field+".label")
		if constraints, present := setting["constraints"]; present && constraints != nil {
			if _, ok := constraints.(map[string]interface{}); !ok {
				c.fail(field+".constraints", "must be an object")
			}
		}
	}
}

func validateUI(c *checker, v interface{}) {
	if v == nil {
		return
	}
	ui, ok := v.(map[string]interface{})
	if !ok {
		c.fail("ui", "must be an object")
		return
	}

	if sb, present := ui["sidebar"]; present && sb != nil {
		sidebar, ok := sb.(map[string]interface{})
		if !ok {
			c.fail("ui.sidebar", "must be an object")
		} else {
			requiredString(c, sidebar, "ui.sidebar.label")
			requiredString(c, sidebar, "ui.sidebar.icon")
			checkOrder(c, sidebar, "ui.sidebar.order")
			children, present := sidebar["children"]
			if !present {
				c.fail("ui.sidebar.children", "is required")
			} else if list, ok := children.([]interface{}); !ok {
				c.fail("ui.sidebar.children", "must be a list")
			} else {
				for i, child := range list {
					field := fmt.Sprintf("ui.sidebar.children[%d]", i)
					item, ok := child.(map[string]interface{})
					if !ok {
						c.fail(field, "must be an object")
						continue
					}
					requiredString(c, item, field+".label")
					if p, ok := requiredString(c, item, field+".path"); ok && !strings.HasPrefix(p, "/") {
						c.fail(field+".path", "must start with /")
					}
				}
			}
		}
	}

	if r, present := ui["routes"]; present && r != nil {
		list, ok := r.([]interface{})
		if !ok {
			c.fail("ui.routes", "must be a list")
		} else {
			for i, item := range list {
				field := fmt.Sprintf("ui.routes[%d]", i)
				route, ok := item.(map[string]interface{})
				if !ok {
					c.fail(field, "must be an object")
					continue
				}
				if p, ok := requiredString(c, route, field+".path"); ok && !strings.HasPrefix(p, "/") {
					c.fail(field+".path", "must start with /")
				}
			}
		}
	}

	if w, present := ui["widgets"]; present && w != nil {
		list, ok := w.([]interface{})
		if !ok {
			c.fail("ui.widgets", "must be a list")
		} else {
			for i, item := range list {
				field := fmt.Sprintf("ui.widgets[%d]", i)
				widget, ok := item.(map[string]interface{})
				if !ok {
					c.fail(field, "must be an object")
					continue
				}
				requiredString(c, widget, field+".id")
				requiredString(c, widget, field+".component")
				checkOrder(c, widget, field+".order")
			}
		}
	}

	if nav, present := ui["navigation"]; present && nav != nil {
		switch n := nav.(type) {
		case map[string]interface{}:
			validateNavItem(c, "ui.navigation", n)
		case []interface{}:
			for i, item := range n {
				field := fmt.Sprintf("ui.navigation[%d]", i)
				obj, ok := item.(map[string]interface{})
				if !ok {
					c.fail(field, "must be an object")
					continue
				}
				validateNavItem(c, field, obj)
			}
		default:
			c.fail("ui.navigation", "must be an object or a list")
		}
	}
}

func validateNavItem(c *checker, field string, item map[string]interface{}) {
	requiredString(c, item, field+".label")
	if p, ok := requiredString(c, item, field+".path"); ok && !strings.HasPrefix(p, "/") {
		c.fail(field+".path", "must start with /")
	}
	if cat, ok := optionalString(c, item, field+".category"); ok && cat != "" && !contains(NavigationCategories, cat) {
		c.warn(field+".category", "unknown category %q, will be shown as uncategorized", cat)
	}
	checkOrder(c, item, field+".order")
}

func validateDependencies(c *checker, v interface{}) {
	if v == nil {
		return
	}
	deps, ok := v.(map[string]interface{})
	if !ok {
		c.fail("dependencies", "must be an object of package to version range")
		return
	}
	for _, pkg := range sortedKeys(deps) {
		if _, ok := deps[pkg].(string); !ok {
			c.fail("dependencies."+pkg, "version range must be a string")
		}
	}
}

func validatePermissions(c *checker, v interface{}) {
	if v == nil {
		return
	}
	perms, ok := stringList(v)
	if !ok {
		c.fail("permissions", "must be a list of strings")
		return
	}
	for i, perm := range perms {
		if !strings.Contains(perm, ":") {
			c.warn(fmt.Sprintf("permissions[%d]", i), "%q should use the resource:action format", perm)
		}
	}
}

func checkOrder(c *checker, obj map[string]interface{}, field string) {
	key := field[strings.LastIndex(field, ".")+1:]
	if v, present := obj[key]; present && v != nil {
		if _, ok := toInt(v); !ok {
			c.fail(field, "must be an integer")
		}
	}
}

// checkRelativePath rejects absolute paths and paths that climb out of the
// install directory.
func checkRelativePath(c *checker, field, p string) {
	if p == "" {
		c.fail(field, "must not be empty")
		return
	}
	normalized := strings.ReplaceAll(p, "\\", "/")
	if path.IsAbs(normalized) || (len(normalized) > 1 && normalized[1] == ':') {
		c.fail(field, "must be relative to the module directory")
		return
	}
	cleaned := path.Clean(normalized)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		c.fail(field, "must not escape the module directory")
	}
}

// requiredString reports an error if key is missing, not a string, or blank.
// The field label is used for reporting; the key is its last path segment.
func requiredString(c *checker, obj map[string]interface{}, field string) (string, bool) {
	key := field[strings.LastIndex(field, ".")+1:]
	v, present := obj[key]
	if !present || v == nil {
		c.fail(field, "is required")
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		c.fail(field, "must be a string")
		return "", false
	}
	if strings.TrimSpace(s) == "" {
		c.fail(field, "must not be empty")
		return "", false
	}
	return s, true
}

func optionalString(c *checker, obj map[string]interface{}, field string) (string, bool) {
	key := field[strings.LastIndex(field, ".")+1:]
	v, present := obj[key]
	if !present || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		c.fail(field, "must be a string")
		return "", false
	}
	return s, true
}

func stringList(v interface{}) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// toInt accepts the integer shapes produced by the YAML and JSON decoders
func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

func contains(set []string, s string) bool {
	for _, candidate := range set {
		if candidate == s {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
