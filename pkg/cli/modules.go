package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/platinummonkey/modhost/pkg/api"
	"github.com/platinummonkey/modhost/pkg/audit"
	"github.com/platinummonkey/modhost/pkg/manifest"
)

const defaultAdminURL = "http://localhost:8080"

// lifecycleCommands map one to one onto admin API command routes
var lifecycleCommands = []string{"install", "enable", "disable", "update", "uninstall"}

func adminFlags(name string) (*flag.FlagSet, *string) {
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	host := flags.String("host", getEnv("MODHOST_ADMIN_URL", defaultAdminURL), "Admin API base URL")
	return flags, host
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Minute)
}

func newListCommand() *Command {
	flags, _ := adminFlags("list")
	return &Command{
		Name:        "list",
		Description: "List registered modules",
		Flags:       flags,
		Run:         runList,
	}
}

func runList(args []string) error {
	flags, host := adminFlags("list")
	if err := flags.Parse(args); err != nil {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()
	modules, err := NewClient(*host).List(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(output, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tSTATUS\tLOADED\tLAST ERROR")
	for _, m := range modules {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", m.Name, m.Version, m.Status, m.Loaded, m.LastError)
	}
	return tw.Flush()
}

func newStatusCommand() *Command {
	flags, _ := adminFlags("status")
	return &Command{
		Name:        "status",
		Description: "Show one module",
		Flags:       flags,
		Run:         runStatus,
	}
}

func runStatus(args []string) error {
	flags, host := adminFlags("status")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("usage: status <module>")
	}

	ctx, cancel := requestContext()
	defer cancel()
	m, err := NewClient(*host).Get(ctx, flags.Arg(0))
	if err != nil {
		return err
	}
	return printJSON(m)
}

func newEventsCommand() *Command {
	flags, _ := adminFlags("events")
	flags.String("type", "", "Only events of this type (transition, status, removed)")
	flags.Int("limit", 50, "Maximum number of events")
	flags.Bool("failed", false, "Only failed transitions")
	return &Command{
		Name:        "events",
		Description: "Show the lifecycle audit trail",
		Flags:       flags,
		Run:         runEvents,
	}
}

func runEvents(args []string) error {
	flags, host := adminFlags("events")
	eventType := flags.String("type", "", "Only events of this type (transition, status, removed)")
	limit := flags.Int("limit", 50, "Maximum number of events")
	failed := flags.Bool("failed", false, "Only failed transitions")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() > 1 {
		return fmt.Errorf("usage: events [module]")
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(*limit))
	if *eventType != "" {
		query.Set("type", *eventType)
	}
	if *failed {
		query.Set("failed", "true")
	}

	ctx, cancel := requestContext()
	defer cancel()
	events, err := NewClient(*host).Events(ctx, flags.Arg(0), query)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(output, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tMODULE\tEVENT\tDETAIL")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.Module, e.Type, eventDetail(e))
	}
	return tw.Flush()
}

func eventDetail(e audit.Event) string {
	switch e.Type {
	case audit.EventTransition:
		outcome := "ok"
		if !e.Success {
			outcome = "failed"
		}
		return fmt.Sprintf("%s %s in %dms", e.Command, outcome, e.ElapsedMS)
	case audit.EventStatus:
		return e.Status
	}
	return ""
}

func newRegisterCommand() *Command {
	flags, _ := adminFlags("register")
	flags.String("dir", "", "Absolute install directory of the module")
	return &Command{
		Name:        "register",
		Description: "Register a module directory with the host",
		Flags:       flags,
		Run:         runRegister,
	}
}

func runRegister(args []string) error {
	flags, host := adminFlags("register")
	dir := flags.String("dir", "", "Absolute install directory of the module")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *dir == "" {
		return fmt.Errorf("--dir is required")
	}
	installDir, err := filepath.Abs(*dir)
	if err != nil {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()
	m, err := NewClient(*host).Register(ctx, api.RegisterRequest{InstallDir: installDir})
	if err != nil {
		return describeAPIError(err)
	}
	fmt.Fprintf(output, "registered %s@%s (%s)\n", m.Name, m.Version, m.Status)
	return nil
}

func newLifecycleCommand(name string) *Command {
	flags, _ := adminFlags(name)
	if name == "update" {
		flags.String("dir", "", "Directory holding the new manifest")
	}
	return &Command{
		Name:        name,
		Description: fmt.Sprintf("Submit %s for a module", name),
		Flags:       flags,
		Run: func(args []string) error {
			return runLifecycle(name, args)
		},
	}
}

func runLifecycle(command string, args []string) error {
	flags, host := adminFlags(command)
	var dir *string
	if command == "update" {
		dir = flags.String("dir", "", "Directory holding the new manifest")
	}
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("usage: %s <module>", command)
	}
	name := flags.Arg(0)

	var update *api.UpdateRequest
	if command == "update" {
		if *dir == "" {
			return fmt.Errorf("--dir is required for update")
		}
		req, err := updateRequest(*dir)
		if err != nil {
			return err
		}
		update = req
	}
	return submit(*host, name, command, update)
}

// updateRequest reads the manifest in dir so it is validated before the
// host sees it, and points the host at the directory's absolute path
func updateRequest(dir string) (*api.UpdateRequest, error) {
	installDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	doc, err := manifest.LoadDir(installDir)
	if err != nil {
		return nil, err
	}
	if err := doc.Result.Err(); err != nil {
		return nil, err
	}
	return &api.UpdateRequest{InstallDir: installDir, Manifest: doc.Raw}, nil
}

func submit(host, name, command string, update *api.UpdateRequest) error {
	ctx, cancel := requestContext()
	defer cancel()
	accepted, err := NewClient(host).Submit(ctx, name, command, update)
	if err != nil {
		return describeAPIError(err)
	}
	fmt.Fprintf(output, "accepted %s %s (now %s)\n", accepted.Command, accepted.Module, accepted.Status)
	return nil
}

// describeAPIError prints validation details the host attached to an error
func describeAPIError(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || len(apiErr.Details) == 0 {
		return err
	}
	var issues []manifest.Issue
	if json.Unmarshal(apiErr.Details, &issues) == nil {
		for _, issue := range issues {
			fmt.Fprintf(os.Stderr, "  error: %s\n", issue)
		}
	}
	return err
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(output)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
