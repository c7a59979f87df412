package cli

import (
	"encoding/json"
	"flag"
	"fmt"

	"github.com/platinummonkey/modhost/pkg/discovery"
	"github.com/platinummonkey/modhost/pkg/manifest"
)

func newValidateCommand() *Command {
	cmd := &Command{
		Name:        "validate",
		Description: "Validate module manifests",
		Flags:       flag.NewFlagSet("validate", flag.ExitOnError),
		Run:         runValidate,
	}

	cmd.Flags.String("dir", ".", "Module directory, or modules root with --all")
	cmd.Flags.Bool("all", false, "Validate every module directory under --dir")
	cmd.Flags.Bool("json", false, "Print results as JSON")

	return cmd
}

// validation is the outcome for one directory
type validation struct {
	Dir    string          `json:"dir"`
	Path   string          `json:"path,omitempty"`
	Name   string          `json:"name,omitempty"`
	Result manifest.Result `json:"result"`
}

func runValidate(args []string) error {
	flags := flag.NewFlagSet("validate", flag.ContinueOnError)
	dir := flags.String("dir", ".", "Module directory, or modules root with --all")
	all := flags.Bool("all", false, "Validate every module directory under --dir")
	asJSON := flags.Bool("json", false, "Print results as JSON")

	if err := flags.Parse(args); err != nil {
		return err
	}

	var results []validation
	if *all {
		candidates, err := discovery.NewScanner(*dir, nil).Scan()
		if err != nil && len(candidates) == 0 {
			return fmt.Errorf("failed to scan %s: %w", *dir, err)
		}
		for _, c := range candidates {
			results = append(results, toValidation(c.Dir, c.Document))
		}
		if len(results) == 0 {
			return fmt.Errorf("no modules found under %s", *dir)
		}
	} else {
		doc, err := manifest.LoadDir(*dir)
		if err != nil {
			return err
		}
		results = append(results, toValidation(*dir, doc))
	}

	invalid := 0
	for _, v := range results {
		if !v.Result.Valid {
			invalid++
		}
	}

	if *asJSON {
		enc := json.NewEncoder(output)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		for _, v := range results {
			printValidation(v)
		}
	}

	if invalid > 0 {
		return fmt.Errorf("%d of %d manifest(s) invalid", invalid, len(results))
	}
	return nil
}

func toValidation(dir string, doc *manifest.Document) validation {
	v := validation{Dir: dir, Path: doc.Path, Result: doc.Result}
	v.Name, _ = doc.Raw["name"].(string)
	return v
}

func printValidation(v validation) {
	label := v.Name
	if label == "" {
		label = v.Dir
	}
	if v.Result.Valid {
		fmt.Fprintf(output, "ok      %s (%s)\n", label, v.Path)
	} else {
		fmt.Fprintf(output, "invalid %s (%s)\n", label, v.Path)
	}
	for _, issue := range v.Result.Errors {
		fmt.Fprintf(output, "  error:   %s\n", issue)
	}
	for _, issue := range v.Result.Warnings {
		fmt.Fprintf(output, "  warning: %s\n", issue)
	}
}
