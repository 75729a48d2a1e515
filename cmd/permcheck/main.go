// permcheck prints the console's role policy as a role by module matrix and
// audits the navigation menus against it. It exits 1 when a menu entry leads
// to a module its role cannot view, so CI can gate policy edits on it.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/rooby-r/sygla-h2o-sub001/internal/rbac"
)

func main() {
	os.Exit(run(os.Args[1:], rbac.DefaultTable(), os.Stdout, os.Stderr))
}

type options struct {
	Format string
	Role   string
}

type report struct {
	Roles      []roleReport    `yaml:"roles"`
	Mismatches []rbac.Mismatch `yaml:"mismatches"`
}

type roleReport struct {
	Role    rbac.Role      `yaml:"role"`
	Modules []moduleReport `yaml:"modules"`
}

type moduleReport struct {
	Module  rbac.Module   `yaml:"module"`
	Actions []rbac.Action `yaml:"actions"`
}

func run(args []string, table *rbac.Table, stdout, stderr io.Writer) int {
	var opts options
	flagSet := pflag.NewFlagSet("permcheck", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&opts.Format, "format", "text", "output format: text or yaml")
	flagSet.StringVar(&opts.Role, "role", "", "only print this role")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	rep, err := buildReport(table, opts.Role)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "permcheck: %v\n", err)
		return 2
	}

	switch opts.Format {
	case "yaml":
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			_, _ = fmt.Fprintf(stderr, "permcheck: encode yaml: %v\n", err)
			return 2
		}
		_ = enc.Close()
	case "text":
		renderText(stdout, rep)
	default:
		_, _ = fmt.Fprintf(stderr, "permcheck: unknown format %q (expected text or yaml)\n", opts.Format)
		return 2
	}

	if len(rep.Mismatches) > 0 {
		return 1
	}
	return 0
}

func buildReport(table *rbac.Table, only string) (report, error) {
	roles := table.Roles()
	if only != "" {
		found := false
		for _, role := range roles {
			if string(role) == only {
				found = true
				break
			}
		}
		if !found {
			return report{}, fmt.Errorf("unknown role %q", only)
		}
		roles = []rbac.Role{rbac.Role(only)}
	}

	matrix := table.Matrix()
	rep := report{Mismatches: []rbac.Mismatch{}}
	for _, role := range roles {
		row := roleReport{Role: role}
		for _, module := range rbac.AllModules() {
			actions := matrix[role][module]
			if actions == nil {
				actions = []rbac.Action{}
			}
			row.Modules = append(row.Modules, moduleReport{Module: module, Actions: actions})
		}
		rep.Roles = append(rep.Roles, row)
	}
	for _, m := range table.Audit() {
		if only == "" || string(m.Role) == only {
			rep.Mismatches = append(rep.Mismatches, m)
		}
	}
	return rep, nil
}

func renderText(w io.Writer, rep report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, role := range rep.Roles {
		_, _ = fmt.Fprintf(tw, "%s\t\n", role.Role.DisplayName())
		for _, module := range role.Modules {
			actions := "-"
			if len(module.Actions) > 0 {
				names := make([]string, len(module.Actions))
				for i, a := range module.Actions {
					names[i] = string(a)
				}
				actions = strings.Join(names, ", ")
			}
			_, _ = fmt.Fprintf(tw, "  %s\t%s\n", module.Module, actions)
		}
	}
	_ = tw.Flush()

	if len(rep.Mismatches) == 0 {
		_, _ = fmt.Fprintln(w, "menus: ok")
		return
	}
	_, _ = fmt.Fprintf(w, "menus: %d mismatch(es)\n", len(rep.Mismatches))
	for _, m := range rep.Mismatches {
		_, _ = fmt.Fprintf(w, "  %s\n", m)
	}
}
