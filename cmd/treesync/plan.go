package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/openmined/treesync/internal/client/sync"
	"github.com/openmined/treesync/internal/treesync"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	errUnknownFormat = errors.New("unknown output format")
	errBadSince      = errors.New("cannot read --since")
)

func init() {
	rootCmd.AddCommand(newPlanCmd())
}

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what a pass would do without changing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			if format != "text" && format != "json" && format != "yaml" {
				return fmt.Errorf("%w: %q", errUnknownFormat, format)
			}
			flag, _ := cmd.Flags().GetString("direction")
			dir, err := sync.ParseDirection(flag)
			if err != nil {
				return err
			}

			a, err := openApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			engine, err := a.engine()
			if err != nil {
				return err
			}

			var since time.Time
			full, _ := cmd.Flags().GetBool("full")
			sinceFlag, _ := cmd.Flags().GetString("since")
			switch {
			case full:
			case sinceFlag != "":
				if since, err = parseSince(sinceFlag, time.Now()); err != nil {
					return err
				}
			default:
				if since, err = engine.LastSync(cmd.Context(), dir); err != nil {
					return err
				}
			}

			plan, err := engine.Plan(cmd.Context(), dir, since)
			if err != nil {
				return err
			}
			return writePlan(cmd.OutOrStdout(), plan, format)
		},
	}
	cmd.Flags().String("direction", string(sync.DirectionPull), "pull or push")
	cmd.Flags().String("since", "", `diff changes after this time, e.g. "2 hours ago" (default: last sync)`)
	cmd.Flags().Bool("full", false, "diff everything, ignoring the last sync time")
	cmd.Flags().StringP("format", "o", "text", "output format: text, json or yaml")
	return cmd
}

// parseSince reads an RFC 3339 timestamp or a phrase like "yesterday" or
// "3 days ago" relative to now.
func parseSince(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: %w", errBadSince, s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("%w %q", errBadSince, s)
	}
	return r.Time, nil
}

func writePlan(w io.Writer, p *sync.Plan, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(p); err != nil {
			return err
		}
		return enc.Close()
	case "text":
		writePlanText(w, p)
		return nil
	}
	return fmt.Errorf("%w: %q", errUnknownFormat, format)
}

func writePlanText(w io.Writer, p *sync.Plan) {
	since := "the beginning"
	if !p.Since.IsZero() {
		since = p.Since.UTC().Format(time.RFC3339)
	}
	fmt.Fprintf(w, "%s plan since %s, %d entries fetched\n", cyan(p.Direction), since, p.Fetched)

	if len(p.Actions) == 0 {
		fmt.Fprintln(w, green("nothing to do"))
		return
	}
	for _, a := range p.Actions {
		fmt.Fprintf(w, "  %s\n", colorAction(a))
	}
	if len(p.Conflicts) > 0 {
		paths := make([]string, 0, len(p.Conflicts))
		for _, c := range p.Conflicts {
			paths = append(paths, c.Path)
		}
		fmt.Fprintf(w, "%s %s\n", red("conflicts:"), strings.Join(paths, ", "))
	}
}

func colorAction(a treesync.Action) string {
	if a.Type.IsConflict() {
		return red(a.String())
	}
	side, ok := a.Type.Target()
	switch {
	case !ok:
		return a.String()
	case side == treesync.SideLocal:
		return green(a.String())
	}
	return yellow(a.String())
}
