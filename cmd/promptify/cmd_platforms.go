package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/promptify/dom/memdom"
	"github.com/hazyhaar/promptify/platform"
)

func (a *app) newPlatformsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "platforms",
		Short: "List the chat sites promptify recognises",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := a.registry()
			if err != nil {
				return err
			}
			rows := make([][]string, 0, reg.Len())
			for _, d := range reg.All() {
				rows = append(rows, []string{d.ID, d.Name, strings.Join(d.Hosts, " "), strconv.Itoa(len(d.InputSelectors))})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "NAME", "HOSTS", "SELECTORS"}, rows))
			return nil
		},
	}
}

func (a *app) newProbeCmd() *cobra.Command {
	var origin, platformID string
	cmd := &cobra.Command{
		Use:   "probe <snapshot.html>",
		Short: "Check a platform's input selectors against a saved page",
		Long: `probe parses a saved HTML snapshot as if it were served from --origin and
reports, for every input selector of the matching descriptor, whether it
matches and at which shadow depth. Use it when a site redesign breaks
detection.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry()
			if err != nil {
				return err
			}
			d, err := pickDescriptor(reg, origin, platformID)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("promptify: %w", err)
			}
			defer f.Close()
			doc, err := memdom.Parse(f, origin)
			if err != nil {
				return err
			}

			loc := a.newLocator()
			matches := loc.Probe(doc, d)
			hits := make(map[string]int, len(matches))
			depth := make(map[string]int, len(matches))
			for _, m := range matches {
				hits[m.Selector]++
				if _, ok := depth[m.Selector]; !ok {
					depth[m.Selector] = m.Depth
				}
			}
			rows := make([][]string, 0, len(d.InputSelectors))
			for _, sel := range d.InputSelectors {
				row := []string{sel, "0", "-"}
				if n := hits[sel]; n > 0 {
					row[1], row[2] = strconv.Itoa(n), strconv.Itoa(depth[sel])
				}
				rows = append(rows, row)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "platform %s (%s)\n", d.ID, d.Name)
			fmt.Fprintln(out, renderTable([]string{"SELECTOR", "MATCHES", "DEPTH"}, rows))

			el, ok := loc.Locate(doc, d)
			if !ok {
				return fmt.Errorf("promptify: no input found for %s", d.ID)
			}
			fmt.Fprintf(out, "input <%s> draft %q\n", el.Tag(), d.ReadText(el))
			return nil
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "", "URL the snapshot was saved from")
	cmd.Flags().StringVar(&platformID, "platform", "", "descriptor id (default: identified from --origin)")
	cmd.MarkFlagRequired("origin")
	return cmd
}

func pickDescriptor(reg *platform.Registry, origin, id string) (*platform.Descriptor, error) {
	if id != "" {
		d, ok := reg.Get(id)
		if !ok {
			return nil, fmt.Errorf("promptify: unknown platform %q", id)
		}
		return d, nil
	}
	d, ok := reg.Identify(origin)
	if !ok {
		return nil, fmt.Errorf("promptify: no platform matches %s", origin)
	}
	return d, nil
}
