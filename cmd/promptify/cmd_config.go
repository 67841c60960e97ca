package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/promptify/settings"
)

func (a *app) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or edit the rewriting settings (provider, model, apiKey, apiUrl)",
	}

	var reveal bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings, environment overrides applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStores()
			if err != nil {
				return err
			}
			defer st.Close()
			cur, err := settings.Effective(cmd.Context(), st.settings)
			if err != nil {
				return err
			}
			if !reveal {
				cur = cur.Redacted()
			}
			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(cur)
		},
	}
	show.Flags().BoolVar(&reveal, "reveal", false, "print the API key in clear")

	get := &cobra.Command{
		Use:       "get <key>",
		Short:     "Print one effective setting",
		Args:      cobra.ExactArgs(1),
		ValidArgs: settings.Keys,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStores()
			if err != nil {
				return err
			}
			defer st.Close()
			cur, err := settings.Effective(cmd.Context(), st.settings)
			if err != nil {
				return err
			}
			v, err := cur.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a setting; key \"preset\" sets provider and model together",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStores()
			if err != nil {
				return err
			}
			defer st.Close()
			ctx := cmd.Context()
			stored, err := st.settings.Load(ctx)
			if err != nil {
				return err
			}
			next, err := applySetting(stored, args[0], args[1])
			if err != nil {
				return err
			}
			if err := next.Resolve().Validate(); err != nil {
				return err
			}
			if err := st.settings.Save(ctx, next); err != nil {
				return err
			}
			a.logger.Info("promptify: setting stored", "key", args[0])
			return nil
		},
	}

	providers := &cobra.Command{
		Use:   "providers",
		Short: "List known providers and presets",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			rows := make([][]string, 0, len(settings.Providers))
			for _, name := range settings.ProviderNames() {
				p := settings.Providers[name]
				rows = append(rows, []string{p.Name, p.DefaultModel, p.Description})
			}
			fmt.Fprintln(out, renderTable([]string{"PROVIDER", "DEFAULT MODEL", "DESCRIPTION"}, rows))

			presets := make([][]string, 0, len(settings.Presets))
			for _, p := range settings.Presets {
				presets = append(presets, []string{p.Name, p.Provider, p.Model})
			}
			sort.Slice(presets, func(i, j int) bool { return presets[i][0] < presets[j][0] })
			fmt.Fprintln(out, renderTable([]string{"PRESET", "PROVIDER", "MODEL"}, presets))
		},
	}

	cmd.AddCommand(show, get, set, providers)
	return cmd
}

// applySetting sets key on s. "preset" expands to provider and model.
func applySetting(s settings.Settings, key, value string) (settings.Settings, error) {
	if key != "preset" {
		return s.With(key, value)
	}
	p, ok := settings.LookupPreset(value)
	if !ok {
		return s, fmt.Errorf("promptify: unknown preset %q", value)
	}
	s.Provider, s.Model = p.Provider, p.Model
	return s, nil
}
