package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gorm.io/datatypes"

	providerDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/provider"
)

var providerCmd = &cobra.Command{
	Use:   "provider",
	Short: "Manage payment providers",
	Long:  `Register payment providers and switch the active one at runtime`,
}

var listProvidersCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered providers and mark the active one",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDependencies(func(ctx context.Context, deps *Dependencies) error {
			providers, err := deps.Providers.List(ctx)
			if err != nil {
				return err
			}
			var activeID int64
			if _, active, err := deps.Selector.Active(); err == nil {
				activeID = active.ID
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTYPE\tBASE URL\tACTIVE")
			for _, p := range providers {
				mark := ""
				if p.ID == activeID {
					mark = "*"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.ProviderType, p.BaseURL, mark)
			}
			return tw.Flush()
		})
	},
}

var (
	providerType      string
	providerBaseURL   string
	providerAPIKey    string
	providerAPISecret string
	providerConfig    string
)

var addProviderCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Register a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDependencies(func(ctx context.Context, deps *Dependencies) error {
			p := &providerDatamodel.Provider{
				Name:         args[0],
				ProviderType: providerType,
				BaseURL:      providerBaseURL,
				APIKey:       providerAPIKey,
				APISecret:    providerAPISecret,
			}
			if providerConfig != "" {
				p.Config = datatypes.JSON(providerConfig)
			}
			if err := deps.Providers.Create(ctx, p); err != nil {
				return err
			}
			fmt.Printf("registered provider %s (id %d, type %s)\n", p.Name, p.ID, p.ProviderType)
			return nil
		})
	},
}

var activateProviderCmd = &cobra.Command{
	Use:   "activate [id|name]",
	Short: "Make a provider the active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDependencies(func(ctx context.Context, deps *Dependencies) error {
			p, err := findProvider(ctx, deps, args[0])
			if err != nil {
				return err
			}
			if err := deps.Selector.Activate(ctx, p.ID); err != nil {
				return err
			}
			fmt.Printf("active provider is now %s (version %d)\n", p.Name, deps.Selector.Version())
			return nil
		})
	},
}

var deactivateProviderCmd = &cobra.Command{
	Use:   "deactivate",
	Short: "Clear the active provider; initiations fail until one is activated",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDependencies(func(ctx context.Context, deps *Dependencies) error {
			return deps.Selector.Deactivate(ctx)
		})
	},
}

func findProvider(ctx context.Context, deps *Dependencies, ref string) (*providerDatamodel.Provider, error) {
	var (
		p   *providerDatamodel.Provider
		err error
	)
	if id, convErr := strconv.ParseInt(ref, 10, 64); convErr == nil {
		p, err = deps.Providers.GetByID(ctx, id)
	} else {
		p, err = deps.Providers.GetByName(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("provider %q not found", ref)
	}
	return p, nil
}

// withDependencies runs fn against a fully wired core and closes it afterwards.
func withDependencies(fn func(ctx context.Context, deps *Dependencies) error) error {
	ctx := context.Background()
	deps, err := initializeDependencies(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()
	return fn(ctx, deps)
}

func init() {
	addProviderCmd.Flags().StringVar(&providerType, "type", providerDatamodel.TypeMoMo, "Provider type (MOMO, CARD, SANDBOX)")
	addProviderCmd.Flags().StringVar(&providerBaseURL, "base-url", "", "Provider API base URL")
	addProviderCmd.Flags().StringVar(&providerAPIKey, "api-key", "", "Provider API key")
	addProviderCmd.Flags().StringVar(&providerAPISecret, "api-secret", "", "Provider API secret")
	addProviderCmd.Flags().StringVar(&providerConfig, "config", "", "Provider specific JSON settings")

	providerCmd.AddCommand(listProvidersCmd)
	providerCmd.AddCommand(addProviderCmd)
	providerCmd.AddCommand(activateProviderCmd)
	providerCmd.AddCommand(deactivateProviderCmd)

	rootCmd.AddCommand(providerCmd)
}
