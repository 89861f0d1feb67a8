package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/L1nMay/vulnorch/internal/model"
	"github.com/L1nMay/vulnorch/internal/scan"
)

// assetFile is the import format:
//
//	org: acme
//	assets:
//	  - id: web-1
//	    name: shop
//	    url: https://shop.example.com
type assetFile struct {
	Org    string        `yaml:"org"`
	Assets []model.Asset `yaml:"assets"`
}

func newAssetsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assets",
		Short: "Manage the asset directory",
	}
	cmd.AddCommand(newAssetsImportCmd(a), newAssetsListCmd(a))
	return cmd
}

func newAssetsImportCmd(a *app) *cobra.Command {
	var org string

	cmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Load assets from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			assets, err := readAssetFile(args[0], org)
			if err != nil {
				return err
			}

			st, err := openStore(a.cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			for _, asset := range assets {
				if err := st.PutAsset(asset); err != nil {
					return fmt.Errorf("asset %s: %w", asset.ID, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d asset(s)\n", len(assets))
			return nil
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "organization for assets that do not name one")
	return cmd
}

// readAssetFile parses and checks an import file. Every asset needs an id and
// an organization; assets with an IP or URL must have a usable host.
func readAssetFile(path, org string) ([]model.Asset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f assetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if org == "" {
		org = f.Org
	}

	seen := make(map[string]bool, len(f.Assets))
	for i := range f.Assets {
		asset := &f.Assets[i]
		if asset.ID == "" {
			return nil, fmt.Errorf("asset #%d has no id", i+1)
		}
		if seen[asset.ID] {
			return nil, fmt.Errorf("duplicate asset id %s", asset.ID)
		}
		seen[asset.ID] = true

		if asset.OrgID == "" {
			asset.OrgID = org
		}
		if asset.OrgID == "" {
			return nil, fmt.Errorf("asset %s has no organization, use --org", asset.ID)
		}
		if asset.Scannable() {
			if err := scan.ValidateAssets([]model.Asset{*asset}); err != nil {
				return nil, err
			}
		}
	}
	return f.Assets, nil
}

func newAssetsListCmd(a *app) *cobra.Command {
	var org string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an organization's assets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(a.cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			assets, err := st.ListAssets(org)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tIP\tURL\tSCANNABLE")
			for _, asset := range assets {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", asset.ID, asset.Name, asset.IP, asset.URL, asset.Scannable())
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "organization id")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}
