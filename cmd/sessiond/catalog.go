package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tomz197/skirmish/internal/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect experience catalogs",
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Check a catalog file for errors",
	Long: `Parse a catalog file and report experiences that reference unknown
feature modules. Without a path the built-in catalog is checked.

Examples:
  sessiond catalog validate ./catalog.yaml
  sessiond catalog validate`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCatalogValidate,
}

func init() {
	catalogCmd.AddCommand(catalogValidateCmd)
}

func runCatalogValidate(cmd *cobra.Command, args []string) error {
	c := catalog.Default()
	source := "built-in catalog"
	if len(args) == 1 {
		loaded, err := catalog.LoadFile(args[0])
		if err != nil {
			return err
		}
		c = loaded
		source = args[0]
	}

	out := cmd.OutOrStdout()
	for _, id := range c.Experiences() {
		fmt.Fprintf(out, "  %s\n", id)
	}

	problems := c.Problems()
	if len(problems) == 0 {
		fmt.Fprintf(out, "%s: %d experiences, no problems\n", source, len(c.Experiences()))
		return nil
	}
	for _, p := range problems {
		fmt.Fprintf(out, "problem: %s\n", p)
	}
	return fmt.Errorf("%s: %d problems", source, len(problems))
}
