package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/zsiec/network-monitor/internal/manifest"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Inspect build manifests",
}

var manifestShowCmd = &cobra.Command{
	Use:   "show [file]",
	Short: "Show a manifest, or this project's own when no file is given",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runManifestShow,
}

var manifestDiffCmd = &cobra.Command{
	Use:   "diff <file> [other]",
	Short: "Compare the requirements of two manifests",
	Long: `Compares requirement sets. With one file, compares it against this
project's own manifest.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runManifestDiff,
}

func init() {
	manifestCmd.AddCommand(manifestShowCmd)
	manifestCmd.AddCommand(manifestDiffCmd)
}

func loadManifest(fs afero.Fs, args []string, i int) (*manifest.Manifest, string, error) {
	if i >= len(args) {
		return manifest.Default(), "(built-in)", nil
	}
	m, err := manifest.ParseFile(fs, args[i])
	return m, args[i], err
}

func runManifestShow(cmd *cobra.Command, args []string) error {
	m, _, err := loadManifest(afero.NewOsFs(), args, 0)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, m)
	}

	ref := m.Reference()
	if ref == "" {
		ref = "(anonymous)"
	}
	fmt.Fprintf(out, "Reference:  %s\n", ref)
	if len(m.Generators) > 0 {
		fmt.Fprintf(out, "Generators: %s\n", strings.Join(m.Generators, ", "))
	}
	fmt.Fprintln(out, "Requires:")
	for _, r := range m.SortedRequirements() {
		fmt.Fprintf(out, "  %s\n", r)
	}
	if opts := m.SortedOptions(); len(opts) > 0 {
		fmt.Fprintln(out, "Options:")
		for _, o := range opts {
			fmt.Fprintf(out, "  %s\n", o)
		}
	}
	return nil
}

func runManifestDiff(cmd *cobra.Command, args []string) error {
	fs := afero.NewOsFs()
	a, aName, err := loadManifest(fs, args, 0)
	if err != nil {
		return err
	}
	b, bName, err := loadManifest(fs, args, 1)
	if err != nil {
		return err
	}

	onlyA, onlyB := a.Diff(b)
	options := a.OptionDiff(b)
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, map[string]interface{}{
			"same_package":   a.Equal(b),
			"only_left":      onlyA,
			"only_right":     onlyB,
			"left_subset":    a.IsStrictSubsetOf(b),
			"right_subset":   b.IsStrictSubsetOf(a),
			"option_changes": options,
		})
	}

	if len(onlyA) == 0 && len(onlyB) == 0 {
		fmt.Fprintln(out, "Requirements are identical")
	}
	for _, r := range onlyA {
		fmt.Fprintf(out, "- %s  (only in %s)\n", r, aName)
	}
	for _, r := range onlyB {
		fmt.Fprintf(out, "+ %s  (only in %s)\n", r, bName)
	}
	switch {
	case a.IsStrictSubsetOf(b):
		fmt.Fprintf(out, "%s requires a strict subset of %s\n", aName, bName)
	case b.IsStrictSubsetOf(a):
		fmt.Fprintf(out, "%s requires a strict subset of %s\n", bName, aName)
	}
	for _, c := range options {
		fmt.Fprintf(out, "~ %s  %s -> %s\n", c.Key, unsetOr(c.Left), unsetOr(c.Right))
	}
	return nil
}

func unsetOr(v string) string {
	if v == "" {
		return "(unset)"
	}
	return v
}
