// Package setup manages the lite server's local data: the static dictionary
// and the SQLite haplotype frequency sets.
package setup

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/hla-match-prediction/internal/config"
)

// CLI provides command-line interface for data management.
type CLI struct {
	cfg *config.LiteConfig
	out io.Writer
}

// NewCLI creates a new setup CLI instance.
func NewCLI(cfg *config.LiteConfig, out io.Writer) *CLI {
	return &CLI{cfg: cfg, out: out}
}

// Run executes the setup command based on the provided arguments.
func (c *CLI) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return c.showHelp()
	}

	switch args[0] {
	case "status":
		return c.showStatus(ctx)
	case "validate":
		return c.validate(ctx)
	case "list":
		return c.list(ctx)
	case "import":
		return c.importSet(ctx, args[1:])
	case "export":
		return c.exportSet(ctx, args[1:])
	case "help", "--help", "-h":
		return c.showHelp()
	default:
		fmt.Fprintf(c.out, "Unknown command: %s\n\n", args[0])
		return c.showHelp()
	}
}

// showHelp displays usage information.
func (c *CLI) showHelp() error {
	help := `
HLA Match Prediction Data Setup

Usage:
  mcp-server-lite setup <command> [options]

Commands:
  status                      Show the data directory, dictionary and frequency sets
  validate                    Check that predictions can be served
  list                        List stored frequency sets
  import <file.json>          Import a frequency set export; it becomes active for its population
  export <set-id> [-o file]   Export a frequency set to JSON

Environment:
  HLA_MATCH_DATA_DIR          Data directory (default ~/.hla-match-prediction)
  HLA_MATCH_DICTIONARY_FILE   Static dictionary (default <data dir>/dictionary.json)
`
	fmt.Fprintln(c.out, help)
	return nil
}

// showStatus displays the current setup status.
func (c *CLI) showStatus(ctx context.Context) error {
	status, err := GetStatus(ctx, c.cfg)
	if err != nil {
		return err
	}

	fmt.Fprintln(c.out, "HLA Match Prediction Status")
	fmt.Fprintln(c.out, "===========================")
	fmt.Fprintln(c.out)

	fmt.Fprintln(c.out, "Data Directory:")
	fmt.Fprintf(c.out, "  Path: %s\n", status.DataDir)
	if status.DataDirExists {
		fmt.Fprintln(c.out, "  Status: ✓ Exists")
	} else {
		fmt.Fprintln(c.out, "  Status: - Will be created on first run")
	}
	fmt.Fprintln(c.out)

	fmt.Fprintln(c.out, "Dictionary:")
	fmt.Fprintf(c.out, "  Path: %s\n", status.DictionaryPath)
	if status.DictionaryVersion != "" {
		fmt.Fprintf(c.out, "  Status: ✓ Loaded (nomenclature %s)\n", status.DictionaryVersion)
	} else {
		fmt.Fprintf(c.out, "  Status: ✗ %s\n", status.DictionaryError)
	}
	fmt.Fprintln(c.out)

	fmt.Fprintln(c.out, "Frequency Sets:")
	fmt.Fprintf(c.out, "  Database: %s\n", status.FrequencyDBPath)
	fmt.Fprintf(c.out, "  Stored: %d\n", len(status.Sets))
	fmt.Fprintln(c.out)

	if len(status.Issues) > 0 {
		fmt.Fprintln(c.out, "Issues:")
		for _, issue := range status.Issues {
			fmt.Fprintf(c.out, "  ⚠ %s\n", issue)
		}
		fmt.Fprintln(c.out)
	}

	return nil
}

// validate checks the current configuration.
func (c *CLI) validate(ctx context.Context) error {
	fmt.Fprintln(c.out, "Validating data directory...")
	fmt.Fprintln(c.out)

	valid, issues := Validate(ctx, c.cfg)

	if valid {
		fmt.Fprintln(c.out, "✓ Ready to serve predictions")
		for _, issue := range issues {
			fmt.Fprintf(c.out, "  - %s\n", issue)
		}
		return nil
	}

	fmt.Fprintln(c.out, "✗ Setup has issues:")
	for _, issue := range issues {
		fmt.Fprintf(c.out, "  - %s\n", issue)
	}
	return fmt.Errorf("validation failed with %d issue(s)", len(issues))
}

func (c *CLI) list(ctx context.Context) error {
	sets, err := ListSets(ctx, c.cfg)
	if err != nil {
		return err
	}
	if len(sets) == 0 {
		fmt.Fprintln(c.out, "No frequency sets imported.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tREGISTRY\tETHNICITY\tNOMENCLATURE\tACTIVE")
	for _, set := range sets {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%t\n",
			set.ID, set.Name, orGlobal(set.RegistryCode), orGlobal(set.EthnicityCode), set.HlaNomenclatureVersion, set.Active)
	}
	return w.Flush()
}

func orGlobal(code string) string {
	if code == "" {
		return "*"
	}
	return code
}

func (c *CLI) importSet(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: import <file.json>")
	}

	set, err := ImportFile(ctx, c.cfg, args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "✓ Imported frequency set %d (%s), now active for registry %s, ethnicity %s\n",
		set.ID, set.Name, orGlobal(set.RegistryCode), orGlobal(set.EthnicityCode))
	return nil
}

func (c *CLI) exportSet(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("export", pflag.ContinueOnError)
	flags.SetOutput(c.out)
	output := flags.StringP("output", "o", "", "output file (default: export directory)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("usage: export <set-id> [-o file]")
	}
	setID, err := strconv.ParseInt(flags.Arg(0), 10, 64)
	if err != nil || setID <= 0 {
		return fmt.Errorf("invalid set id %q", flags.Arg(0))
	}

	path, err := ExportSet(ctx, c.cfg, setID, *output)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "✓ Exported frequency set %d to %s\n", setID, path)
	return nil
}
