package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/phrazzld/coldstore/internal/domain"
	"github.com/phrazzld/coldstore/internal/transfer"
)

// vaultsCommand prints the vaults of the configured account.
func vaultsCommand(ctx context.Context, args []string, _ io.Reader, stdout, stderr io.Writer) int {
	fs, configPath := newFlagSet("vaults", stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	app, err := newApplication(ctx, *configPath, stderr, "")
	if err != nil {
		fmt.Fprintf(stderr, "coldstore vaults: %v\n", err)
		return 1
	}
	defer func() {
		if err := app.cleanup(); err != nil {
			app.logger.Warn("cleanup failed", "error", err)
		}
	}()

	client, err := app.vault()
	if err != nil {
		fmt.Fprintf(stderr, "coldstore vaults: %v\n", err)
		return 1
	}

	vaults, err := client.ListVaults(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "coldstore vaults: %v\n", err)
		return 1
	}

	if err := printVaults(stdout, vaults); err != nil {
		fmt.Fprintf(stderr, "coldstore vaults: %v\n", err)
		return 1
	}
	return 0
}

func printVaults(w io.Writer, vaults []domain.VaultInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tARCHIVES\tSIZE\tLAST INVENTORY\tARN")
	for _, v := range vaults {
		last := "never"
		if !v.LastInventoryDate.IsZero() {
			last = v.LastInventoryDate.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
			v.Name, v.ArchiveCount, transfer.FormatBytes(v.SizeInBytes), last, v.ARN)
	}
	return tw.Flush()
}
