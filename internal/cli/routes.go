package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tbourn/wa-blip-relay/internal/repo"
	"github.com/tbourn/wa-blip-relay/internal/sysutil"
)

const defaultDBPath = "data/relay.db"

type routesOptions struct {
	DBPath string
}

// NewRoutesCommand creates the routes command group.
func NewRoutesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &routesOptions{}

	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Manage routing keys → bot routes",
	}
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "SQLite path (default $DB_PATH or "+defaultDBPath+")")

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Validate and upsert routes from a YAML file",
		Long: `Validate and upsert routes from a YAML file.

Every route is validated before anything is written; the import is a single
transaction, so a bad file leaves the table unchanged.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoutesImport(cmd.Context(), opts.dbPath(), args[0], cmd.OutOrStdout())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print routes with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoutesList(cmd.Context(), opts.dbPath(), cmd.OutOrStdout())
		},
	})

	return cmd
}

func (o *routesOptions) dbPath() string {
	if o.DBPath != "" {
		return o.DBPath
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		return v
	}
	return defaultDBPath
}

func openStore(path string) (*repo.Store, func(), error) {
	db, err := repo.OpenSQLite(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	closeDB := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return repo.NewStore(db), closeDB, nil
}

func runRoutesImport(ctx context.Context, dbPath, file string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	routes, err := repo.LoadRoutesFile(file)
	if err != nil {
		return err
	}
	st, closeDB, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := st.ImportRoutes(ctx, routes); err != nil {
		return fmt.Errorf("import routes: %w", err)
	}
	fmt.Fprintf(out, "imported %d route(s) into %s\n", len(routes), dbPath)
	return nil
}

func runRoutesList(ctx context.Context, dbPath string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	st, closeDB, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer closeDB()

	routes, err := st.Routes(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROUTING KEY\tBOT\tUSER DOMAIN\tWS URI\tMETA TOKEN\tCREDENTIALS")
	for _, r := range routes {
		n, err := repo.CountCredentials(ctx, st.DB(), r.BotID)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			r.RoutingKey, r.BotID, r.UserDomain, dash(r.WSURI), dash(sysutil.MaskSecret(r.MetaAuthToken)), n)
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
