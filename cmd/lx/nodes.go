package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/vango-dev/lx/internal/devtools"
	"github.com/vango-dev/lx/internal/errors"
)

func nodesCmd(a *app) *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "nodes [id]",
		Short: "List the live nodes of a running inspector",
		Long: `Query a running devtools inspector for its live nodes.

Without an id every node is listed. With an id only that node is shown.

Examples:
  lx nodes
  lx nodes 12 --addr=127.0.0.1:9000`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Devtools.Addr
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client := devtools.NewClient(addr)
			if len(args) == 0 {
				nodes, err := client.Nodes(ctx)
				if err != nil {
					return err
				}
				printNodes(cmd.OutOrStdout(), nodes)
				return nil
			}

			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil || id == 0 {
				return errors.New("E303").WithDetail("Cannot parse node id " + strconv.Quote(args[0]))
			}
			view, err := client.Node(ctx, id)
			if err != nil {
				return err
			}
			printNodes(cmd.OutOrStdout(), []devtools.NodeView{view})
			return nil
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Inspector address (default from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")

	return cmd
}

func printNodes(w io.Writer, nodes []devtools.NodeView) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join([]string{"ID", "KIND", "NAME", "LISTENERS", "WRITES", "DEPS", "ERROR"}, "\t"))
	for _, n := range nodes {
		deps := make([]string, len(n.Deps))
		for i, d := range n.Deps {
			deps[i] = strconv.FormatUint(d, 10)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\t%s\n",
			n.ID, n.Kind, orDash(n.Name), n.Listeners, n.Writes,
			orDash(strings.Join(deps, ",")), orDash(n.LastError))
	}
	tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
