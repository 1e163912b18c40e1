package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/painpoint-radar/internal/model"
)

var clustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "Inspect opportunity clusters",
}

var clustersTopCmd = &cobra.Command{
	Use:   "top",
	Short: "List the highest scoring clusters",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initStore(ctx, "admin")
		if err != nil {
			return err
		}
		defer env.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		list, err := env.Store.TopClusters(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "clusters top")
		}
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		}
		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No scored clusters yet.")
			return nil
		}

		formatClusters(os.Stdout, list, clusterView{
			MinMembers: cfg.Pipeline.MinClusterMembers,
			Cooldown:   time.Duration(cfg.Backval.CooldownHours) * time.Hour,
			Now:        time.Now(),
		})
		return nil
	},
}

// clusterView holds the settings the STATE and BACKVAL columns are judged by.
type clusterView struct {
	MinMembers int
	Cooldown   time.Duration
	Now        time.Time
}

// clusterState names the stage a cluster is waiting on, if any.
func (v clusterView) clusterState(c *model.Cluster) string {
	switch {
	case c.NeedsSynthesis(v.MinMembers):
		return "needs synthesis"
	case c.ScoreIsFresh():
		return "fresh"
	case c.SynthesizedAt == nil:
		return "forming"
	default:
		return "stale score"
	}
}

func (v clusterView) backvalState(c *model.Cluster) string {
	if c.BackvalidationDue(v.Now, v.Cooldown) {
		return "due"
	}
	return "cooling"
}

func formatClusters(w io.Writer, list []model.Cluster, v clusterView) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSCORE\tSTATE\tBACKVAL\tMEMBERS\tAUTHORS\tTITLE\tKEYWORDS")
	for _, c := range list {
		score := "-"
		if c.TotalScore != nil {
			score = fmt.Sprintf("%d", *c.TotalScore)
		}
		title := ""
		if c.Brief != nil {
			title = c.Brief.Title
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			c.ID, score, v.clusterState(&c), v.backvalState(&c), c.MemberCount, c.UniqueAuthorCount,
			title, strings.Join(c.Signature, ", "))
	}
	_ = tw.Flush()
}

func init() {
	clustersTopCmd.Flags().Int("limit", 20, "maximum clusters to list")
	clustersTopCmd.Flags().Bool("json", false, "print JSON instead of a table")

	clustersCmd.AddCommand(clustersTopCmd)
	rootCmd.AddCommand(clustersCmd)
}
