package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/todosync/internal/reconcile"
)

// DiffResult is the JSON payload of the diff command.
type DiffResult struct {
	From   string           `json:"from"`
	To     string           `json:"to"`
	Edits  []string         `json:"edits"`
	Script reconcile.Script `json:"script"`
}

// NewDiffCommand creates the diff command.
func NewDiffCommand(opts *RootOptions) *cobra.Command {
	var from, to filterFlags
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Show the edit script that turns one view into another",
		Long: `Materialize two views of the current todos and print the minimal
edit script a display showing the first view would apply to show the second.

Examples:
  todosync diff --from-filter all --to-filter active
  todosync diff --to-search milk --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fromFilter, err := from.filter()
			if err != nil {
				return err
			}
			toFilter, err := to.filter()
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(a *app) error {
				prev, err := a.engine.List(fromFilter)
				if err != nil {
					return a.fail("diff", err)
				}
				next, err := a.engine.List(toFilter)
				if err != nil {
					return a.fail("diff", err)
				}

				script := reconcile.Diff(prev, next)
				a.out.VerboseLog("diff %s -> %s: %d ops", fromFilter, toFilter, len(script))
				if a.out.Format == "json" {
					edits := make([]string, len(script))
					for i, op := range script {
						edits[i] = op.String()
					}
					if script == nil {
						script = reconcile.Script{}
					}
					return a.out.Success(DiffResult{
						From:   fromFilter.String(),
						To:     toFilter.String(),
						Edits:  edits,
						Script: script,
					})
				}
				a.out.renderScript(script)
				return nil
			})
		},
	}
	from.register(cmd, "from-", "view shown before")
	to.register(cmd, "to-", "view shown after")
	return cmd
}
