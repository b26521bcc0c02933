package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/todosync/internal/todo"
	"github.com/roach88/todosync/internal/view"
)

// parseID parses a todo id argument.
func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid id %q: must be a positive integer", arg))
	}
	return id, nil
}

// filterFlags selects a view from --filter and --search.
type filterFlags struct {
	name   string
	search string
}

func (ff *filterFlags) register(cmd *cobra.Command, prefix, usage string) {
	cmd.Flags().StringVar(&ff.name, prefix+"filter", "all", usage+" (all|active|completed|search)")
	cmd.Flags().StringVar(&ff.search, prefix+"search", "", "search text; implies --"+prefix+"filter=search")
}

func (ff *filterFlags) filter() (view.Filter, error) {
	name := ff.name
	if ff.search != "" {
		name = "search"
	}
	f, err := view.Parse(name, ff.search)
	if err != nil {
		return view.Filter{}, WrapExitError(ExitCommandError, "invalid filter", err)
	}
	return f, nil
}

// NewAddCommand creates the add command.
func NewAddCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <text...>",
		Short: "Add a todo",
		Long: `Add a todo. The text is trimmed and must be 1-500 characters.

Examples:
  todosync add Buy milk
  todosync add "Walk the dog" --db todos.db`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				t, err := a.engine.Insert(strings.Join(args, " "))
				if err != nil {
					return a.fail("add", err)
				}
				return a.printTodo("added", t)
			})
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand(opts *RootOptions) *cobra.Command {
	var ff filterFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List todos, newest first",
		Long: `List todos matching a filter, newest first.

Examples:
  todosync list
  todosync list --filter active
  todosync list --search milk --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := ff.filter()
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(a *app) error {
				todos, err := a.engine.List(f)
				if err != nil {
					return a.fail("list", err)
				}
				if a.out.Format == "json" {
					return a.out.Success(map[string]interface{}{
						"filter": f.String(),
						"todos":  todos,
					})
				}
				a.out.renderTodos(todos)
				return nil
			})
		},
	}
	ff.register(cmd, "", "view to list")
	return cmd
}

// NewToggleCommand creates the toggle command.
func NewToggleCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "toggle <id>",
		Short:         "Flip a todo between active and completed",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(a *app) error {
				t, err := a.engine.Toggle(id)
				if err != nil {
					return a.fail("toggle", err)
				}
				return a.printTodo("toggled", t)
			})
		},
	}
}

// NewEditCommand creates the edit command.
func NewEditCommand(opts *RootOptions) *cobra.Command {
	var (
		text      string
		completed bool
	)
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a todo's text or completion",
		Long: `Change a todo's text, completion, or both.
At least one of --text and --completed is required.

Examples:
  todosync edit 3 --text "Buy oat milk"
  todosync edit 3 --completed=false`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var patch todo.Patch
			if cmd.Flags().Changed("text") {
				patch.Text = &text
			}
			if cmd.Flags().Changed("completed") {
				patch.Completed = &completed
			}
			return withApp(cmd, opts, func(a *app) error {
				t, err := a.engine.Update(id, patch)
				if err != nil {
					return a.fail("edit", err)
				}
				return a.printTodo("updated", t)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "new text")
	cmd.Flags().BoolVar(&completed, "completed", false, "new completion state")
	return cmd
}

// NewRemoveCommand creates the rm command.
func NewRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "rm <id>",
		Aliases:       []string{"delete"},
		Short:         "Delete a todo",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(a *app) error {
				if err := a.engine.Delete(id); err != nil {
					return a.fail("rm", err)
				}
				if a.out.Format == "json" {
					return a.out.Success(map[string]int64{"id": id})
				}
				fmt.Fprintf(a.out.Writer, "deleted %d\n", id)
				return nil
			})
		},
	}
}

// NewClearCompletedCommand creates the clear-completed command.
func NewClearCompletedCommand(opts *RootOptions) *cobra.Command {
	return bulkCommand(opts, "clear-completed", "Delete every completed todo", "deleted",
		func(a *app) (int, error) { return a.engine.DeleteCompleted() })
}

// NewClearAllCommand creates the clear-all command.
func NewClearAllCommand(opts *RootOptions) *cobra.Command {
	return bulkCommand(opts, "clear-all", "Delete every todo", "deleted",
		func(a *app) (int, error) { return a.engine.DeleteAll() })
}

// NewCompleteAllCommand creates the complete-all command.
func NewCompleteAllCommand(opts *RootOptions) *cobra.Command {
	var undo bool
	cmd := bulkCommand(opts, "complete-all", "Mark every todo completed (or active with --undo)", "changed",
		func(a *app) (int, error) { return a.engine.SetAllCompleted(!undo) })
	cmd.Flags().BoolVar(&undo, "undo", false, "mark every todo active instead")
	return cmd
}

func bulkCommand(opts *RootOptions, use, short, verb string, run func(a *app) (int, error)) *cobra.Command {
	return &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				n, err := run(a)
				if err != nil {
					return a.fail(use, err)
				}
				if a.out.Format == "json" {
					return a.out.Success(map[string]int{"count": n})
				}
				fmt.Fprintf(a.out.Writer, "%s %d\n", verb, n)
				return nil
			})
		},
	}
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stats",
		Short:         "Show total, active and completed counts",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				s, err := a.engine.Stats()
				if err != nil {
					return a.fail("stats", err)
				}
				if a.out.Format == "json" {
					return a.out.Success(s)
				}
				a.out.renderStats(s)
				return nil
			})
		},
	}
}

func (a *app) printTodo(verb string, t todo.Todo) error {
	if a.out.Format == "json" {
		return a.out.Success(t)
	}
	fmt.Fprintf(a.out.Writer, "%s %s\n", verb, a.out.todoLine(t, 0))
	return nil
}
