package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/roach88/todosync/internal/reconcile"
	"github.com/roach88/todosync/internal/todo"
)

const (
	colorPass = color.FgGreen
	colorFail = color.FgRed
)

// renderTodos prints one todo per line: "[x]   3  walk the dog".
func (f *OutputFormatter) renderTodos(todos []todo.Todo) {
	if len(todos) == 0 {
		fmt.Fprintln(f.Writer, f.paint(color.Faint).Sprint("no todos"))
		return
	}
	width := len(fmt.Sprint(todos[0].ID))
	for _, t := range todos {
		width = max(width, len(fmt.Sprint(t.ID)))
	}
	for _, t := range todos {
		fmt.Fprintln(f.Writer, f.todoLine(t, width))
	}
}

func (f *OutputFormatter) todoLine(t todo.Todo, width int) string {
	box := "[ ]"
	text := t.Text
	if t.Completed {
		box = f.paint(color.FgGreen).Sprint("[x]")
		text = f.paint(color.Faint, color.CrossedOut).Sprint(t.Text)
	}
	return fmt.Sprintf("%s %*d  %s", box, width, t.ID, text)
}

func (f *OutputFormatter) renderStats(s todo.Stats) {
	fmt.Fprintf(f.Writer, "%d total, %s active, %s completed\n",
		s.Total,
		f.paint(color.FgYellow).Sprint(s.Active),
		f.paint(color.FgGreen).Sprint(s.Completed))
}

// renderScript prints each op on its own line, colored by kind.
func (f *OutputFormatter) renderScript(script reconcile.Script) {
	if script.IsEmpty() {
		fmt.Fprintln(f.Writer, f.paint(color.Faint).Sprint("no changes"))
		return
	}
	for _, op := range script {
		line := op.String()
		name, rest, _ := strings.Cut(line, " ")
		fmt.Fprintf(f.Writer, "%s %s\n", f.paint(opColor(op.Kind)).Sprint(name), rest)
	}
}

func opColor(k reconcile.OpKind) color.Attribute {
	switch k {
	case reconcile.OpRemove:
		return color.FgRed
	case reconcile.OpInsert:
		return color.FgGreen
	case reconcile.OpMove:
		return color.FgCyan
	default:
		return color.FgYellow
	}
}
