package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bawdo/relq/exec"
	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/provider"
	"github.com/bawdo/relq/querydoc"
	"github.com/bawdo/relq/visitors"
)

// translateOptions holds flags for the translate command.
type translateOptions struct {
	*rootOptions
	Dot    bool
	Pretty bool
}

func newTranslateCommand(root *rootOptions) *cobra.Command {
	opts := &translateOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "translate <doc.yaml>",
		Short: "Print the SQL a query document compiles to",
		Long: `Compile a query document for the selected dialect and print every
command it runs. Use "-" to read the document from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranslate(opts, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&opts.Dot, "dot", false, "print the compiled trees as Graphviz DOT")
	cmd.Flags().BoolVar(&opts.Pretty, "pretty", false, "print multi-line SQL with values inlined")
	return cmd
}

func runTranslate(opts *translateOptions, path string, stdin io.Reader, out io.Writer) error {
	p, s, err := opts.provider(nil)
	if err != nil {
		return err
	}
	q, err := readDocument(path, stdin, s)
	if err != nil {
		return err
	}
	plan, err := p.Plan(q)
	if err != nil {
		return err
	}
	text, err := renderPlan(plan, opts.Dot, opts.Pretty)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(out, text)
	return err
}

// renderPlan prints the commands of plan as SQL, pretty SQL or DOT, with
// the arguments the plan needs.
func renderPlan(plan *exec.Plan, dot, pretty bool) (string, error) {
	var b strings.Builder
	if dot {
		dv := visitors.NewDotVisitor()
		for _, cmd := range plan.Commands {
			for _, src := range cmd.Sources {
				dv.Add(src)
			}
		}
		return dv.ToDot(), nil
	}
	for i, cmd := range plan.Commands {
		if i > 0 {
			b.WriteString("\n")
		}
		if !pretty {
			b.WriteString(cmd.Text)
			b.WriteString(";\n")
			continue
		}
		for _, src := range cmd.Sources {
			text, err := visitors.Pretty(plan.Lang, src)
			if err != nil {
				return "", err
			}
			b.WriteString(text)
			b.WriteString(";\n")
		}
	}
	if params := plan.Params(); len(params) > 0 {
		fmt.Fprintf(&b, "-- arguments: %s\n", strings.Join(params, ", "))
	}
	return b.String(), nil
}

// provider builds a provider for the selected dialect and mapping file. A
// nil rt gives a provider that only compiles.
func (o *rootOptions) provider(rt exec.Runtime, opts ...provider.Option) (*provider.Provider, *schema, error) {
	lang, err := o.language()
	if err != nil {
		return nil, nil, err
	}
	s, err := loadSchema(o.Mapping)
	if err != nil {
		return nil, nil, err
	}
	opts = append([]provider.Option{provider.WithLogger(o.logger)}, opts...)
	return provider.New(mapping.NewMapper(s.mapping, lang), rt, opts...), s, nil
}

// readDocument parses the query document at path, or stdin for "-", and
// builds it against s.
func readDocument(path string, stdin io.Reader, s *schema) (provider.Expression, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open document: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	d, err := querydoc.Parse(r)
	if err != nil {
		return nil, err
	}
	return buildDocument(d, s)
}

func buildDocument(d *querydoc.Document, s *schema) (provider.Expression, error) {
	if d.IsCommand() {
		return d.BuildCommand(s.mapping, s.types...)
	}
	return d.Build(s.mapping, s.types...)
}
