package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"laminate/internal/auth"
	"laminate/internal/common/logging"
	"laminate/internal/config"
	"laminate/internal/laminate/template"
)

// maxParallelRenders bounds the files rendered or checked at once
const maxParallelRenders = 8

type renderFlags struct {
	locals  string
	timeout int
	raise   bool
	dialect string
}

func (f *renderFlags) apply(cfg *config.Config) {
	if f.timeout > 0 {
		cfg.Timeout = fmt.Sprint(f.timeout)
	}
	if f.dialect != "" {
		cfg.Dialect = f.dialect
	}
}

func newRenderCommand() *cobra.Command {
	flags := &renderFlags{}
	cmd := &cobra.Command{
		Use:   "render FILE...",
		Short: "Render template files to stdout",
		Long: `Render one or more template files. Files are rendered concurrently and
printed in the order given.

Locals are read from a YAML or JSON file. Without --raise a failing template
prints its error as an HTML fragment in place of its output; with --raise
the command fails instead.

Examples:
  laminate render page.lam
  laminate render page.lam --locals data.yaml --timeout 5
  laminate render a.lam b.lam --raise`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd.Context(), cmd.OutOrStdout(), args, flags)
		},
	}
	cmd.Flags().StringVar(&flags.locals, "locals", "", "YAML or JSON file with template locals")
	cmd.Flags().IntVar(&flags.timeout, "timeout", 0, "render timeout in seconds (default LAMINATE_TIMEOUT)")
	cmd.Flags().BoolVar(&flags.raise, "raise", false, "fail on template errors instead of rendering them")
	cmd.Flags().StringVar(&flags.dialect, "dialect", "", "delimiter dialect: erb or mustache (default LAMINATE_DIALECT)")
	return cmd
}

func runRender(ctx context.Context, w io.Writer, files []string, flags *renderFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	flags.apply(cfg)

	app, err := NewLocal(cfg)
	if err != nil {
		return err
	}

	locals, err := readLocals(flags.locals)
	if err != nil {
		return err
	}

	outputs := make([]string, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelRenders)
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			opts := app.RenderOptions(locals)
			opts.RaiseErrors = flags.raise
			out, err := template.NewFile(file, app.TemplateOptions()...).RenderE(gctx, opts)
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, out := range outputs {
		if len(files) > 1 {
			fmt.Fprintf(w, "==> %s <==\n", files[i])
		}
		io.WriteString(w, out)
		if len(files) > 1 && !strings.HasSuffix(out, "\n") {
			io.WriteString(w, "\n")
		}
	}
	return nil
}

// readLocals parses a locals file. JSON is read as YAML.
func readLocals(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read locals: %w", err)
	}

	var locals map[string]any
	if err := yaml.Unmarshal(data, &locals); err != nil {
		return nil, fmt.Errorf("failed to parse locals %s: %w", path, err)
	}
	return locals, nil
}

func newCheckCommand() *cobra.Command {
	var dialect string
	cmd := &cobra.Command{
		Use:   "check FILE...",
		Short: "Check that template files parse and compile",
		Long: `Parse and compile template files without running them. Every file is
reported; the command fails if any of them does not compile.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), cmd.OutOrStdout(), args, dialect)
		},
	}
	cmd.Flags().StringVar(&dialect, "dialect", "", "delimiter dialect: erb or mustache (default LAMINATE_DIALECT)")
	return cmd
}

func runCheck(ctx context.Context, w io.Writer, files []string, dialect string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	(&renderFlags{dialect: dialect}).apply(cfg)

	app, err := NewLocal(cfg)
	if err != nil {
		return err
	}

	results := make([]error, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelRenders)
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			// A failed file must not cancel the others
			results[i] = template.NewFile(file, app.TemplateOptions()...).Compile(gctx)
			return nil
		})
	}
	g.Wait()

	failed := 0
	for i, err := range results {
		if err == nil {
			fmt.Fprintf(w, "ok    %s\n", files[i])
			continue
		}
		failed++
		fmt.Fprintf(w, "FAIL  %s\n%s\n", files[i], indent(err.Error()))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d templates failed to compile", failed, len(files))
	}
	return nil
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = "      " + line
	}
	return strings.Join(lines, "\n")
}

func newCompileCommand() *cobra.Command {
	var (
		dialect  string
		numbered bool
	)
	cmd := &cobra.Command{
		Use:   "compile FILE",
		Short: "Print the Lua generated for a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			(&renderFlags{dialect: dialect}).apply(cfg)

			app, err := NewLocal(cfg)
			if err != nil {
				return err
			}
			script, err := template.NewFile(args[0], app.TemplateOptions()...).Source(cmd.Context())
			if err != nil {
				return err
			}
			if numbered {
				script = logging.NumberedSource(script)
			}
			fmt.Fprintln(cmd.OutOrStdout(), script)
			return nil
		},
	}
	cmd.Flags().StringVar(&dialect, "dialect", "", "delimiter dialect: erb or mustache (default LAMINATE_DIALECT)")
	cmd.Flags().BoolVarP(&numbered, "numbered", "n", false, "prefix lines with their number")
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the render API",
		Long: `Serve the render API on PORT.

Templates come from TEMPLATE_SOURCE: "file" (LAMINATE_TEMPLATE_DIR,
reloaded on change with LAMINATE_WATCH=true), "sqlite" (DATABASE_PATH) or
"postgres" (POSTGRES_*). Compiled scripts are cached according to
CACHE_TYPE. With JWT_SECRET set, /api requires a bearer token; storing
templates needs the "write" scope.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			logging.Info("Starting laminate", logging.Field{Key: "version", Value: version}, logging.Field{Key: "port", Value: cfg.Port})

			app, err := New(cfg)
			if err != nil {
				logging.Error("Failed to initialize application", err)
				return err
			}
			defer app.Cleanup()

			return app.Serve(cmd.Context())
		},
	}
}

func newTokenCommand() *cobra.Command {
	var (
		scopes []string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token SUBJECT",
		Short: "Mint an API token signed with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := auth.New(cfg, nil).GenerateJWT(args[0], scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, `token scopes, e.g. "write"`)
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "token lifetime")
	return cmd
}
