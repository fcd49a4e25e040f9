package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/phrazzld/scry-pipeline/internal/auth"
	"github.com/phrazzld/scry-pipeline/internal/bootstrap"
	"github.com/phrazzld/scry-pipeline/internal/config"
	"github.com/phrazzld/scry-pipeline/internal/content"
	"github.com/phrazzld/scry-pipeline/internal/domain"
	"github.com/phrazzld/scry-pipeline/internal/events"
	"github.com/phrazzld/scry-pipeline/internal/pipeline"
	"github.com/phrazzld/scry-pipeline/internal/platform/logger"
	"github.com/phrazzld/scry-pipeline/internal/platform/postgres"
	"github.com/phrazzld/scry-pipeline/internal/task"
)

// cliIO carries the streams commands read from and write to.
type cliIO struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(stdin io.Reader, stdout, stderr io.Writer) *cli.App {
	s := cliIO{stdin: stdin, stdout: stdout, stderr: stderr}
	app := &cli.App{
		Name:      "scryctl",
		Usage:     "Generate flashcards from text",
		Version:   Version,
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Path to a YAML config file"},
		},
		Commands: []*cli.Command{
			generateCmd(s),
			modelsCmd(s),
			resolveCmd(s),
			migrateCmd(s),
			tokenCmd(s),
		},
	}
	// Errors are returned to main instead of exiting inside the library.
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// loadConfig loads configuration and a logger that writes to stderr so
// stdout stays machine readable.
func (s cliIO) loadConfig(c *cli.Context) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadFile(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	l, err := logger.SetupWriter(cfg.Server, s.stderr)
	if err != nil {
		return nil, nil, err
	}
	return cfg, l, nil
}

// generateCmd creates the generate command.
func generateCmd(s cliIO) *cli.Command {
	return &cli.Command{
		Name:  "generate",
		Usage: "Run the pipeline on a file, --text or stdin",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Read text from this file"},
			&cli.StringFlag{Name: "text", Aliases: []string{"t"}, Usage: "Text to generate cards from"},
			&cli.BoolFlag{Name: "document", Usage: "Treat the input as a document JSON with full_text, selection and highlights"},
			&cli.StringFlag{Name: "card-type", Usage: "basic|cloze|mixed"},
			&cli.IntFlag{Name: "count", Usage: "Desired number of cards; 0 lets the model decide"},
			&cli.StringFlag{Name: "difficulty", Usage: "easy|medium|hard"},
			&cli.StringFlag{Name: "segmentation", Usage: "auto|embedding|llm|off"},
			&cli.BoolFlag{Name: "exam", Usage: "Bias cards toward exam-style recall"},
			&cli.StringFlag{Name: "context", Usage: "Document context; skips the analysis stage"},
			&cli.StringFlag{Name: "tags", Usage: "Comma-separated deck hints"},
			&cli.StringFlag{Name: "generation-model", Usage: "Override the generation model as provider/model"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "summary", Usage: "summary|events"},
			&cli.StringFlag{Name: "deck", Usage: "Upload accepted cards to this deck"},
		},
		Action: func(c *cli.Context) error {
			raw, err := s.readInput(c)
			if err != nil {
				return outputError(err)
			}

			req := domain.GenerationRequest{
				CardType:        domain.CardType(c.String("card-type")),
				DeckHints:       parseTags(c.String("tags")),
				DocumentContext: c.String("context"),
				DesiredCount:    c.Int("count"),
				ExamMode:        c.Bool("exam"),
				Difficulty:      domain.Difficulty(c.String("difficulty")),
				SegmentMode:     domain.SegmentMode(c.String("segmentation")),
			}
			if ref := c.String("generation-model"); ref != "" {
				req.Providers.Generation, err = domain.ParseModelRef(ref)
				if err != nil {
					return outputError(err)
				}
			}
			if c.Bool("document") {
				var doc content.Document
				if err := json.Unmarshal([]byte(raw), &doc); err != nil {
					return outputError(fmt.Errorf("invalid document JSON: %w", err))
				}
				req, _ = pipeline.FromDocument(req, &doc)
			} else {
				req.Text = raw
			}

			output := c.String("output")
			if output != "summary" && output != "events" {
				return outputError(fmt.Errorf("unknown output %q", output))
			}

			cfg, l, err := s.loadConfig(c)
			if err != nil {
				return outputError(err)
			}
			deck := c.String("deck")
			deps, err := bootstrap.Build(c.Context, cfg, l, bootstrap.Options{Exports: deck != ""})
			if err != nil {
				return outputError(err)
			}
			defer deps.Close()

			var handler events.EventHandler = &events.Recorder{}
			if output == "events" {
				handler = events.NewJSONLinesHandler(s.stdout)
			}

			outcome, err := deps.Pipeline.Run(c.Context, req, handler)
			if err != nil {
				if output == "summary" {
					if rec, ok := handler.(*events.Recorder); ok && rec.Last() != nil && rec.Last().Error != nil {
						_ = s.outputJSON(rec.Last().Error)
					}
				}
				return outputError(err)
			}

			if deck != "" {
				cards := task.FromCandidates(outcome.Cards, deck, parseTags(c.String("tags")))
				if len(cards) > 0 {
					if err := deps.Sink.Upload(c.Context, cards); err != nil {
						return outputError(fmt.Errorf("upload failed: %w", err))
					}
				}
				l.Info("uploaded cards", "deck", deck, "count", len(cards))
			}

			if output == "summary" {
				return s.outputJSON(outcome)
			}
			return nil
		},
	}
}

// modelsCmd creates the models command.
func modelsCmd(s cliIO) *cli.Command {
	return &cli.Command{
		Name:  "models",
		Usage: "List configured providers, or the models of one provider",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "provider", Aliases: []string{"p"}, Usage: "Provider id"},
		},
		Action: func(c *cli.Context) error {
			cfg, l, err := s.loadConfig(c)
			if err != nil {
				return outputError(err)
			}
			deps, err := bootstrap.Build(c.Context, cfg, l, bootstrap.Options{})
			if err != nil {
				return outputError(err)
			}
			defer deps.Close()

			id := c.String("provider")
			if id == "" {
				return s.outputJSON(map[string]any{"providers": deps.Gateway.Providers()})
			}
			models, err := deps.Gateway.ListModels(c.Context, id)
			if err != nil {
				return outputError(err)
			}
			return s.outputJSON(map[string]any{"provider": id, "models": models})
		},
	}
}

// resolveCmd creates the resolve command.
func resolveCmd(s cliIO) *cli.Command {
	return &cli.Command{
		Name:  "resolve",
		Usage: "Show which part of a document JSON a run would use",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Read the document from this file"},
		},
		Action: func(c *cli.Context) error {
			raw, err := s.readInput(c)
			if err != nil {
				return outputError(err)
			}
			var doc content.Document
			if err := json.Unmarshal([]byte(raw), &doc); err != nil {
				return outputError(fmt.Errorf("invalid document JSON: %w", err))
			}
			return s.outputJSON(content.Resolve(doc))
		},
	}
}

// migrateCmd creates the migrate command.
func migrateCmd(s cliIO) *cli.Command {
	return &cli.Command{
		Name:      "migrate",
		Usage:     "Run a migration command: up|down|reset|status|version",
		ArgsUsage: "<command>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.New("migrate takes exactly one command"))
			}
			cfg, l, err := s.loadConfig(c)
			if err != nil {
				return outputError(err)
			}
			if cfg.Database.URL == "" {
				return outputError(errors.New("database.url is not configured"))
			}
			db, err := bootstrap.OpenDatabase(c.Context, cfg.Database.URL, l)
			if err != nil {
				return outputError(err)
			}
			defer db.Close()
			if err := postgres.Migrate(c.Context, db, c.Args().First(), l); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// tokenCmd creates the token command.
func tokenCmd(s cliIO) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a bearer token for the configured JWT secret",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "subject", Aliases: []string{"s"}, Required: true, Usage: "Token subject"},
		},
		Action: func(c *cli.Context) error {
			cfg, _, err := s.loadConfig(c)
			if err != nil {
				return outputError(err)
			}
			if cfg.Auth.JWTSecret == "" {
				return outputError(errors.New("auth.jwt_secret is not configured"))
			}
			tokens, err := auth.NewJWTService(cfg.Auth)
			if err != nil {
				return outputError(err)
			}
			token, err := tokens.GenerateToken(c.Context, c.String("subject"))
			if err != nil {
				return outputError(err)
			}
			_, err = fmt.Fprintln(s.stdout, token)
			return err
		},
	}
}

// readInput returns --text, the --file contents or stdin, in that order.
func (s cliIO) readInput(c *cli.Context) (string, error) {
	if c.IsSet("text") {
		return c.String("text"), nil
	}
	if path := c.String("file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	if f, ok := s.stdin.(*os.File); ok && !stdinHasData(f) {
		return "", errors.New("no input: pass --text, --file or pipe text on stdin")
	}
	data, err := io.ReadAll(s.stdin)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// outputJSON writes v as indented JSON.
func (s cliIO) outputJSON(v any) error {
	enc := json.NewEncoder(s.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats an error for the CLI.
func outputError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, pipeline.ErrCancelled) {
		return cli.Exit("cancelled", 130)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData reports whether f is a pipe or file rather than a terminal.
func stdinHasData(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// parseTags splits a comma-separated string into a slice of tags.
func parseTags(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
