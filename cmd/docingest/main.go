// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/poiesic/docingest"
	"github.com/poiesic/docingest/ai"
	"github.com/poiesic/docingest/core"
	"github.com/poiesic/docingest/extract"
	"github.com/poiesic/docingest/ingestion"
	"github.com/poiesic/docingest/search"
	"github.com/poiesic/docingest/storage"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const (
	backendBadger   = "badger"
	backendPostgres = "postgres"
)

func main() {
	// A missing .env is fine; real environment variables still apply.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "docingest",
		Usage: "Ingest scanned images and PDFs into a searchable document store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"DOCINGEST_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "backend",
				Usage:   "Document store backend (badger, postgres)",
				Value:   backendBadger,
				EnvVars: []string{"DOCINGEST_BACKEND"},
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to BadgerDB database directory",
				Value:   "docingest-data",
				EnvVars: []string{"DOCINGEST_DB"},
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "PostgreSQL connection string for the postgres backend",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.IntFlag{
				Name:    "dimension",
				Usage:   "Lock the store's embedding dimension (0 locks on first write)",
				EnvVars: []string{"DOCINGEST_DIMENSION"},
			},
			&cli.StringFlag{
				Name:    "embedding-host",
				Usage:   "Embedding service host URL",
				Value:   "http://localhost:11434/v1",
				EnvVars: []string{"EMBEDDING_HOST"},
			},
			&cli.StringFlag{
				Name:    "embedding-model",
				Usage:   "Embedding model name",
				Value:   "embeddinggemma",
				EnvVars: []string{"EMBEDDING_MODEL"},
			},
			&cli.IntFlag{
				Name:    "embedding-dimensions",
				Usage:   "Requested embedding length for models that support it",
				EnvVars: []string{"EMBEDDING_DIMENSIONS"},
			},
			&cli.StringFlag{
				Name:    "vision-host",
				Usage:   "Vision service host URL (defaults to embedding-host)",
				EnvVars: []string{"VISION_HOST"},
			},
			&cli.StringFlag{
				Name:    "vision-model",
				Usage:   "Vision model name used to transcribe images",
				Value:   "llava",
				EnvVars: []string{"VISION_MODEL"},
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "API key sent to the AI services",
				EnvVars: []string{"OPENAI_API_KEY"},
			},
			&cli.DurationFlag{
				Name:    "request-timeout",
				Usage:   "Timeout for a single AI service request",
				Value:   2 * time.Minute,
				EnvVars: []string{"DOCINGEST_REQUEST_TIMEOUT"},
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Extract, embed and store one or more documents",
				ArgsUsage: "FILE...",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of documents processed concurrently (0 uses half the CPUs)",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: fmt.Sprintf("Number of files submitted per batch (at most %d)", core.DefaultMaxBatchSize),
						Value: core.DefaultMaxBatchSize,
					},
					&cli.DurationFlag{
						Name:  "extract-timeout",
						Usage: "Time limit for extracting one document (0 disables)",
					},
					&cli.BoolFlag{
						Name:  "quiet",
						Usage: "Do not report progress on stderr",
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Find stored documents similar to a query",
				ArgsUsage: "QUERY",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"k"},
						Usage:   "Maximum number of results",
						Value:   5,
					},
					&cli.Float64Flag{
						Name:  "min-score",
						Usage: "Drop results below this cosine similarity",
						Value: -1,
					},
				},
			},
			{
				Name:      "show",
				Usage:     "Print a stored document",
				ArgsUsage: "ID",
				Action:    showCommand,
			},
			{
				Name:      "delete",
				Usage:     "Remove a stored document",
				ArgsUsage: "ID",
				Action:    deleteCommand,
			},
			{
				Name:   "stats",
				Usage:  "Print the number of stored documents and the embedding dimension",
				Action: statsCommand,
			},
		},
	}
}

func aiConfigFromFlags(c *cli.Context) *ai.Config {
	visionHost := c.String("vision-host")
	if visionHost == "" {
		visionHost = c.String("embedding-host")
	}
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.String("embedding-host")),
		ai.WithEmbeddingModel(c.String("embedding-model")),
		ai.WithEmbeddingDimensions(c.Int("embedding-dimensions")),
		ai.WithVisionHost(visionHost),
		ai.WithVisionModel(c.String("vision-model")),
		ai.WithToken(c.String("api-key")),
		ai.WithRequestTimeout(c.Duration("request-timeout")),
	)
}

func openDatabase(c *cli.Context) (*docingest.Database, error) {
	opts := []docingest.DatabaseOption{
		docingest.WithAIConfig(aiConfigFromFlags(c)),
		docingest.WithDimension(c.Int("dimension")),
	}

	switch backend := strings.ToLower(c.String("backend")); backend {
	case backendBadger:
		dbPath := c.String("db")
		if dbPath == "" {
			return nil, fmt.Errorf("database path is required")
		}
		return docingest.NewDatabase(dbPath, opts...)
	case backendPostgres:
		dsn := c.String("database-url")
		if dsn == "" {
			return nil, fmt.Errorf("database-url is required for the postgres backend")
		}
		return docingest.NewPostgresDatabase(c.Context, dsn, opts...)
	default:
		return nil, fmt.Errorf("invalid backend %q: must be one of badger, postgres", backend)
	}
}

func ingestCommand(c *cli.Context) error {
	paths := c.Args().Slice()
	if len(paths) == 0 {
		return fmt.Errorf("at least one file is required")
	}
	batchSize := c.Int("batch-size")
	if batchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	// The pipeline rejects larger batches; the flag only controls splitting.
	batchSize = min(batchSize, core.DefaultMaxBatchSize)

	submissions, rejected, err := readSubmissions(c.Context, paths, core.DefaultMaxFileSize)
	if err != nil {
		return err
	}
	for _, r := range rejected {
		fmt.Fprintf(c.App.Writer, "rejected\t%s\t%s\n", filepath.Base(r.path), r.err)
	}

	var outcomes []*core.Outcome
	if len(submissions) > 0 {
		outcomes, err = ingestSubmissions(c, submissions, batchSize)
		if err != nil {
			return err
		}
	}

	failed := len(rejected)
	for _, outcome := range outcomes {
		if outcome.OK() {
			fmt.Fprintf(c.App.Writer, "stored\t%s\t%s\t%d chars\n",
				outcome.DocumentID, outcome.Filename, len(outcome.Text))
			continue
		}
		failed++
		fmt.Fprintf(c.App.Writer, "failed\t%s\t%s\t%s: %s\n",
			outcome.DocumentID, outcome.Filename, outcome.Stage, outcome.Reason())
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(paths))
	}
	return nil
}

func ingestSubmissions(c *cli.Context, submissions []core.Submission, batchSize int) ([]*core.Outcome, error) {
	db, err := openDatabase(c)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var progress *ingestion.ProgressReporter
	var opts []ingestion.Option
	if !c.Bool("quiet") {
		progress = ingestion.NewProgressReporter(c.App.ErrWriter, len(submissions))
		opts = append(opts, ingestion.WithObserver(progress))
	}
	if workers := c.Int("workers"); workers > 0 {
		opts = append(opts, ingestion.WithPoolSize(workers))
	}
	if timeout := c.Duration("extract-timeout"); timeout > 0 {
		opts = append(opts, ingestion.WithExtractOptions(extract.WithTimeout(timeout)))
	}

	pipeline, err := db.NewIngestionPipeline(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer pipeline.Release()

	if progress != nil {
		progress.Start()
	}
	var outcomes []*core.Outcome
	for _, batch := range batches(submissions, batchSize) {
		results, err := pipeline.Ingest(c.Context, batch)
		if err != nil {
			return nil, fmt.Errorf("ingestion failed: %w", err)
		}
		outcomes = append(outcomes, results...)
	}
	if progress != nil {
		progress.Finish()
	}
	return outcomes, nil
}

// rejectedFile is a path that was not read because it exceeds the size limit.
type rejectedFile struct {
	path string
	err  error
}

// readSubmissions loads every file concurrently. Files larger than maxSize
// are reported as rejected without being read. Both results keep the order
// of paths.
func readSubmissions(ctx context.Context, paths []string, maxSize int64) ([]core.Submission, []rejectedFile, error) {
	loaded := make([]*core.Submission, len(paths))
	skipped := make([]*rejectedFile, len(paths))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, path := range paths {
		g.Go(func() error {
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			if maxSize > 0 && info.Size() > maxSize {
				skipped[i] = &rejectedFile{
					path: path,
					err: fmt.Errorf("%w: %w: %d bytes, limit is %d",
						core.ErrInvalidSubmission, core.ErrFileTooLarge, info.Size(), maxSize),
				}
				return nil
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			loaded[i] = &core.Submission{
				Filename: filepath.Base(path),
				MIMEType: detectMIME(path, data),
				Data:     data,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var submissions []core.Submission
	var rejected []rejectedFile
	for i := range paths {
		if loaded[i] != nil {
			submissions = append(submissions, *loaded[i])
		}
		if skipped[i] != nil {
			rejected = append(rejected, *skipped[i])
		}
	}
	return submissions, rejected, nil
}

var extensionMIMETypes = map[string]string{
	".pdf":  core.MIMETypePDF,
	".png":  core.MIMETypePNG,
	".jpg":  core.MIMETypeJPEG,
	".jpeg": core.MIMETypeJPEG,
}

// detectMIME prefers a sniffed type the pipeline accepts, then the
// file extension, then whatever was sniffed.
func detectMIME(path string, data []byte) string {
	sniffed := http.DetectContentType(data)
	if _, err := core.KindFromMIME(sniffed); err == nil {
		return sniffed
	}
	if mimeType, ok := extensionMIMETypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mimeType
	}
	return sniffed
}

func batches(submissions []core.Submission, size int) [][]core.Submission {
	var out [][]core.Submission
	for len(submissions) > 0 {
		n := min(size, len(submissions))
		out = append(out, submissions[:n])
		submissions = submissions[n:]
	}
	return out
}

func searchCommand(c *cli.Context) error {
	query := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("a query is required")
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	searcher, err := db.NewSearcher(search.WithMinScore(float32(c.Float64("min-score"))))
	if err != nil {
		return fmt.Errorf("failed to create searcher: %w", err)
	}

	results, err := searcher.FindSimilar(c.Context, query, c.Int("limit"))
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(results) == 0 {
		fmt.Fprintln(c.App.Writer, "No matching documents.")
		return nil
	}
	for _, result := range results {
		fmt.Fprintf(c.App.Writer, "%.4f\t%s\t%s\t%s\n",
			result.Score, result.Record.ID, result.Record.Filename, snippet(result.Record.Text, 80))
	}
	return nil
}

func snippet(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

func singleID(c *cli.Context) (core.ID, error) {
	if c.Args().Len() != 1 {
		return "", fmt.Errorf("exactly one document ID is required")
	}
	return core.ID(c.Args().First()), nil
}

func showCommand(c *cli.Context) error {
	id, err := singleID(c)
	if err != nil {
		return err
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	record, err := db.Store().Get(c.Context, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("document %s not found", id)
		}
		return err
	}

	w := c.App.Writer
	fmt.Fprintf(w, "ID:        %s\n", record.ID)
	fmt.Fprintf(w, "Filename:  %s\n", record.Filename)
	fmt.Fprintf(w, "Kind:      %s\n", record.Kind)
	fmt.Fprintf(w, "Uploaded:  %s\n", record.UploadedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "SHA:       %s\n", record.ContentHash)
	fmt.Fprintf(w, "Dimension: %d\n", len(record.Embedding))
	fmt.Fprintln(w)
	fmt.Fprintln(w, record.Text)
	return nil
}

func deleteCommand(c *cli.Context) error {
	id, err := singleID(c)
	if err != nil {
		return err
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Store().Delete(c.Context, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("document %s not found", id)
		}
		return err
	}
	fmt.Fprintf(c.App.Writer, "deleted %s\n", id)
	return nil
}

func statsCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	count, err := db.Store().Count(c.Context)
	if err != nil {
		return err
	}
	dimension, err := db.Store().Dimension(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "documents: %d\ndimension: %d\n", count, dimension)
	return nil
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
