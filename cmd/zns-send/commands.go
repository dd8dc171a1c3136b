package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/zns-dispatch/internal/config"
	"github.com/ignite/zns-dispatch/internal/dispatch"
	"github.com/ignite/zns-dispatch/internal/pkg/logger"
	"github.com/ignite/zns-dispatch/internal/recipients"
	"github.com/ignite/zns-dispatch/internal/zns"
)

type sendOptions struct {
	configPath  string
	source      string
	templateID  string
	dryRun      bool
	resultsPath string
}

// report is what send prints to stdout when the run ends.
type report struct {
	TemplateID string                   `json:"template_id"`
	Source     string                   `json:"source"`
	DryRun     bool                     `json:"dry_run,omitempty"`
	Cancelled  bool                     `json:"cancelled,omitempty"`
	DurationMs int64                    `json:"duration_ms"`
	Summary    dispatch.DispatchSummary `json:"summary"`
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	cfg, err := config.LoadFromEnv(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(!cfg.Log.DisableRedaction)
	return cfg, nil
}

func loadJobs(ctx context.Context, cfg *config.Config, source, templateID string) ([]dispatch.Job, error) {
	opener := &recipients.Opener{AllowLocal: true}
	if strings.HasPrefix(source, "s3://") {
		s3Client, err := recipients.NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		opener.S3 = s3Client
	}

	rc, err := opener.Open(ctx, source)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return recipients.Parse(rc, recipients.Options{
		TemplateID:   templateID,
		CountryCode:  cfg.Recipients.CountryCode,
		MaxRows:      cfg.Recipients.MaxRows,
		PhoneColumn:  cfg.Recipients.PhoneColumn,
		ParamMapping: cfg.Recipients.ParamMapping,
	})
}

func runValidate(ctx context.Context, configPath, source, templateID string, sample int, out io.Writer) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	jobs, err := loadJobs(ctx, cfg, source, templateID)
	if err != nil {
		return describeParseError(err)
	}

	if sample > len(jobs) {
		sample = len(jobs)
	}
	if sample < 0 {
		sample = 0
	}
	fmt.Fprintf(out, "%d recipients OK (%d batches of %d)\n",
		len(jobs), cfg.Dispatch.TotalBatches(len(jobs)), cfg.Dispatch.BatchSize)
	return writeJSON(out, jobs[:sample])
}

func runSend(ctx context.Context, opts sendOptions, out, progressOut io.Writer) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	jobs, err := loadJobs(ctx, cfg, opts.source, opts.templateID)
	if err != nil {
		return describeParseError(err)
	}

	send, cleanup, err := newSendFunc(cfg, opts.dryRun)
	if err != nil {
		return err
	}
	defer cleanup()

	queue, err := dispatch.New(cfg.Dispatch,
		dispatch.WithClassifier(zns.NewClassifier(cfg.ZNS.RateLimitCodes, cfg.ZNS.TransientCodes)),
	)
	if err != nil {
		return err
	}

	run, err := queue.Start(ctx, jobs, send)
	if err != nil {
		return err
	}
	for p := range run.Progress() {
		fmt.Fprintln(progressOut, formatProgress(p))
	}
	result, runErr := run.Wait()
	if runErr != nil && !errors.Is(runErr, dispatch.ErrCancelled) {
		return runErr
	}

	if opts.resultsPath != "" {
		if err := writeResultsFile(opts.resultsPath, result.Results); err != nil {
			return err
		}
	}

	rep := report{
		TemplateID: opts.templateID,
		Source:     opts.source,
		DryRun:     opts.dryRun,
		Cancelled:  runErr != nil,
		DurationMs: result.Duration.Milliseconds(),
		Summary:    result.Summary,
	}
	if err := writeJSON(out, rep); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	return nil
}

// newSendFunc returns the ZNS sender, or a no-network one for dry runs.
// Refresh credentials need Redis so the rotated token is not lost.
func newSendFunc(cfg *config.Config, dryRun bool) (dispatch.SendFunc, func(), error) {
	if dryRun {
		return dryRunSend, func() {}, nil
	}

	var (
		store   zns.TokenStore
		cleanup = func() {}
	)
	if cfg.ZNS.CanRefresh() {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("redis url: %w", err)
		}
		client := redis.NewClient(opts)
		cleanup = func() { client.Close() }
		store = zns.NewRedisTokenStore(client, cfg.Redis.KeyPrefix, cfg.ZNS.AppID)
	}

	tokens, err := zns.NewTokenSource(cfg.ZNS, store)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return zns.NewClient(cfg.ZNS, tokens).SendFunc(), cleanup, nil
}

func dryRunSend(ctx context.Context, p dispatch.Payload) (*dispatch.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &dispatch.Response{HTTPStatus: 200, Message: "dry run"}, nil
}

func formatProgress(p dispatch.BatchProgress) string {
	return fmt.Sprintf("batch %d/%d: %d/%d sent (%.2f%%)",
		p.CurrentBatchIndex, p.TotalBatches, p.ProcessedJobs, p.TotalJobs, p.Percentage)
}

// describeParseError expands row errors so every rejected row is listed.
func describeParseError(err error) error {
	var rowErrs recipients.RowErrors
	if !errors.As(err, &rowErrs) {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d invalid rows:", len(rowErrs))
	for _, re := range rowErrs {
		b.WriteString("\n  ")
		b.WriteString(re.Error())
	}
	return errors.New(b.String())
}

func writeResultsFile(path string, results []dispatch.SendResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating results file: %w", err)
	}
	if err := writeJSON(f, results); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
