package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fotobudka/internal/domain"
	"fotobudka/internal/generation"
	"fotobudka/internal/jobs"
	"fotobudka/pkg/zip"
)

type command struct {
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"effect":    {"start a photo effect job and wait for it", runEffect(domain.JobKindPhotoEffect)},
	"video":     {"start a video effect job and wait for it", runEffect(domain.JobKindVideoEffect)},
	"list":      {"list effect jobs, newest first", runList},
	"retry":     {"retry a failed effect job and wait for it", runRetry},
	"rm":        {"remove an effect job and its files", runRemove},
	"balance":   {"show the token balance", runBalance},
	"catalog":   {"show purchasable products per group", runCatalog},
	"prompt":    {"generate an image from a prompt", runPrompt},
	"txt2video": {"generate a video from a prompt", runTextToVideo},
	"enhance":   {"upscale a video", runEnhance},
	"export":    {"bundle finished results into a zip archive", runExport},
}

var commandOrder = []string{"effect", "video", "list", "retry", "rm", "balance", "catalog", "prompt", "txt2video", "enhance", "export"}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: fotobudka <command> [flags]")
	fmt.Fprintln(os.Stderr)
	for _, name := range commandOrder {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", name, commands[name].summary)
	}
}

func runEffect(kind domain.JobKind) func(context.Context, *app, []string) error {
	return func(ctx context.Context, a *app, args []string) error {
		fs := flag.NewFlagSet(string(kind), flag.ContinueOnError)
		templateID := fs.Int("template", 0, "effect template id")
		photoPath := fs.String("photo", "", "path to the source photo (JPEG)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *templateID <= 0 || strings.TrimSpace(*photoPath) == "" {
			return errors.New("-template and -photo are required")
		}
		photo, err := os.ReadFile(*photoPath)
		if err != nil {
			return fmt.Errorf("read photo: %w", err)
		}
		store, err := a.openJobs()
		if err != nil {
			return err
		}
		if err := a.authenticate(ctx); err != nil {
			return err
		}
		id, err := store.StartJob(jobs.EffectInput{TemplateID: *templateID, Photo: photo}, kind)
		if err != nil {
			return err
		}
		fmt.Printf("job %s started\n", id)
		return a.waitAndReport(ctx, id)
	}
}

func runRetry(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("retry", flag.ContinueOnError)
	id := fs.String("id", "", "job id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	store, err := a.openJobs()
	if err != nil {
		return err
	}
	if err := a.authenticate(ctx); err != nil {
		return err
	}
	if !store.RetryJob(strings.TrimSpace(*id)) {
		return fmt.Errorf("job %q cannot be retried", *id)
	}
	fmt.Printf("job %s restarted\n", *id)
	return a.waitAndReport(ctx, *id)
}

func runRemove(_ context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("rm", flag.ContinueOnError)
	id := fs.String("id", "", "job id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	store, err := a.openJobs()
	if err != nil {
		return err
	}
	if err := store.RemoveJob(strings.TrimSpace(*id)); err != nil {
		return err
	}
	fmt.Printf("job %s removed\n", *id)
	return nil
}

func runList(_ context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	kind := fs.String("kind", "", "filter by kind: photo or video")
	if err := fs.Parse(args); err != nil {
		return err
	}
	store, err := a.openJobs()
	if err != nil {
		return err
	}
	records := store.Jobs()
	switch *kind {
	case "":
	case "photo":
		records = jobs.FilterKind(records, domain.JobKindPhotoEffect)
	case "video":
		records = jobs.FilterKind(records, domain.JobKindVideoEffect)
	default:
		return fmt.Errorf("unknown kind %q", *kind)
	}
	for _, rec := range records {
		fmt.Printf("%s  %-12s %-10s template=%-4d %s  %s\n",
			rec.ID, rec.Kind, rec.Status, rec.TemplateID, rec.CreatedAt.Format(time.DateTime), a.describe(rec))
	}
	return nil
}

func runBalance(ctx context.Context, a *app, _ []string) error {
	if err := a.authenticate(ctx); err != nil {
		return err
	}
	b, err := a.ledger.Load(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("tokens: %d\navatar tokens: %d\n", b.Tokens, b.AvatarTokens)
	return nil
}

func runCatalog(ctx context.Context, a *app, _ []string) error {
	if err := a.authenticate(ctx); err != nil {
		return err
	}
	c, err := a.catalog.Fetch(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("source: %s\nstate: %s\n", c.Source, c.State())
	for _, group := range domain.CatalogGroups {
		ids, ok := c.Group(group)
		if !ok {
			fmt.Printf("%-8s unavailable\n", group)
			continue
		}
		fmt.Printf("%-8s %s\n", group, strings.Join(ids, ", "))
	}
	return nil
}

func runPrompt(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("prompt", flag.ContinueOnError)
	text := fs.String("text", "", "prompt text")
	imagePath := fs.String("image", "", "optional reference image")
	out := fs.String("out", "result.jpg", "where to write the generated image")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*text) == "" {
		return errors.New("-text is required")
	}
	var image *generation.Media
	if *imagePath != "" {
		data, err := os.ReadFile(*imagePath)
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		m := generation.JPEG(data)
		image = &m
	}
	if err := a.authenticate(ctx); err != nil {
		return err
	}
	data, err := a.gen.GenerateNanoBanana(ctx, *text, image)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	a.refreshBalance(ctx)
	fmt.Println(*out)
	return nil
}

func runTextToVideo(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("txt2video", flag.ContinueOnError)
	var req generation.TextToVideoRequest
	fs.StringVar(&req.Prompt, "prompt", "", "prompt text")
	fs.StringVar(&req.NegativePrompt, "negative", "", "negative prompt")
	fs.IntVar(&req.Duration, "duration", 5, "duration in seconds")
	fs.StringVar(&req.AspectRatio, "aspect", "", "aspect ratio, e.g. 9:16")
	out := fs.String("out", "result.mp4", "where to write the generated video")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return errors.New("-prompt is required")
	}
	if err := a.authenticate(ctx); err != nil {
		return err
	}
	path, err := a.gen.GenerateTextToVideo(ctx, req)
	if err != nil {
		return err
	}
	return a.deliverVideo(ctx, path, *out)
}

func runEnhance(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("enhance", flag.ContinueOnError)
	videoPath := fs.String("video", "", "path to the source video")
	upscale := fs.Int("upscale", 2, "upscale factor")
	out := fs.String("out", "enhanced.mp4", "where to write the enhanced video")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*videoPath) == "" {
		return errors.New("-video is required")
	}
	data, err := os.ReadFile(*videoPath)
	if err != nil {
		return fmt.Errorf("read video: %w", err)
	}
	if err := a.authenticate(ctx); err != nil {
		return err
	}
	path, err := a.gen.EnhanceVideo(ctx, generation.MP4(data), *upscale)
	if err != nil {
		return err
	}
	return a.deliverVideo(ctx, path, *out)
}

func runExport(_ context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	out := fs.String("out", "fotobudka-results.zip", "archive path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	store, err := a.openJobs()
	if err != nil {
		return err
	}
	var entries []zip.Entry
	for _, rec := range store.Jobs() {
		if rec.Status != domain.JobStatusSuccess {
			continue
		}
		key := rec.ResultImagePath
		if key == nil {
			key = rec.ResultVideoPath
		}
		path, err := a.files.Path(*key)
		if err != nil {
			return err
		}
		entries = append(entries, zip.Entry{
			Name:     fmt.Sprintf("%s-%d-%s%s", rec.Kind, rec.TemplateID, rec.ID, filepath.Ext(path)),
			Path:     path,
			Modified: rec.CreatedAt,
		})
	}
	if len(entries) == 0 {
		return errors.New("no finished results to export")
	}
	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := zip.WriteArchive(f, entries); err != nil {
		f.Close()
		_ = os.Remove(*out)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("%d results written to %s\n", len(entries), *out)
	return nil
}

// waitAndReport blocks until the job is terminal. Interrupting leaves the job unfinished; it is
// not persisted and disappears on the next start. The store is already open.
func (a *app) waitAndReport(ctx context.Context, id string) error {
	updates, unsubscribe := a.jobs.Subscribe()
	defer unsubscribe()
	for {
		rec, ok := a.jobs.GetJob(id)
		if !ok {
			return fmt.Errorf("job %s was removed", id)
		}
		if rec.Status.Terminal() {
			fmt.Printf("%s: %s\n", rec.Status, a.describe(rec))
			if rec.Status == domain.JobStatusError {
				return errors.New("job failed")
			}
			fmt.Printf("tokens left: %d\n", a.ledger.Balance().Tokens)
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: job %s abandoned", domain.ErrCancelled, id)
		case _, open := <-updates:
			if !open {
				return jobs.ErrClosed
			}
		}
	}
}

func (a *app) describe(rec domain.JobRecord) string {
	var key *string
	switch {
	case rec.ErrorMessage != nil:
		return *rec.ErrorMessage
	case rec.ResultImagePath != nil:
		key = rec.ResultImagePath
	case rec.ResultVideoPath != nil:
		key = rec.ResultVideoPath
	default:
		return ""
	}
	path, err := a.files.Path(*key)
	if err != nil {
		return *key
	}
	return path
}

func (a *app) refreshBalance(ctx context.Context) {
	if err := a.ledger.Refresh(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("fotobudka: balance refresh failed")
	}
}

// deliverVideo moves a downloaded temp file to the requested output path.
func (a *app) deliverVideo(ctx context.Context, tmpPath, out string) error {
	defer os.Remove(tmpPath)
	if err := os.Rename(tmpPath, out); err != nil {
		if err := copyFile(tmpPath, out); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	}
	a.refreshBalance(ctx)
	fmt.Println(out)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	outFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(outFile, in); err != nil {
		outFile.Close()
		return err
	}
	return outFile.Close()
}
