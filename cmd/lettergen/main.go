// Command lettergen runs one letter batch from the command line, without the
// HTTP server. It uses the same loader, profiles, renderer and archive as the
// service.
//
//	lettergen -template offer.docx -data students.xlsx -profile student
//	lettergen -templates ./uploads/templates -company "Acme Corp" -data rows.csv -out letters.zip
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JonMunkholm/letters/internal/core"
	"github.com/JonMunkholm/letters/internal/core/profiles"
	"github.com/JonMunkholm/letters/internal/logging"
	"github.com/JonMunkholm/letters/internal/render"
	"github.com/JonMunkholm/letters/internal/store"
)

func main() {
	var (
		templateFlag  = flag.String("template", "", "Template file (.docx or .html); staged into a temporary store")
		templatesFlag = flag.String("templates", "", "Template directory to resolve -company from")
		companyFlag   = flag.String("company", "", "Company (template id); defaults to the -template base name")
		dataFlag      = flag.String("data", "", "Data file (.csv, .tsv or .xlsx)")
		profileFlag   = flag.String("profile", profiles.DefaultKey, "Profile key")
		profilesFlag  = flag.String("profiles", "", "Optional YAML file with extra profiles")
		policyFlag    = flag.String("policy", string(core.PolicyFailFast), "Row failure policy (fail_fast, skip)")
		outFlag       = flag.String("out", "", "Output archive path (default: letters_<batch>.zip in the working directory)")
		timeoutFlag   = flag.Duration("timeout", 5*time.Minute, "Batch timeout")
		logLevelFlag  = flag.String("log-level", "warn", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	// Batch logs go to stderr, stdout stays clean
	slog.SetDefault(logging.New(os.Stderr, *logLevelFlag, "text"))

	if *dataFlag == "" || (*templateFlag == "" && *templatesFlag == "") {
		flag.Usage()
		os.Exit(2)
	}

	opts := options{
		template:  *templateFlag,
		templates: *templatesFlag,
		company:   *companyFlag,
		data:      *dataFlag,
		profile:   *profileFlag,
		profiles:  *profilesFlag,
		policy:    core.FailurePolicy(*policyFlag),
		out:       *outFlag,
		timeout:   *timeoutFlag,
	}
	if err := run(context.Background(), opts); err != nil {
		fmt.Fprintln(os.Stderr, "lettergen:", err)
		os.Exit(1)
	}
}

type options struct {
	template, templates, company string
	data, profile, profiles      string
	policy                       core.FailurePolicy
	out                          string
	timeout                      time.Duration
}

func run(ctx context.Context, opts options) error {
	if opts.profiles != "" {
		if _, err := core.LoadProfilesFile(opts.profiles); err != nil {
			return fmt.Errorf("load profiles: %w", err)
		}
	}

	templates, company, cleanup, err := openTemplates(opts.template, opts.templates, opts.company)
	if err != nil {
		return fmt.Errorf("templates: %w", err)
	}
	defer cleanup()

	data, err := os.ReadFile(opts.data)
	if err != nil {
		return fmt.Errorf("read data: %w", err)
	}

	service, err := core.NewService(templates, render.New(), core.ServiceConfig{
		Policy:         opts.policy,
		DefaultProfile: profiles.DefaultKey,
		MaxConcurrent:  1,
		Timeout:        opts.timeout,
	})
	if err != nil {
		return fmt.Errorf("service: %w", err)
	}

	result, err := service.RunBatch(ctx, core.BatchRequest{
		TemplateID: company,
		Profile:    opts.profile,
		FileName:   filepath.Base(opts.data),
		Data:       data,
	})
	if err != nil {
		if be, ok := core.AsBatchError(err); ok && be.HasRow() {
			return fmt.Errorf("%s (row %d): %w", core.FormatUserError(err), be.Row, err)
		}
		return fmt.Errorf("%s: %w", core.FormatUserError(err), err)
	}

	out := opts.out
	if out == "" {
		out = result.ArchiveName
	}
	if err := writeFile(out, result.Archive); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	for _, f := range result.Skipped {
		fmt.Fprintf(os.Stderr, "skipped row %d: %s\n", f.Row, f.Reason)
	}
	fmt.Fprintf(os.Stderr, "wrote %d letters to %s (%d records, %s)\n",
		len(result.Entries), out, result.Records, result.Duration.Round(time.Millisecond))
	return nil
}

// openTemplates returns the store to resolve from and the company id to use.
// A single -template file is staged into a temporary directory store.
func openTemplates(file, dir, company string) (core.TemplateStore, string, func(), error) {
	if file == "" {
		if company == "" {
			return nil, "", nil, errors.New("-company is required with -templates")
		}
		fs, err := store.NewFS(dir)
		if err != nil {
			return nil, "", nil, err
		}
		return fs, company, func() {}, nil
	}

	format, err := render.FormatFromFilename(file)
	if err != nil {
		return nil, "", nil, err
	}
	content, err := os.ReadFile(file)
	if err != nil {
		return nil, "", nil, fmt.Errorf("read template: %w", err)
	}
	if company == "" {
		company = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	}

	tmp, err := os.MkdirTemp("", "lettergen-*")
	if err != nil {
		return nil, "", nil, err
	}
	cleanup := func() { os.RemoveAll(tmp) }

	fs, err := store.NewFS(tmp)
	if err != nil {
		cleanup()
		return nil, "", nil, err
	}
	if err := fs.Store(context.Background(), company, format, content); err != nil {
		cleanup()
		return nil, "", nil, fmt.Errorf("stage template: %w", err)
	}
	return fs, company, cleanup, nil
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
