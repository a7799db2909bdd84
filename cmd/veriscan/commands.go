package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"

	"github.com/kirillkom/veriscan/internal/bootstrap"
	"github.com/kirillkom/veriscan/internal/core/domain"
	"github.com/kirillkom/veriscan/internal/core/usecase"
	"github.com/kirillkom/veriscan/internal/infrastructure/notify"
)

func doValidate(cmd *cobra.Command, args []string) error {
	f, candidate, err := openCandidate(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	valid, err := usecase.NewValidator(cfg.UploadPolicy()).Validate(candidate)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s, %d bytes)\n", valid.Name, valid.MimeType, valid.SizeBytes)
	return nil
}

func doSubmit(cmd *cobra.Command, args []string) error {
	f, candidate, err := openCandidate(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	ctx := cmd.Context()
	app, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if flagDetach {
		valid, err := app.Validator.Validate(candidate)
		if err != nil {
			return err
		}
		job, err := app.Submitter.Submit(ctx, valid, f, flagOwner)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), job.ID)
		return nil
	}

	result, err := app.Flow.Run(ctx, candidate, f, flagOwner, printUpdate(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	return finalError(result)
}

func doWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	job, err := app.Jobs.GetByID(ctx, domain.JobID(args[0]))
	if err != nil {
		return err
	}
	machine, err := domain.RestoreStateMachine(job.Status)
	if err != nil {
		return err
	}
	restoredTerminal := machine.State().IsTerminal()
	result, err := app.Flow.Track(ctx, job, machine, printUpdate(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	if restoredTerminal && result.Outcome != nil {
		// the flow only delivers outcomes it observed itself
		if err := notify.NewJSONSink(cmd.OutOrStdout()).Deliver(ctx, job, result.Outcome); err != nil {
			return err
		}
	}
	return finalError(result)
}

func newApp(ctx context.Context, cmd *cobra.Command) (*bootstrap.App, error) {
	return bootstrap.New(ctx, cfg,
		bootstrap.WithLogger(logger),
		bootstrap.WithNotifier(notify.NewWriterNotifier(cmd.ErrOrStderr())),
		bootstrap.WithResultSink(notify.NewJSONSink(cmd.OutOrStdout())),
	)
}

// openCandidate opens path and describes it by its sniffed content type rather
// than its extension.
func openCandidate(path string) (*os.File, domain.UploadCandidate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.UploadCandidate{}, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, domain.UploadCandidate{}, err
	}
	if info.IsDir() {
		f.Close()
		return nil, domain.UploadCandidate{}, fmt.Errorf("%s is a directory", path)
	}

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		f.Close()
		return nil, domain.UploadCandidate{}, fmt.Errorf("detect content type of %s: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, domain.UploadCandidate{}, err
	}

	return f, domain.UploadCandidate{
		Name:      filepath.Base(path),
		SizeBytes: info.Size(),
		MimeType:  mtype.String(),
	}, nil
}

func printUpdate(w io.Writer) func(domain.JobStatusUpdate) {
	return func(u domain.JobStatusUpdate) {
		if u.IsPollingError() {
			fmt.Fprintf(w, "poll %d: error: %v\n", u.Attempt, u.Err)
			return
		}
		fmt.Fprintf(w, "poll %d: %s\n", u.Attempt, u.Status)
	}
}

var (
	errAnalysisFailed   = errors.New("analysis failed")
	errAnalysisTimedOut = errors.New("analysis timed out")
)

func finalError(result *domain.FlowResult) error {
	switch result.State {
	case domain.StateFailed:
		return errAnalysisFailed
	case domain.StateTimedOut:
		return errAnalysisTimedOut
	default:
		return nil
	}
}
