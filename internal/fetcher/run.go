package fetcher

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"sftpFetch/internal/models"
	"sftpFetch/internal/table"
)

// Step names a stage of Run.
type Step string

const (
	StepConnect    Step = "connecting"
	StepSelect     Step = "selecting latest file"
	StepDownload   Step = "downloading"
	StepParse      Step = "parsing"
	StepSave       Step = "saving csv"
	StepDisconnect Step = "disconnecting"
)

// Job describes one fetch cycle. At least one of Raw and Parse must be set.
type Job struct {
	LocalDir string
	Raw      bool
	Parse    *models.ParseOptions
}

// Result collects what a cycle produced.
type Result struct {
	Selected string
	RawPath  string
	CSVPath  string
	Table    *table.Table
}

// Run connects, selects the newest matching file, downloads and/or converts
// it, then disconnects. Disconnect is attempted whenever Connect succeeded
// and its error is joined to the cycle error.
func (f *Fetcher) Run(ctx context.Context, job Job) (res Result, err error) {
	if !job.Raw && job.Parse == nil {
		return res, errUsage("run", errors.New("nothing to do: enable raw download or parsing"))
	}

	f.step(StepConnect)
	if err = f.Connect(ctx); err != nil {
		return res, err
	}
	defer func() {
		f.step(StepDisconnect)
		if dErr := f.Disconnect(); dErr != nil {
			f.logger.Warn("disconnect failed", zap.Error(dErr))
			err = errors.Join(err, dErr)
		}
	}()

	if err = ctx.Err(); err != nil {
		return res, err
	}
	f.step(StepSelect)
	if res.Selected, err = f.SelectLatestMatchingFile(); err != nil {
		return res, err
	}

	if job.Raw {
		f.step(StepDownload)
		if res.RawPath, err = f.DownloadRawFile(ctx, job.LocalDir); err != nil {
			return res, err
		}
	}

	if job.Parse != nil {
		if err = ctx.Err(); err != nil {
			return res, err
		}
		f.step(StepParse)
		if res.Table, err = f.ParseToTable(ctx, *job.Parse); err != nil {
			return res, err
		}
		f.step(StepSave)
		if res.CSVPath, err = f.SaveTableAsCsv(job.LocalDir); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (f *Fetcher) step(s Step) {
	f.logger.Debug("step", zap.String("step", string(s)))
	if f.onStep != nil {
		f.onStep(s)
	}
}
