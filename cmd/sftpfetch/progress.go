package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"sftpFetch/internal/fetcher"
	"sftpFetch/internal/models"
	"sftpFetch/internal/ssh"
	"sftpFetch/internal/ui"
	"sftpFetch/internal/ui/messages"
)

// runWithProgress runs the fetch cycle behind the terminal progress display.
func runWithProgress(ctx context.Context, name string, cfg models.ConnectionConfig, job fetcher.Job) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(ui.NewFetchModel(name, cancel))

	progressChan := make(chan ssh.TransferProgress, 16)
	f, err := fetcher.New(cfg,
		fetcher.WithProgress(progressChan),
		fetcher.WithStepHook(func(s fetcher.Step) { p.Send(messages.StepMsg(s)) }),
	)
	if err != nil {
		return err
	}

	monitorDone := make(chan struct{})
	go func() {
		ui.MonitorProgress(p, progressChan)
		close(monitorDone)
	}()

	go func() {
		res, err := f.Run(ctx, job)
		close(progressChan)
		<-monitorDone
		p.Send(messages.DoneMsg{Result: res, Err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress display: %w", err)
	}
	return final.(ui.FetchModel).Err()
}
