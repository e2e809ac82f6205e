// Package messages defines the tea.Msg values sent from a running fetch
// to the progress display.
package messages

import (
	"sftpFetch/internal/fetcher"
	"sftpFetch/internal/ssh"
)

// StepMsg announces the step the fetch cycle is entering.
type StepMsg string

type ProgressMsg ssh.TransferProgress

// DoneMsg ends the display with the cycle outcome.
type DoneMsg struct {
	Result fetcher.Result
	Err    error
}
