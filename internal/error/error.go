// internal/error/error.go

package error

import (
	"errors"
	"fmt"
)

type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

type ErrorType int

const (
	ConfigError ErrorType = iota
	ConnectionError
	SelectionError
	TransferError
	ParseError
	UsageError
)

func (t ErrorType) String() string {
	switch t {
	case ConfigError:
		return "config"
	case ConnectionError:
		return "connection"
	case SelectionError:
		return "selection"
	case TransferError:
		return "transfer"
	case ParseError:
		return "parse"
	case UsageError:
		return "usage"
	default:
		return fmt.Sprintf("ErrorType(%d)", int(t))
	}
}

// Sentinels wrapped by the fetcher. Match them with errors.Is.
var (
	ErrNotConnected = errors.New("no open session")
	ErrNoSelection  = errors.New("no remote file selected")
	ErrNoTable      = errors.New("no parsed table")
	ErrNoMatch      = errors.New("no remote file matches the prefix")
)

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *AppError of the same type with no
// message, so errors.Is(err, &AppError{Type: UsageError}) matches any usage error.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Type == e.Type && t.Message == "" && t.Err == nil
}

func New(errType ErrorType, message string, err error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// KindOf returns the type of the outermost AppError in err's chain.
func KindOf(err error) (ErrorType, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type, true
	}
	return 0, false
}
