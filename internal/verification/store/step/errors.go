package step

import (
	"fmt"

	"studentverify/pkg/platform/sentinel"
)

// ErrRetryNotAllowed is returned by RecordRetry when the budget is spent.
// It matches sentinel.ErrInvalidState under errors.Is.
var ErrRetryNotAllowed = fmt.Errorf("retry not allowed: %w", sentinel.ErrInvalidState)
