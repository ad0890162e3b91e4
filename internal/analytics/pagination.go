package analytics

import (
	"net/http"
	"strconv"

	apperrors "github.com/marketpulse/transaction-analytics/pkg/errors"
)

// PageParams holds validated pagination input.
type PageParams struct {
	Page     int
	PageSize int
}

// ParsePageParams validates page/page_size query values, applying defaults
// for absent values. Out-of-range or non-numeric values are rejected rather
// than clamped.
func ParsePageParams(pageRaw, sizeRaw string, defaultSize, maxSize int) (PageParams, error) {
	p := PageParams{Page: 1, PageSize: defaultSize}

	if pageRaw != "" {
		n, err := strconv.Atoi(pageRaw)
		if err != nil || n < 1 {
			return PageParams{}, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "Invalid pagination parameters")
		}
		p.Page = n
	}
	if sizeRaw != "" {
		n, err := strconv.Atoi(sizeRaw)
		if err != nil || n < 1 || n > maxSize {
			return PageParams{}, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "Invalid pagination parameters")
		}
		p.PageSize = n
	}
	return p, nil
}

// Offset returns the row offset for the validated page.
func (p PageParams) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// totalPages is never below 1, even for an empty result set.
func totalPages(total int64, pageSize int) int {
	if total <= 0 {
		return 1
	}
	pages := int((total + int64(pageSize) - 1) / int64(pageSize))
	if pages < 1 {
		return 1
	}
	return pages
}
