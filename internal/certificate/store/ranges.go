package store

import (
	"context"
	"fmt"
	"math/big"

	"certstore/internal/certificate/models"
	"certstore/pkg/platform/sentinel"
)

// SerialRange is the block of serial numbers this store issues from. When fewer
// than LowWater serials remain unused, CheckRanges reports the range as low.
type SerialRange struct {
	Low      *big.Int
	High     *big.Int
	LowWater *big.Int
}

// Validate checks that the range is well formed.
func (r SerialRange) Validate() error {
	if r.Low == nil || r.High == nil {
		return fmt.Errorf("serial range bounds are required: %w", sentinel.ErrInvalidState)
	}
	if r.Low.Sign() < 0 || r.High.Cmp(r.Low) < 0 {
		return fmt.Errorf("serial range [%s, %s] is empty or negative: %w", r.Low, r.High, sentinel.ErrInvalidState)
	}
	return nil
}

// RangeReport is the outcome of a range check.
type RangeReport struct {
	Source    string
	Used      int
	Remaining *big.Int
	Low       bool
}

// CheckRanges counts the records issued from the configured serial range and
// reports whether the remaining capacity fell below the low-water mark. Without a
// configured range the report is empty.
func (s *Store) CheckRanges(ctx context.Context) (report RangeReport, err error) {
	report.Source = "certificates"
	if s.serials == nil {
		return report, nil
	}
	ctx, done := s.observe(ctx, "check_ranges", nil)
	defer done(&err)

	r := *s.serials
	if err := r.Validate(); err != nil {
		return report, err
	}
	f := fmt.Sprintf("(&(%s>=%s)(%s<=%s))",
		models.FieldSerialNumber, r.Low, models.FieldSerialNumber, r.High)
	w, err := s.Search(ctx, SearchRequest{Filter: f, Attrs: []string{models.FieldSerialNumber}, PageSize: 1})
	if err != nil {
		return report, fmt.Errorf("check ranges: %w", err)
	}
	report.Used = w.TotalSize()
	if err := w.Close(); err != nil {
		s.logger.WarnContext(ctx, "failed to close range window", "error", err)
	}

	size := new(big.Int).Sub(r.High, r.Low)
	size.Add(size, big.NewInt(1))
	report.Remaining = size.Sub(size, big.NewInt(int64(report.Used)))
	if r.LowWater != nil && report.Remaining.Cmp(r.LowWater) < 0 {
		report.Low = true
		s.logger.WarnContext(ctx, "serial range running low",
			"low", r.Low.String(),
			"high", r.High.String(),
			"remaining", report.Remaining.String(),
			"low_water", r.LowWater.String(),
		)
	}
	if s.metrics != nil {
		f, _ := new(big.Float).SetInt(report.Remaining).Float64()
		s.metrics.SetSerialsRemaining(f)
	}
	return report, nil
}
