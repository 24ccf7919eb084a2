package crl_test

//go:generate mockgen -source=sink.go -destination=mocks/mocks.go -package=mocks Sink

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"certstore/internal/certificate/metrics"
	"certstore/internal/certificate/models"
	"certstore/internal/crl"
	"certstore/internal/crl/mocks"
)

// =============================================================================
// Sink Fan-out Test Suite
// =============================================================================
// Justification: the fan-out is the only place that decides delivery order and
// what happens when one issuing point fails.

type SinksSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	first   *mocks.MockSink
	second  *mocks.MockSink
	metrics *metrics.Metrics
	sinks   *crl.Sinks
	ctx     context.Context
}

func TestSinksSuite(t *testing.T) {
	suite.Run(t, new(SinksSuite))
}

func (s *SinksSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.first = mocks.NewMockSink(s.ctrl)
	s.second = mocks.NewMockSink(s.ctrl)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.sinks = crl.NewSinks([]crl.Sink{s.first, s.second},
		crl.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		crl.WithMetrics(s.metrics),
	)
	s.ctx = context.Background()
}

func (s *SinksSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *SinksSuite) TestDeliversInRegistrationOrder() {
	serial := big.NewInt(5)
	info, err := models.NewRevocationInfo(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), models.ReasonKeyCompromise, nil)
	s.Require().NoError(err)

	gomock.InOrder(
		s.first.EXPECT().AddRevokedCert(gomock.Any(), serial, info).Return(nil),
		s.second.EXPECT().AddRevokedCert(gomock.Any(), serial, info).Return(nil),
	)

	s.Zero(s.sinks.AddRevokedCert(s.ctx, serial, info))
	s.Equal(2.0, testutil.ToFloat64(s.metrics.SinkNotifications.WithLabelValues(crl.EventRevoked, "ok")))
}

func (s *SinksSuite) TestFailingSinkDoesNotStopDelivery() {
	serial := big.NewInt(7)

	gomock.InOrder(
		s.first.EXPECT().AddExpiredCert(gomock.Any(), serial).Return(errors.New("issuing point offline")),
		s.second.EXPECT().AddExpiredCert(gomock.Any(), serial).Return(nil),
	)

	s.Equal(1, s.sinks.AddExpiredCert(s.ctx, serial))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.SinkNotifications.WithLabelValues(crl.EventExpired, "error")))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.SinkNotifications.WithLabelValues(crl.EventExpired, "ok")))
}

func (s *SinksSuite) TestUnrevoked() {
	serial := big.NewInt(9)
	s.first.EXPECT().AddUnrevokedCert(gomock.Any(), serial).Return(nil)
	s.second.EXPECT().AddUnrevokedCert(gomock.Any(), serial).Return(nil)

	s.Zero(s.sinks.AddUnrevokedCert(s.ctx, serial))
	s.Equal(2, s.sinks.Len())
}
