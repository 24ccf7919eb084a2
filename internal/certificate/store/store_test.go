package store

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"certstore/internal/certificate/metrics"
	"certstore/internal/certificate/models"
	"certstore/internal/directory"
	"certstore/internal/directory/memory"
	"certstore/internal/schema"
	"certstore/internal/x509cert"
	"certstore/pkg/platform/sentinel"
	"certstore/pkg/requestcontext"
	"certstore/pkg/testutil"
)

const testBaseDN = "ou=certificateRepository,ou=ca,o=test"

type StoreSuite struct {
	suite.Suite
	dir   *memory.Directory
	store *Store
	now   time.Time
	ctx   context.Context
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	registry, err := schema.NewCertificateRegistry(x509cert.StdParser{})
	s.Require().NoError(err)

	s.now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.dir = memory.New()
	s.store = New(s.dir, registry, testBaseDN,
		WithClock(func() time.Time { return s.now }),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
		WithPageSize(4),
	)
	s.ctx = context.Background()
}

func (s *StoreSuite) TearDownTest() {
	s.Equal(0, s.dir.OpenSessions(), "directory sessions leaked")
}

func (s *StoreSuite) newRecord(serial int64, notBefore, notAfter time.Time) *models.CertificateRecord {
	der := testutil.IssueCertificate(s.T(), serial, notBefore, notAfter)
	cert, err := models.NewCertificate(der, x509cert.StdParser{})
	s.Require().NoError(err)
	rec, err := models.NewCertificateRecord(big.NewInt(serial), cert)
	s.Require().NoError(err)
	return rec
}

func (s *StoreSuite) addValid(serial int64) *models.CertificateRecord {
	rec := s.newRecord(serial, s.now.Add(-time.Hour), s.now.Add(24*time.Hour))
	s.Require().NoError(s.store.AddRecord(s.ctx, rec))
	return rec
}

func (s *StoreSuite) TestAddRecord() {
	s.Run("defaults to VALID once notBefore has passed", func() {
		ctx := requestcontext.WithPrincipal(s.ctx, "caadmin")
		rec := s.newRecord(1, s.now.Add(-time.Hour), s.now.Add(time.Hour))
		s.Require().NoError(s.store.AddRecord(ctx, rec))

		got, err := s.store.ReadRecord(s.ctx, big.NewInt(1))
		s.Require().NoError(err)
		s.Equal(models.StatusValid, got.Status)
		s.Equal("caadmin", got.IssuedBy)
		s.True(got.CreateTime.Equal(s.now))
		s.True(got.ModifyTime.Equal(s.now))
		s.Equal(rec.Certificate.DER, got.Certificate.DER)
	})

	s.Run("defaults to INVALID before notBefore", func() {
		rec := s.newRecord(2, s.now.Add(time.Hour), s.now.Add(2*time.Hour))
		s.Require().NoError(s.store.AddRecord(s.ctx, rec))

		got, err := s.store.ReadRecord(s.ctx, big.NewInt(2))
		s.Require().NoError(err)
		s.Equal(models.StatusInvalid, got.Status)
		s.Equal(requestcontext.SystemPrincipal, got.IssuedBy)
	})

	s.Run("keeps an explicit status", func() {
		rec := s.newRecord(3, s.now.Add(time.Hour), s.now.Add(2*time.Hour))
		rec.Status = models.StatusValid
		s.Require().NoError(s.store.AddRecord(s.ctx, rec))

		got, err := s.store.ReadRecord(s.ctx, big.NewInt(3))
		s.Require().NoError(err)
		s.Equal(models.StatusValid, got.Status)
	})

	s.Run("certificate is required", func() {
		err := s.store.AddRecord(s.ctx, &models.CertificateRecord{SerialNumber: big.NewInt(4)})
		s.ErrorIs(err, sentinel.ErrSerialization)
	})

	s.Run("duplicate serial", func() {
		rec := s.newRecord(1, s.now.Add(-time.Hour), s.now.Add(time.Hour))
		s.ErrorIs(s.store.AddRecord(s.ctx, rec), sentinel.ErrDuplicateKey)
	})

	s.Run("request time overrides the clock", func() {
		at := s.now.Add(-48 * time.Hour)
		rec := s.newRecord(4, s.now.Add(-time.Hour), s.now.Add(time.Hour))
		s.Require().NoError(s.store.AddRecord(requestcontext.WithTime(s.ctx, at), rec))

		got, err := s.store.ReadRecord(s.ctx, big.NewInt(4))
		s.Require().NoError(err)
		s.True(got.CreateTime.Equal(at))
		s.Equal(models.StatusInvalid, got.Status)
	})
}

func (s *StoreSuite) TestReadAndDelete() {
	_, err := s.store.ReadRecord(s.ctx, big.NewInt(404))
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.store.DeleteRecord(s.ctx, big.NewInt(404)), sentinel.ErrNotFound)

	s.addValid(10)
	s.Require().NoError(s.store.DeleteRecord(s.ctx, big.NewInt(10)))
	_, err = s.store.ReadRecord(s.ctx, big.NewInt(10))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreSuite) TestModifyRecordStampsModifyTime() {
	s.addValid(11)
	s.now = s.now.Add(time.Minute)

	meta := models.NewMetaInfo("published", "true")
	s.Require().NoError(s.store.ModifyRecord(s.ctx, big.NewInt(11), []Delta{
		Replace(models.FieldMetaInfo, meta),
		Replace(models.FieldAutoRenew, string(models.AutoRenewDisabled)),
	}))

	got, err := s.store.ReadRecord(s.ctx, big.NewInt(11))
	s.Require().NoError(err)
	s.True(got.ModifyTime.Equal(s.now))
	s.Equal(models.AutoRenewDisabled, got.AutoRenew)
	v, ok := got.MetaInfo.Get("published")
	s.True(ok)
	s.Equal("true", v)

	err = s.store.ModifyRecord(s.ctx, big.NewInt(11), []Delta{Replace(models.FieldStatus, 12)})
	s.ErrorIs(err, sentinel.ErrSerialization)
	s.ErrorIs(s.store.ModifyRecord(s.ctx, big.NewInt(99), nil), sentinel.ErrNotFound)
}

func (s *StoreSuite) TestMetaKeyEditsKeepOtherKeys() {
	rec := s.newRecord(12, s.now.Add(-time.Hour), s.now.Add(24*time.Hour))
	rec.MetaInfo = models.NewMetaInfo("requestId", "r-1")
	s.Require().NoError(s.store.AddRecord(s.ctx, rec))
	serial := big.NewInt(12)
	publishedKey := schema.MetaKeyPrefix + "." + PublishedMetaKey

	s.Require().NoError(s.store.ModifyRecord(s.ctx, serial, []Delta{Replace(publishedKey, "true")}))
	s.Require().NoError(s.store.ModifyRecord(s.ctx, serial, []Delta{Add("meta.other", "x")}))

	got, err := s.store.ReadRecord(s.ctx, serial)
	s.Require().NoError(err)
	s.Equal([]string{"requestId", "published", "other"}, got.MetaInfo.Keys())

	err = s.store.ModifyRecord(s.ctx, serial, []Delta{Add("meta.other", "y")})
	s.ErrorIs(err, sentinel.ErrConflictingUpdate)

	s.Require().NoError(s.store.ModifyRecord(s.ctx, serial, []Delta{Remove(publishedKey, nil)}))
	got, err = s.store.ReadRecord(s.ctx, serial)
	s.Require().NoError(err)
	s.Equal([]string{"requestId", "other"}, got.MetaInfo.Keys())
	s.ErrorIs(s.store.ModifyRecord(s.ctx, serial, []Delta{Remove(publishedKey, nil)}), sentinel.ErrConflictingUpdate)
}

func (s *StoreSuite) TestRevocation() {
	s.addValid(20)
	info, err := models.NewRevocationInfo(s.now, models.ReasonKeyCompromise, nil)
	s.Require().NoError(err)
	ctx := requestcontext.WithPrincipal(s.ctx, "agent")

	s.Run("mark as revoked", func() {
		s.Require().NoError(s.store.MarkAsRevoked(ctx, big.NewInt(20), info))

		got, err := s.store.ReadRecord(s.ctx, big.NewInt(20))
		s.Require().NoError(err)
		s.Equal(models.StatusRevoked, got.Status)
		s.Equal("agent", got.RevokedBy)
		s.True(got.RevokedOn.Equal(s.now))
		s.Equal(info, got.RevocationInfo)
	})

	s.Run("second revocation conflicts and changes nothing", func() {
		other, err := models.NewRevocationInfo(s.now.Add(time.Hour), models.ReasonSuperseded, nil)
		s.Require().NoError(err)
		err = s.store.MarkAsRevoked(ctx, big.NewInt(20), other)
		s.ErrorIs(err, sentinel.ErrConflictingUpdate)

		got, err := s.store.ReadRecord(s.ctx, big.NewInt(20))
		s.Require().NoError(err)
		s.Equal(info, got.RevocationInfo)
	})

	s.Run("unmark with mismatching values conflicts", func() {
		err := s.store.UnmarkRevoked(s.ctx, big.NewInt(20), info, s.now, "someone-else")
		s.ErrorIs(err, sentinel.ErrConflictingUpdate)
	})

	s.Run("unmark with stored values", func() {
		s.Require().NoError(s.store.UnmarkRevoked(s.ctx, big.NewInt(20), info, s.now, "agent"))

		got, err := s.store.ReadRecord(s.ctx, big.NewInt(20))
		s.Require().NoError(err)
		s.Equal(models.StatusValid, got.Status)
		s.Nil(got.RevocationInfo)
		s.Empty(got.RevokedBy)
		s.True(got.RevokedOn.IsZero())
	})

	s.Run("revoked expired cannot be unmarked", func() {
		s.Require().NoError(s.store.MarkAsRevoked(ctx, big.NewInt(20), info))
		s.Require().NoError(s.store.UpdateStatus(s.ctx, big.NewInt(20), models.StatusRevokedExpired))

		err := s.store.UnmarkRevoked(s.ctx, big.NewInt(20), info, s.now, "agent")
		s.ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("unknown record", func() {
		s.ErrorIs(s.store.MarkAsRevoked(ctx, big.NewInt(21), info), sentinel.ErrNotFound)
	})
}

func (s *StoreSuite) TestUpdateStatusRejectsUnknownStatus() {
	s.addValid(30)
	err := s.store.UpdateStatus(s.ctx, big.NewInt(30), models.Status("BOGUS"))
	s.ErrorIs(err, sentinel.ErrSerialization)
}

func (s *StoreSuite) TestSearchWindow() {
	for i := int64(100); i < 125; i++ {
		s.addValid(i)
	}

	s.Run("forward from an anchor in the middle", func() {
		w, err := s.store.Search(s.ctx, SearchRequest{Anchor: "112", PageSize: 10})
		s.Require().NoError(err)
		defer w.Close()

		s.Equal(25, w.TotalSize())
		s.Equal(12, w.SizeBeforeAnchor())
		s.Equal(13, w.SizeAfterAnchor())

		first, ok, err := w.ElementAt(s.ctx, 0)
		s.Require().NoError(err)
		s.Require().True(ok)
		s.Equal(int64(112), first.SerialNumber.Int64())

		last, ok, err := w.ElementAt(s.ctx, 12)
		s.Require().NoError(err)
		s.Require().True(ok)
		s.Equal(int64(124), last.SerialNumber.Int64())

		_, ok, err = w.ElementAt(s.ctx, 13)
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("backward from the anchor", func() {
		w, err := s.store.Search(s.ctx, SearchRequest{Anchor: "112", PageSize: -10})
		s.Require().NoError(err)
		defer w.Close()

		first, ok, err := w.ElementAt(s.ctx, 0)
		s.Require().NoError(err)
		s.Require().True(ok)
		s.Equal(int64(111), first.SerialNumber.Int64())

		last, ok, err := w.ElementAt(s.ctx, 11)
		s.Require().NoError(err)
		s.Require().True(ok)
		s.Equal(int64(100), last.SerialNumber.Int64())

		_, ok, err = w.ElementAt(s.ctx, 12)
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("end anchor scans everything backwards", func() {
		w, err := s.store.Search(s.ctx, SearchRequest{Anchor: AnchorEnd, PageSize: -10})
		s.Require().NoError(err)
		defer w.Close()

		s.Equal(25, w.SizeBeforeAnchor())
		s.Equal(0, w.SizeAfterAnchor())
		rec, ok, err := w.ElementAt(s.ctx, 0)
		s.Require().NoError(err)
		s.Require().True(ok)
		s.Equal(int64(124), rec.SerialNumber.Int64())
	})

	s.Run("filter and projection", func() {
		s.Require().NoError(s.store.UpdateStatus(s.ctx, big.NewInt(105), models.StatusExpired))
		w, err := s.store.Search(s.ctx, SearchRequest{
			Filter:   "(status=EXPIRED)",
			Attrs:    []string{models.FieldStatus},
			PageSize: 5,
		})
		s.Require().NoError(err)
		defer w.Close()

		s.Equal(1, w.TotalSize())
		rec, ok, err := w.ElementAt(s.ctx, 0)
		s.Require().NoError(err)
		s.Require().True(ok)
		s.Equal(int64(105), rec.SerialNumber.Int64())
		s.Nil(rec.Certificate)
	})

	s.Run("invalid requests", func() {
		_, err := s.store.Search(s.ctx, SearchRequest{PageSize: 0})
		s.ErrorIs(err, sentinel.ErrInvalidFilter)
		_, err = s.store.Search(s.ctx, SearchRequest{Filter: "(status=VALID", PageSize: 1})
		s.ErrorIs(err, sentinel.ErrInvalidFilter)
		_, err = s.store.Search(s.ctx, SearchRequest{Filter: "(color=red)", PageSize: 1})
		s.ErrorIs(err, sentinel.ErrInvalidFilter)
	})
}

func (s *StoreSuite) TestCannedQueries() {
	for i := int64(1); i <= 6; i++ {
		s.addValid(i)
	}
	s.Require().NoError(s.store.UpdateStatus(s.ctx, big.NewInt(2), models.StatusExpired))
	info, err := models.NewRevocationInfo(s.now, models.ReasonSuperseded, nil)
	s.Require().NoError(err)
	s.Require().NoError(s.store.MarkAsRevoked(s.ctx, big.NewInt(3), info))
	s.Require().NoError(s.store.ModifyRecord(s.ctx, big.NewInt(4), []Delta{
		Replace(schema.MetaKeyPrefix+"."+PublishedMetaKey, "true"),
	}))
	future := s.newRecord(7, s.now.Add(2*time.Hour), s.now.Add(48*time.Hour))
	s.Require().NoError(s.store.AddRecord(s.ctx, future))

	collect := func(it *Iterator, err error) []int64 {
		s.Require().NoError(err)
		defer it.Close()
		var out []int64
		for it.Next(s.ctx) {
			out = append(out, it.Record().SerialNumber.Int64())
		}
		s.Require().NoError(it.Err())
		return out
	}

	s.Equal([]int64{1, 4, 5, 6}, collect(s.store.ValidCertificates(s.ctx, nil, nil)))
	s.Equal([]int64{4, 5}, collect(s.store.ValidCertificates(s.ctx, big.NewInt(2), big.NewInt(5))))
	s.Equal([]int64{2}, collect(s.store.ExpiredCertificates(s.ctx, nil, nil)))
	s.Equal([]int64{3}, collect(s.store.RevokedCertificates(s.ctx, nil, nil)))
	s.Equal([]int64{1, 5, 6}, collect(s.store.ValidNotPublished(s.ctx, nil, nil)))
	s.Equal([]int64{3}, collect(s.store.RevokedNotPublished(s.ctx, nil, nil)))
	s.Equal([]int64{7}, collect(s.store.NotYetValidCertificates(s.ctx, s.now)))
	s.Empty(collect(s.store.NotYetValidCertificates(s.ctx, s.now.Add(3*time.Hour))))
	s.Equal([]int64{1, 4, 5, 6}, collect(s.store.ExpiringBetween(s.ctx, s.now, s.now.Add(25*time.Hour))))

	found, err := s.store.Find(s.ctx, "(|(status=EXPIRED)(status=REVOKED))", 0)
	s.Require().NoError(err)
	s.Len(found, 2)
}

func (s *StoreSuite) TestCheckRanges() {
	registry := s.store.Registry()
	st := New(s.dir, registry, testBaseDN, WithSerialRange(SerialRange{
		Low:      big.NewInt(1),
		High:     big.NewInt(10),
		LowWater: big.NewInt(8),
	}))

	report, err := st.CheckRanges(s.ctx)
	s.Require().NoError(err)
	s.Equal(0, report.Used)
	s.False(report.Low)

	for i := int64(1); i <= 3; i++ {
		s.addValid(i)
	}
	s.addValid(50)

	report, err = st.CheckRanges(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, report.Used)
	s.Equal(int64(7), report.Remaining.Int64())
	s.True(report.Low)

	report, err = s.store.CheckRanges(s.ctx)
	s.Require().NoError(err)
	s.Nil(report.Remaining)
}

// Concurrent metadata edits and revocations must never leave a record carrying
// revokedOn without status REVOKED.
func (s *StoreSuite) TestConcurrentModifyAndRevoke() {
	for i := int64(200); i < 210; i++ {
		s.addValid(i)
	}
	info, err := models.NewRevocationInfo(s.now, models.ReasonKeyCompromise, nil)
	s.Require().NoError(err)

	var wg sync.WaitGroup
	for i := int64(200); i < 210; i++ {
		serial := big.NewInt(i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for n := 0; n < 5; n++ {
				_ = s.store.ModifyRecord(s.ctx, serial, []Delta{
					Replace(models.FieldAutoRenew, string(models.AutoRenewNotified)),
					Replace(models.FieldMetaInfo, models.NewMetaInfo("attempt", string(rune('a'+n)))),
				})
			}
		}()
		go func() {
			defer wg.Done()
			_ = s.store.MarkAsRevoked(s.ctx, serial, info)
		}()
	}
	wg.Wait()

	for i := int64(200); i < 210; i++ {
		got, err := s.store.ReadRecord(s.ctx, big.NewInt(i))
		s.Require().NoError(err)
		s.False(got.RevokedOn.IsZero(), "serial %d", i)
		s.Equal(models.StatusRevoked, got.Status, "serial %d", i)
		s.Equal(models.AutoRenewNotified, got.AutoRenew)
	}
}

// countingDirectory records the highest number of Modify calls in flight.
type countingDirectory struct {
	directory.Directory
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (d *countingDirectory) Session(ctx context.Context) (directory.Session, error) {
	sess, err := d.Directory.Session(ctx)
	if err != nil {
		return nil, err
	}
	return &countingSession{Session: sess, dir: d}, nil
}

type countingSession struct {
	directory.Session
	dir *countingDirectory
}

func (c *countingSession) Modify(ctx context.Context, dn string, mods []directory.Modification) error {
	n := c.dir.active.Add(1)
	defer c.dir.active.Add(-1)
	for {
		seen := c.dir.maxSeen.Load()
		if n <= seen || c.dir.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	return c.Session.Modify(ctx, dn, mods)
}

func (s *StoreSuite) TestStatusMutationsAreSerialized() {
	counting := &countingDirectory{Directory: s.dir}
	st := New(counting, s.store.Registry(), testBaseDN, WithClock(func() time.Time { return s.now }))
	for i := int64(300); i < 305; i++ {
		s.addValid(i)
	}

	var wg sync.WaitGroup
	for i := int64(300); i < 305; i++ {
		serial := big.NewInt(i)
		wg.Add(3)
		go func() {
			defer wg.Done()
			_ = st.UpdateStatus(s.ctx, serial, models.StatusExpired)
		}()
		go func() {
			defer wg.Done()
			_ = st.ModifyRecord(s.ctx, serial, []Delta{Replace(models.FieldAutoRenew, string(models.AutoRenewDone))})
		}()
		go func() {
			defer wg.Done()
			_ = st.Exclusive(s.ctx, func(ctx context.Context, l *Locked) error {
				return l.UpdateStatus(ctx, serial, models.StatusValid)
			})
		}()
	}
	wg.Wait()
	s.Equal(int32(1), counting.maxSeen.Load())
}
