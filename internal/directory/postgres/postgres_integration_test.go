//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"certstore/internal/directory"
	"certstore/internal/directory/postgres"
	"certstore/pkg/platform/sentinel"
	"certstore/pkg/testutil/containers"
)

const base = "ou=certs,o=test"

type PostgresDirectorySuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	dir      *postgres.Directory
	sess     directory.Session
	ctx      context.Context
}

func TestPostgresDirectorySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresDirectorySuite))
}

func (s *PostgresDirectorySuite) SetupSuite() {
	s.ctx = context.Background()
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.dir = postgres.New(s.postgres.Pool)
	s.Require().NoError(s.dir.Migrate(s.ctx))
	s.Require().NoError(s.dir.Migrate(s.ctx), "migrations are idempotent")
}

func (s *PostgresDirectorySuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(s.ctx, "directory_entries"))
	sess, err := s.dir.Session(s.ctx)
	s.Require().NoError(err)
	s.sess = sess
}

func (s *PostgresDirectorySuite) TearDownTest() {
	_ = s.sess.Close()
	_ = s.dir.Close()
}

func entry(cn string, attrs ...string) directory.Entry {
	a := directory.Attributes{}
	for i := 0; i+1 < len(attrs); i += 2 {
		a.Append(attrs[i], attrs[i+1])
	}
	return directory.Entry{DN: "cn=" + cn + "," + base, Attrs: a}
}

func (s *PostgresDirectorySuite) TestCRUD() {
	s.Require().NoError(s.sess.Add(s.ctx, entry("1", "certStatus", "VALID", "metaInfo", "a:1", "metaInfo", "b:2")))
	s.ErrorIs(s.sess.Add(s.ctx, entry("1", "certStatus", "VALID")), sentinel.ErrDuplicateKey)

	e, err := s.sess.Read(s.ctx, "CN=1,"+base, nil)
	s.Require().NoError(err)
	s.Equal("cn=1,"+base, e.DN)
	s.Equal([]string{"a:1", "b:2"}, e.Attrs.Get("metaInfo"))

	e, err = s.sess.Read(s.ctx, "cn=1,"+base, []string{"certStatus"})
	s.Require().NoError(err)
	s.Equal(directory.Attributes{"certstatus": {"VALID"}}, e.Attrs)

	s.Require().NoError(s.sess.Delete(s.ctx, "cn=1,"+base))
	_, err = s.sess.Read(s.ctx, "cn=1,"+base, nil)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.sess.Delete(s.ctx, "cn=1,"+base), sentinel.ErrNotFound)
}

func (s *PostgresDirectorySuite) TestModifyIsAtomic() {
	s.Require().NoError(s.sess.Add(s.ctx, entry("7", "certStatus", "VALID", "revInfo", "x")))

	err := s.sess.Modify(s.ctx, "cn=7,"+base, []directory.Modification{
		{Op: directory.ModReplace, Attr: "certStatus", Values: []string{"REVOKED"}},
		{Op: directory.ModAdd, Attr: "revInfo", Values: []string{"y"}},
	})
	s.ErrorIs(err, sentinel.ErrConflictingUpdate)

	e, err := s.sess.Read(s.ctx, "cn=7,"+base, nil)
	s.Require().NoError(err)
	s.Equal([]string{"VALID"}, e.Attrs.Get("certStatus"))

	s.ErrorIs(s.sess.Modify(s.ctx, "cn=8,"+base, nil), sentinel.ErrNotFound)
}

func (s *PostgresDirectorySuite) TestSearchFilters() {
	s.Require().NoError(s.sess.Add(s.ctx, entry("1", "certStatus", "VALID", "issuedBy", "Alice Admin", "serialno", "0201")))
	s.Require().NoError(s.sess.Add(s.ctx, entry("2", "certStatus", "REVOKED", "issuedBy", "bob", "serialno", "0202")))
	s.Require().NoError(s.sess.Add(s.ctx, entry("3", "certStatus", "VALID", "serialno", "0203")))
	s.Require().NoError(s.sess.Add(s.ctx, directory.Entry{
		DN:    "cn=elsewhere,o=other",
		Attrs: directory.Attributes{"certstatus": {"VALID"}},
	}))

	cases := []struct {
		filter string
		want   int
	}{
		{"(certStatus=valid)", 2},
		{"(issuedBy=ali*)", 1},
		{"(issuedBy~=aliceadmin)", 1},
		{"(!(issuedBy=*))", 1},
		{"(&(serialno>=0202)(serialno<=0203))", 2},
		{"(|(certStatus=REVOKED)(serialno<=0201))", 2},
	}
	for _, tc := range cases {
		found, err := s.sess.Search(s.ctx, directory.SearchRequest{Base: base, Filter: tc.filter})
		s.Require().NoError(err, tc.filter)
		s.Len(found, tc.want, tc.filter)
	}

	found, err := s.sess.Search(s.ctx, directory.SearchRequest{Base: base, Limit: 2})
	s.Require().NoError(err)
	s.Len(found, 2)
}

func (s *PostgresDirectorySuite) TestWindow() {
	for i := 0; i < 25; i++ {
		s.Require().NoError(s.sess.Add(s.ctx, entry(fmt.Sprint(i), "serialno", fmt.Sprintf("02%02d", i))))
	}
	s.Require().NoError(s.sess.Add(s.ctx, entry("unsorted", "issuedBy", "carol")))

	w, err := s.sess.OpenWindow(s.ctx, directory.WindowRequest{
		Base: base, SortAttr: "serialno", Anchor: "0212",
	})
	s.Require().NoError(err)
	defer w.Close()
	s.Equal(26, w.TotalSize())
	s.Equal(12, w.SizeBeforeAnchor())

	page, err := w.Fetch(s.ctx, 12, 10)
	s.Require().NoError(err)
	s.Require().Len(page, 10)
	s.Equal("0212", page[0].Attrs.Get("serialno")[0])
	s.Equal("0221", page[9].Attrs.Get("serialno")[0])

	tail, err := w.Fetch(s.ctx, 24, 10)
	s.Require().NoError(err)
	s.Require().Len(tail, 2)
	s.Equal("cn=unsorted,"+base, tail[1].DN, "entries without a sort value come last")

	end, err := s.sess.OpenWindow(s.ctx, directory.WindowRequest{Base: base, SortAttr: "serialno", AnchorEnd: true})
	s.Require().NoError(err)
	s.Equal(end.TotalSize(), end.SizeBeforeAnchor())
}

func (s *PostgresDirectorySuite) TestChangeStream() {
	stream, err := s.sess.OpenChangeStream(s.ctx, base, "(certStatus=*)")
	s.Require().NoError(err)
	defer stream.Close()

	s.Require().NoError(s.sess.Add(s.ctx, entry("2", "issuedBy", "bob")))
	s.Require().NoError(s.sess.Add(s.ctx, entry("1", "certStatus", "VALID")))
	s.Require().NoError(s.sess.Modify(s.ctx, "cn=1,"+base, []directory.Modification{
		{Op: directory.ModReplace, Attr: "certStatus", Values: []string{"REVOKED"}},
	}))

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	c, err := stream.Next(ctx)
	s.Require().NoError(err)
	s.Equal(directory.ChangeAdd, c.Type)
	s.Equal("cn=1,"+base, c.Entry.DN)

	c, err = stream.Next(ctx)
	s.Require().NoError(err)
	s.Equal(directory.ChangeModify, c.Type)
	s.Equal([]string{"REVOKED"}, c.Entry.Attrs.Get("certStatus"))
}

func (s *PostgresDirectorySuite) TestCloseUnblocksNext() {
	stream, err := s.sess.OpenChangeStream(s.ctx, base, "")
	s.Require().NoError(err)

	errCh := make(chan error, 1)
	go func() {
		_, err := stream.Next(context.Background())
		errCh <- err
	}()
	time.Sleep(50 * time.Millisecond)
	s.Require().NoError(stream.Close())

	select {
	case err := <-errCh:
		s.ErrorIs(err, directory.ErrStreamClosed)
	case <-time.After(2 * time.Second):
		s.Fail("Next did not return after Close")
	}
}
