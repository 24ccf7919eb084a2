package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certstore/pkg/platform/sentinel"
)

func TestApplyModifications(t *testing.T) {
	base := Attributes{}
	base.Set("revInfo", "20240601100000Z;reason=1")
	base.Set("metaInfo", "requestId:r-1", "profile:server:tls")

	t.Run("add on a set attribute conflicts", func(t *testing.T) {
		_, err := ApplyModifications(base, []Modification{{Op: ModAdd, Attr: "revinfo", Values: []string{"x"}}})
		assert.ErrorIs(t, err, sentinel.ErrConflictingUpdate)
	})

	t.Run("keyed replace swaps only its key", func(t *testing.T) {
		out, err := ApplyModifications(base, []Modification{
			{Op: ModReplace, Attr: "metaInfo", Key: "published:", Values: []string{"published:true"}},
			{Op: ModReplace, Attr: "metaInfo", Key: "requestId:", Values: []string{"requestId:r-2"}},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"profile:server:tls", "published:true", "requestId:r-2"}, out.Get("metainfo"))
		assert.Equal(t, []string{"requestId:r-1", "profile:server:tls"}, base.Get("metainfo"), "input untouched")
	})

	t.Run("keyed add merges unless the key exists", func(t *testing.T) {
		out, err := ApplyModifications(base, []Modification{
			{Op: ModAdd, Attr: "metaInfo", Key: "owner:", Values: []string{"owner:ops"}},
		})
		require.NoError(t, err)
		assert.Len(t, out.Get("metaInfo"), 3)

		_, err = ApplyModifications(base, []Modification{
			{Op: ModAdd, Attr: "metaInfo", Key: "requestId:", Values: []string{"requestId:r-9"}},
		})
		assert.ErrorIs(t, err, sentinel.ErrConflictingUpdate)
	})

	t.Run("keyed delete", func(t *testing.T) {
		out, err := ApplyModifications(base, []Modification{{Op: ModDelete, Attr: "metaInfo", Key: "requestId:"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"profile:server:tls"}, out.Get("metaInfo"))

		_, err = ApplyModifications(base, []Modification{{Op: ModDelete, Attr: "metaInfo", Key: "owner:"}})
		assert.ErrorIs(t, err, sentinel.ErrConflictingUpdate)

		_, err = ApplyModifications(base, []Modification{
			{Op: ModDelete, Attr: "metaInfo", Key: "requestId:", Values: []string{"requestId:r-2"}},
		})
		assert.ErrorIs(t, err, sentinel.ErrConflictingUpdate)
	})

	t.Run("failed batch leaves no partial state", func(t *testing.T) {
		_, err := ApplyModifications(base, []Modification{
			{Op: ModReplace, Attr: "metaInfo", Key: "published:", Values: []string{"published:true"}},
			{Op: ModDelete, Attr: "missing"},
		})
		assert.ErrorIs(t, err, sentinel.ErrConflictingUpdate)
		assert.Len(t, base.Get("metaInfo"), 2)
	})
}
