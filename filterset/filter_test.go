package filterset_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/cert-storage/filterset"
)

type stubFilter struct {
	coverage int
	status   filterset.Status
}

func (s stubFilter) CoverageCount(_ []filterset.Timestamp) int { return s.coverage }
func (s stubFilter) Has(_ filterset.Key) filterset.Status      { return s.status }

func Test_Set_EmptyIsNotCovered(t *testing.T) {
	s := filterset.NewSet(1)
	require.Equal(t, filterset.StatusNotCovered, s.Query(filterset.Key{}, nil))
}

func Test_Set_RevokedIsSticky(t *testing.T) {
	s := filterset.NewSet(0)
	s.AppendFull(stubFilter{coverage: 1, status: filterset.StatusGood})
	s.AppendDelta(stubFilter{coverage: 1, status: filterset.StatusRevoked})

	require.Equal(t, filterset.StatusRevoked, s.Query(filterset.Key{}, nil))
}

func Test_Set_RevokedInFullBeatsGoodInDelta(t *testing.T) {
	s := filterset.NewSet(0)
	s.AppendFull(stubFilter{coverage: 1, status: filterset.StatusRevoked})
	s.AppendDelta(stubFilter{coverage: 1, status: filterset.StatusGood})

	require.Equal(t, filterset.StatusRevoked, s.Query(filterset.Key{}, nil))
}

func Test_Set_NotEnrolledBeatsNotCovered(t *testing.T) {
	s := filterset.NewSet(0)
	s.AppendFull(stubFilter{coverage: 1, status: filterset.StatusNotEnrolled})
	s.AppendDelta(stubFilter{coverage: 1, status: filterset.StatusNotCovered})

	require.Equal(t, filterset.StatusNotEnrolled, s.Query(filterset.Key{}, nil))
}

func Test_Set_OnlyNotCoveredYieldsNotCovered(t *testing.T) {
	s := filterset.NewSet(0)
	s.AppendFull(stubFilter{coverage: 1, status: filterset.StatusNotCovered})

	require.Equal(t, filterset.StatusNotCovered, s.Query(filterset.Key{}, nil))
}

func Test_Set_CoverageFloorExcludesFilter(t *testing.T) {
	s := filterset.NewSet(2)
	s.AppendFull(stubFilter{coverage: 1, status: filterset.StatusRevoked})

	require.Equal(t, filterset.StatusNotCovered, s.Query(filterset.Key{}, nil))
}
