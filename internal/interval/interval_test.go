package interval

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking/internal/apperror"
)

func at(h, m int) time.Time {
	return time.Date(2025, 3, 3, h, m, 0, 0, time.UTC)
}

func TestOverlapsIsHalfOpen(t *testing.T) {
	a := Interval{Start: at(9, 0), End: at(9, 50)}

	assert.False(t, a.Overlaps(Interval{Start: at(9, 50), End: at(10, 40)}), "touching end")
	assert.False(t, a.Overlaps(Interval{Start: at(8, 10), End: at(9, 0)}), "touching start")
	assert.True(t, a.Overlaps(Interval{Start: at(9, 49), End: at(10, 0)}))
	assert.True(t, a.Overlaps(Interval{Start: at(9, 10), End: at(9, 20)}), "contained")
	assert.True(t, a.Overlaps(Interval{Start: at(8, 0), End: at(12, 0)}), "containing")
}

func TestNewRejectsEmptyOrInverted(t *testing.T) {
	_, err := New(at(10, 0), at(10, 0))
	assert.ErrorIs(t, err, apperror.ErrInvalidInterval)

	_, err = New(at(10, 0), at(9, 0))
	assert.ErrorIs(t, err, apperror.ErrInvalidInterval)

	iv, err := New(at(9, 0), at(9, 50))
	require.NoError(t, err)
	assert.Equal(t, 50*time.Minute, iv.Duration())
}

func TestPairwise(t *testing.T) {
	ivs := []Interval{
		{Start: at(9, 0), End: at(9, 50)},
		{Start: at(10, 0), End: at(10, 50)},
		{Start: at(10, 30), End: at(11, 20)},
	}
	i, j, ok := Pairwise(ivs)
	require.True(t, ok)
	assert.Equal(t, 1, i)
	assert.Equal(t, 2, j)

	_, _, ok = Pairwise(ivs[:2])
	assert.False(t, ok)
}

func TestPgStoreFindConflicts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	doctor := uuid.New()
	iv := Interval{Start: at(14, 0), End: at(14, 50)}
	now := at(8, 0)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(doctor, iv.Start, iv.End, now, uuid.Nil).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	found, err := NewPgStore(mock).FindConflicts(context.Background(), doctor, iv, now, uuid.Nil)
	require.NoError(t, err)
	assert.True(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreBlocking(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	doctor := uuid.New()
	window := Interval{Start: at(0, 0), End: at(23, 59)}
	now := at(8, 0)
	apptID, blockID := uuid.New(), uuid.New()

	mock.ExpectQuery("UNION ALL").
		WithArgs(doctor, window.Start, window.End, now).
		WillReturnRows(pgxmock.NewRows([]string{"id", "start_at", "end_at", "kind"}).
			AddRow(apptID, at(10, 0), at(10, 50), "confirmed").
			AddRow(blockID, at(13, 0), at(15, 0), "block"))

	got, err := NewPgStore(mock).Blocking(context.Background(), doctor, window, now)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, KindConfirmed, got[0].Kind)
	assert.Equal(t, apptID, got[0].SourceID)
	assert.Equal(t, KindBlock, got[1].Kind)
	assert.Equal(t, doctor, got[1].DoctorID)

	assert.True(t, AnyOverlap(got, Interval{Start: at(10, 40), End: at(11, 30)}))
	assert.False(t, AnyOverlap(got, Interval{Start: at(10, 50), End: at(11, 40)}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
