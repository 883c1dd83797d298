package state

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_LoadingIsORofInflight(t *testing.T) {
	tr := &Tracker{}
	assert.False(t, tr.Loading())

	doneUpload := tr.Begin()
	donePipeline := tr.Begin()
	assert.True(t, tr.Loading())

	// loading stays true until every in-flight submission settles
	doneUpload(nil)
	assert.True(t, tr.Loading())

	donePipeline(nil)
	assert.False(t, tr.Loading())
}

func TestTracker_MostRecentErrorWins(t *testing.T) {
	tr := &Tracker{}
	errUpload := errors.New("Upload failed: Bad Gateway")
	errStart := errors.New("Pipeline start failed: Pipeline not found")

	tr.Begin()(errUpload)
	assert.Equal(t, errUpload, tr.Err())

	tr.Begin()(errStart)
	assert.Equal(t, errStart, tr.Err())
}

func TestTracker_SuccessClearsError(t *testing.T) {
	tr := &Tracker{}
	tr.Begin()(errors.New("Upload failed: Bad Gateway"))
	assert.Error(t, tr.Err())

	tr.Begin()(nil)
	assert.NoError(t, tr.Err())
}

func TestTracker_ResetClearsError(t *testing.T) {
	tr := &Tracker{}
	tr.Begin()(errors.New("boom"))

	tr.Reset()
	assert.NoError(t, tr.Err())
}

func TestTracker_DoneIsIdempotent(t *testing.T) {
	tr := &Tracker{}
	done := tr.Begin()
	done(nil)
	done(nil)

	assert.False(t, tr.Loading())

	// a second Begin must see a clean ledger, not a negative count
	done2 := tr.Begin()
	assert.True(t, tr.Loading())
	done2(nil)
	assert.False(t, tr.Loading())
}
