package records

import (
	"context"

	"github.com/pkg/errors"
)

// Cursor walks the sample_data records of one channel by following their next links.
// It fetches each record lazily and stops at the first record without a next link.
//
//	cur := records.NewCursor(store, token)
//	for cur.Next(ctx) {
//		sd := cur.Record()
//	}
//	if err := cur.Err(); err != nil {
//		...
//	}
type Cursor struct {
	store Store
	next  Link
	rec   SampleData
	err   error
}

// NewCursor returns a cursor positioned before the record with the given token.
func NewCursor(store Store, first string) *Cursor {
	return &Cursor{store: store, next: NewLink(first)}
}

// NewSceneCursor returns a cursor over channel starting at the first sample of the scene.
func NewSceneCursor(ctx context.Context, store Store, sceneToken, channel string) (*Cursor, Scene, error) {
	scene, err := GetScene(ctx, store, sceneToken)
	if err != nil {
		return nil, Scene{}, err
	}
	first, err := GetSample(ctx, store, scene.FirstSampleToken)
	if err != nil {
		return nil, Scene{}, err
	}
	token, ok := first.Data[channel]
	if !ok {
		return nil, Scene{}, errors.Errorf("sample %q has no %v data", first.Token, channel)
	}
	return NewCursor(store, token), scene, nil
}

// Next advances to the following record. It returns false once the chain ends or a fetch
// fails; Err distinguishes the two.
func (c *Cursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	token, ok := c.next.Token()
	if !ok {
		return false
	}
	rec, err := GetSampleData(ctx, c.store, token)
	if err != nil {
		c.err = errors.Wrap(err, "error following sample_data link")
		return false
	}
	c.rec = rec
	c.next = rec.Next
	return true
}

// Record returns the record the cursor is positioned on.
func (c *Cursor) Record() SampleData {
	return c.rec
}

// Err returns the error that stopped the cursor, if any.
func (c *Cursor) Err() error {
	return c.err
}
