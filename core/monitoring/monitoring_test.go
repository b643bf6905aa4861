package monitoring

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	errs []error
	tags []map[string]string
}

func (r *recorder) CaptureException(err error, tags map[string]string) {
	r.errs = append(r.errs, err)
	r.tags = append(r.tags, tags)
}
func (r *recorder) Flush(time.Duration) {}

func TestCaptureForwardsToInstalledMonitor(t *testing.T) {
	r := &recorder{}
	Init(r)
	t.Cleanup(func() { Init(nil) })

	CaptureException(nil, nil)
	CaptureException(errors.New("dead letter"), map[string]string{"queue": "lead.responses"})
	assert.Len(t, r.errs, 1)
	assert.Equal(t, "lead.responses", r.tags[0]["queue"])
}

func TestRecoverReportsAndRepanics(t *testing.T) {
	r := &recorder{}
	Init(r)
	t.Cleanup(func() { Init(nil) })

	assert.PanicsWithValue(t, "boom", func() {
		defer Recover()
		panic("boom")
	})
	assert.Len(t, r.errs, 1)
	assert.Equal(t, "panic: boom", r.errs[0].Error())
}
