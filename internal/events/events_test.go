package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	subjects []string
	bodies   [][]byte
	err      error
	drained  bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, data)
	return nil
}

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

func TestPublishWrapsPayload(t *testing.T) {
	fc := &fakeConn{}
	now := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	p := &NATSPublisher{nc: fc, now: func() time.Time { return now }}

	require.NoError(t, p.Publish(context.Background(), SubjectReportStatus, ReportStatusChanged{ReportID: "r1", UserID: "u1", Status: "Withdrawn"}))
	require.Len(t, fc.bodies, 1)
	assert.Equal(t, SubjectReportStatus, fc.subjects[0])

	var env Envelope
	require.NoError(t, json.Unmarshal(fc.bodies[0], &env))
	assert.Equal(t, SubjectReportStatus, env.Subject)
	assert.NotEmpty(t, env.ID)
	assert.True(t, now.Equal(env.OccurredAt))

	var got ReportStatusChanged
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "r1", got.ReportID)
	assert.Equal(t, "Withdrawn", got.Status)

	p.Close()
	assert.True(t, fc.drained)
}

func TestEmitSwallowsFailures(t *testing.T) {
	fc := &fakeConn{err: errors.New("no responders")}
	p := &NATSPublisher{nc: fc, now: time.Now}
	assert.Error(t, p.Publish(context.Background(), SubjectAdminLogin, AdminLoggedIn{AdminID: "a"}))

	Emit(context.Background(), p, SubjectAdminLogin, AdminLoggedIn{AdminID: "a"})
	Emit(context.Background(), nil, SubjectAdminLogin, nil)
	Emit(context.Background(), Nop{}, SubjectAdminLogin, nil)
}
