package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyDrainage(t *testing.T) {
	assert.Equal(t, DrainageClear, ClassifyDrainage(2, 0))
	assert.Equal(t, DrainagePartiallyBlocked, ClassifyDrainage(0, 3))
	assert.Equal(t, DrainageClogged, ClassifyDrainage(1, 1))
}

func TestDrainageLabelPrefersStoredStatus(t *testing.T) {
	r := Report{Yolo: Classification{DrainageCount: 1, ObstructionCount: 2}}
	assert.Equal(t, DrainageClogged, r.DrainageLabel())
	assert.True(t, r.IsDrainageFlagged())

	r.Yolo.Status = "clear"
	assert.False(t, r.IsDrainageFlagged())
}

func TestIssueType(t *testing.T) {
	assert.Equal(t, "Unclassified", (&Report{}).IssueType())
	assert.Equal(t, "Drainage", (&Report{Yolo: Classification{DrainageCount: 2, PotholeCount: 2}}).IssueType())
	assert.Equal(t, "Pothole", (&Report{Yolo: Classification{PotholeCount: 3, RoadSurfaceCount: 1}}).IssueType())
	assert.Equal(t, "Road Surface", (&Report{Yolo: Classification{PotholeCount: 1, RoadSurfaceCount: 4}}).IssueType())
}

func TestReportViewSerializesMissingProfileAsNull(t *testing.T) {
	v := JoinReport(Report{ID: "r1", UserID: "u1"}, nil)
	body, err := json.Marshal(v)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(body, &fields))
	for _, k := range []string{"name", "barangay", "phone", "email"} {
		val, ok := fields[k]
		assert.True(t, ok, k)
		assert.Nil(t, val, k)
	}

	v = JoinReport(Report{ID: "r1", UserID: "u1"}, &User{FirstName: "Lito", Barangay: "San Roque"})
	require.NotNil(t, v.SubmitterName)
	assert.Equal(t, "Lito", *v.SubmitterName)
	assert.Equal(t, "u1/r1", v.Key())
}

func TestUserHelpers(t *testing.T) {
	var nilUser *User
	assert.False(t, nilUser.IsAdmin())
	u := &User{Role: RoleAdmin}
	assert.True(t, u.IsAdmin())
	assert.Equal(t, StatusActive, u.EffectiveStatus())
	assert.False(t, ValidStatus("deleted"))
	assert.True(t, UserPatch{}.Empty())
}
