package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseComposition(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Composition
		wantErr bool
	}{
		{name: "two tags", raw: `["MAIN_VIDEO","PHOTO_ZIP"]`, want: Composition{DeliverableMainVideo, DeliverablePhotoZip}},
		{name: "order kept with repeats", raw: `["REELS","MAIN_VIDEO","REELS"]`, want: Composition{DeliverableReels, DeliverableMainVideo, DeliverableReels}},
		{name: "absent", raw: ``, want: Composition{}},
		{name: "null", raw: `null`, want: Composition{}},
		{name: "object", raw: `{"MAIN_VIDEO":true}`, want: Composition{}},
		{name: "string", raw: `"MAIN_VIDEO"`, want: Composition{}},
		{name: "empty array", raw: ` [] `, want: Composition{}},
		{name: "unknown tag", raw: `["MAIN_VIDEO","DRONE_SHOTS"]`, wantErr: true},
		{name: "non string element", raw: `["MAIN_VIDEO",3]`, wantErr: true},
		{name: "unterminated array", raw: `["MAIN_VIDEO"`, wantErr: true},
		{name: "trailing garbage", raw: `["MAIN_VIDEO"]x`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseComposition([]byte(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompositionJSONMarshal(t *testing.T) {
	pkg := Package{Name: "Basic", Composition: NewCompositionJSON(DeliverableMainVideo)}
	data, err := json.Marshal(pkg)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"composition":["MAIN_VIDEO"]`)

	pkg.Composition = CompositionJSON{}
	data, err = json.Marshal(pkg)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"composition":[]`)
}

func TestCompositionJSONScan(t *testing.T) {
	var c CompositionJSON
	require.NoError(t, c.Scan([]byte(`["PHOTO_ZIP"]`)))
	assert.Equal(t, `["PHOTO_ZIP"]`, string(c.Raw))

	require.NoError(t, c.Scan(nil))
	assert.Nil(t, c.Raw)

	assert.Error(t, c.Scan(42))
}

func TestStages(t *testing.T) {
	stage, err := ParseStage("EDITING")
	require.NoError(t, err)
	assert.Equal(t, 2, stage.Index())

	_, err = ParseStage("editing")
	assert.Error(t, err)
	assert.Equal(t, -1, Stage("ARCHIVED").Index())
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleAdmin, ParseRole("admin"))
	assert.Equal(t, RoleStaff, ParseRole("staff"))
	assert.Equal(t, RoleCustomer, ParseRole("authenticated"))
	assert.Equal(t, RoleCustomer, ParseRole(""))
}
