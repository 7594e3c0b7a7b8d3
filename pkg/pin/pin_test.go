package pin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_ConfigWinsOverToken(t *testing.T) {
	tests := []struct {
		name      string
		pin       Pin
		attr      string
		token     any
		wantToken bool
		check     func(t *testing.T, p *Pin)
	}{
		{
			name:  "configured path kept",
			pin:   Pin{AccessPath: "/cfg"},
			attr:  AttrAccessPath,
			token: "/tok",
			check: func(t *testing.T, p *Pin) { assert.Equal(t, "/cfg", p.AccessPath) },
		},
		{
			name:      "absent path taken from token",
			pin:       Pin{},
			attr:      AttrAccessPath,
			token:     "/tok",
			wantToken: true,
			check:     func(t *testing.T, p *Pin) { assert.Equal(t, "/tok", p.AccessPath) },
		},
		{
			name:      "empty access type taken from token",
			pin:       Pin{AccessType: ""},
			attr:      AttrAccessType,
			token:     "ftp",
			wantToken: true,
			check:     func(t *testing.T, p *Pin) { assert.Equal(t, "ftp", p.AccessType) },
		},
		{
			name:      "credential keys snake cased",
			pin:       Pin{},
			attr:      AttrAccessCredential,
			token:     map[string]any{"Host": "h", "Port": 21.0},
			wantToken: true,
			check: func(t *testing.T, p *Pin) {
				assert.Equal(t, map[string]any{"host": "h", "port": 21.0}, p.AccessCredential)
			},
		},
		{
			name:  "missing token value leaves pin untouched",
			pin:   Pin{},
			attr:  AttrAccessCredential,
			token: nil,
			check: func(t *testing.T, p *Pin) { assert.Nil(t, p.AccessCredential) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.pin.Clone()
			fromToken, err := p.Merge(tt.attr, tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.wantToken, fromToken)
			tt.check(t, p)
		})
	}
}

func TestMerge_RejectsRequiredAttribute(t *testing.T) {
	p := &Pin{Name: "Input"}
	_, err := p.Merge(AttrName, "Other")
	assert.ErrorIs(t, err, ErrInvalidAttribute)
}

func TestClone_IsDeep(t *testing.T) {
	orig := &Pin{
		Name:             "Input",
		AccessPath:       map[string]any{"resource_path": "/in"},
		AccessCredential: map[string]any{"host": "a"},
	}
	c := orig.Clone()
	c.AccessCredential["host"] = "b"
	c.AccessPath.(map[string]any)["resource_path"] = "/other"

	assert.Equal(t, "a", orig.AccessCredential["host"])
	path, ok := orig.ResourcePath()
	assert.True(t, ok)
	assert.Equal(t, "/in", path)
}

func TestResourcePath(t *testing.T) {
	_, ok := (&Pin{}).ResourcePath()
	assert.False(t, ok)

	path, ok := (&Pin{AccessPath: "/x"}).ResourcePath()
	assert.True(t, ok)
	assert.Equal(t, "/x", path)
}
