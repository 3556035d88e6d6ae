package mapping

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgsync "github.com/stacklok/recordsync/internal/sync"
	"github.com/stacklok/recordsync/internal/syncerr"
)

func testRules() Rules {
	return Rules{
		Fields: map[string]string{
			"name":  "product.name",
			"price": "pricing.amount",
			"stock": "inventory.count",
		},
		Required: []string{"name"},
		Golden:   []string{"name"},
	}
}

func record(key, tenant, payload string) pkgsync.Record {
	return pkgsync.Record{Key: key, Tenant: tenant, Payload: json.RawMessage(payload)}
}

func TestNew_RejectsInvalidRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		rules Rules
	}{
		{name: "no fields", rules: Rules{}},
		{name: "empty path", rules: Rules{Fields: map[string]string{"name": " "}}},
		{name: "unknown required", rules: Rules{Fields: map[string]string{"name": "n"}, Required: []string{"sku"}}},
		{name: "unknown golden", rules: Rules{Fields: map[string]string{"name": "n"}, Golden: []string{"sku"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.rules)
			assert.Error(t, err)
		})
	}
}

func TestProject(t *testing.T) {
	t.Parallel()

	m, err := New(testRules())
	require.NoError(t, err)

	e, err := m.Project(record("P-1", "acme",
		`{"product":{"name":"Widget"},"pricing":{"amount":9.5},"inventory":{"count":null}}`))
	require.NoError(t, err)

	assert.Equal(t, "P-1", e.Key)
	assert.Equal(t, "acme", e.Tenant)
	assert.False(t, e.Golden)
	assert.Equal(t, map[string]string{"name": "Widget", "price": "9.5"}, e.Attributes)
	assert.Equal(t, Hash(e.Attributes), e.Hash)
}

func TestProject_ValidationFailures(t *testing.T) {
	t.Parallel()

	m, err := New(testRules())
	require.NoError(t, err)

	_, err = m.Project(record("P-1", "acme", `{"pricing":{"amount":1}}`))
	assert.True(t, syncerr.Is(err, syncerr.KindValidation), "missing required field")

	_, err = m.Project(record("P-1", "acme", `{not json`))
	assert.True(t, syncerr.Is(err, syncerr.KindValidation), "malformed payload")

	_, err = m.Golden(record("", "acme", `{"product":{"name":"Widget"}}`))
	assert.True(t, syncerr.Is(err, syncerr.KindValidation), "missing natural key")
}

func TestGolden_KeepsOnlyGoldenFields(t *testing.T) {
	t.Parallel()

	m, err := New(testRules())
	require.NoError(t, err)

	e, err := m.Golden(record("P-1", "acme", `{"product":{"name":"Widget"},"pricing":{"amount":3}}`))
	require.NoError(t, err)
	assert.Empty(t, e.Tenant)
	assert.True(t, e.Golden)
	assert.Equal(t, pkgsync.GoldenKey("P-1"), e.EntityKey())
	assert.Equal(t, map[string]string{"name": "Widget"}, e.Attributes)
}

func TestEqual(t *testing.T) {
	t.Parallel()

	m, err := New(testRules())
	require.NoError(t, err)

	a := &pkgsync.Entity{Attributes: map[string]string{"name": "x", "price": "1"}}
	b := &pkgsync.Entity{Attributes: map[string]string{"price": "1", "name": "x"}, Hash: Hash(a.Attributes)}
	c := &pkgsync.Entity{Attributes: map[string]string{"name": "x", "price": "2"}}

	assert.True(t, m.Equal(a, b))
	assert.False(t, m.Equal(a, c))
	assert.False(t, m.Equal(a, nil))
}

func TestHash_DistinguishesBoundaries(t *testing.T) {
	t.Parallel()

	assert.NotEqual(t,
		Hash(map[string]string{"a": "b=c"}),
		Hash(map[string]string{"a=b": "c"}))
	assert.Equal(t, Hash(map[string]string{}), Hash(nil))
}
