package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inaiurai/metagen/internal/models"
	"github.com/inaiurai/metagen/internal/profiles"
)

func catalog(t *testing.T) *profiles.Catalog {
	t.Helper()
	c, err := profiles.Load("")
	require.NoError(t, err)
	return c
}

func profile(t *testing.T, c *profiles.Catalog, id int) *profiles.Profile {
	t.Helper()
	p, err := c.Get(id)
	require.NoError(t, err)
	return p
}

func TestNormalize_AdobeStock(t *testing.T) {
	c := catalog(t)
	n := New(nil)
	job := models.FileJob{ID: "f1", Filename: "red_bike.jpg", Title: "red bike"}

	raw := "Sure! Here is the metadata:\n```json\n" +
		`{"Title":"Red bicycle leaning on a wall","Keywords":"bike, red , ,street","Category":20,"Extra":"drop me"}` +
		"\n```\nLet me know if you need more."
	md, err := n.Normalize(raw, job, profile(t, c, 1))
	require.NoError(t, err)

	assert.Equal(t, "red_bike.jpg", md["Filename"])
	assert.Equal(t, "Red bicycle leaning on a wall", md["Title"])
	assert.Equal(t, []any{"bike", "red", "street"}, md["Keywords"])
	assert.Equal(t, float64(20), md["Category"])
	assert.Equal(t, "", md["Releases"])
	assert.NotContains(t, md, "Extra")
}

func TestNormalize_DefaultCategory(t *testing.T) {
	c := catalog(t)
	n := New(nil)

	for _, raw := range []string{
		`{"Title":"Sunset","Keywords":["sun","sky"]}`,
		`{"Title":"Sunset","Keywords":["sun","sky"],"Category":null}`,
	} {
		md, err := n.Normalize(raw, models.FileJob{Filename: "a.jpg"}, profile(t, c, 1))
		require.NoError(t, err)
		assert.Equal(t, 8, md["Category"], raw)
	}
}

func TestNormalize_ZeroCategoryIsKept(t *testing.T) {
	c := catalog(t)
	n := New(nil)

	md, err := n.Normalize(`{"Title":"Sunset","Keywords":["sun"],"Category":0}`,
		models.FileJob{Filename: "a.jpg"}, profile(t, c, 1))
	require.NoError(t, err)
	assert.Equal(t, float64(0), md["Category"])
}

func TestNormalize_Freepik(t *testing.T) {
	c := catalog(t)
	md, err := New(nil).Normalize(`{"Title":"Cozy cabin","Keywords":["cabin"]}`, models.FileJob{Filename: "cabin.png"}, profile(t, c, 3))
	require.NoError(t, err)

	assert.Equal(t, "cabin.png", md["File name"])
	assert.Equal(t, "Cozy cabin", md["Prompt"])
	assert.Equal(t, "Midjourney 5", md["Model"])
}

func TestNormalize_FreepikWithoutTitleLeavesPromptBlank(t *testing.T) {
	c := catalog(t)
	md, err := New(nil).Normalize(`{"Keywords":["cabin"]}`, models.FileJob{Filename: "cabin.png"}, profile(t, c, 3))
	require.NoError(t, err)

	assert.Equal(t, "", md["Prompt"])
	assert.Equal(t, "", md["Title"])
}

func TestNormalize_VecteezyFilename(t *testing.T) {
	c := catalog(t)
	md, err := New(nil).Normalize(`{"Title":"t","Description":"d","Keywords":"a,b"}`,
		models.FileJob{Filename: "old_file (2).jpg"}, profile(t, c, 4))
	require.NoError(t, err)
	assert.Equal(t, "oldfile__2_.jpg", md["Filename"])
}

func TestNormalize_DreamstimeCategories(t *testing.T) {
	c := catalog(t)
	md, err := New(nil).Normalize(`{"Image Name":"Harbor","Description":"Boats","Keywords":["boat"],"Category1":5}`,
		models.FileJob{Filename: "harbor.jpg"}, profile(t, c, 6))
	require.NoError(t, err)

	assert.Equal(t, "Harbor", md["Image Name"])
	assert.Equal(t, 0, md["Category1"])
	assert.Equal(t, 0, md["Category2"])
	assert.Equal(t, 0, md["Category3"])
	assert.Equal(t, "", md["Free"])
}

func TestNormalize_LowercaseKeywordField(t *testing.T) {
	c := catalog(t)
	md, err := New(nil).Normalize(`{"description":"A cat","keywords":"cat, pet"}`,
		models.FileJob{Filename: "cat.jpg"}, profile(t, c, 5))
	require.NoError(t, err)
	assert.Equal(t, []any{"cat", "pet"}, md["keywords"])
	assert.Equal(t, "cat.jpg", md["oldfilename"])
}

func TestNormalize_BracesInsideStrings(t *testing.T) {
	c := catalog(t)
	raw := `prefix {"Title":"curly } brace \" and {more}","Keywords":["x"]} {"Title":"second"}`
	md, err := New(nil).Normalize(raw, models.FileJob{Filename: "x.jpg"}, profile(t, c, 1))
	require.NoError(t, err)
	assert.Equal(t, `curly } brace " and {more}`, md["Title"])
}

func TestNormalize_Errors(t *testing.T) {
	c := catalog(t)
	n := New(nil)
	cases := []struct {
		name string
		raw  string
		want Kind
	}{
		{"prose only", "I'm sorry, I can't describe this image.", NotJSON},
		{"empty", "", NotJSON},
		{"unbalanced", `{"Title":"never closed"`, NotJSON},
		{"unquoted keys", `{Title: oops}`, InvalidJSON},
		{"trailing comma", `{"Title":"x",}`, InvalidJSON},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			md, err := n.Normalize(tc.raw, models.FileJob{Filename: "a.jpg"}, profile(t, c, 1))
			require.Error(t, err)
			assert.Nil(t, md)

			var ne *Error
			require.ErrorAs(t, err, &ne)
			assert.Equal(t, tc.want, ne.Kind)
		})
	}
}

func TestNormalize_SchemaViolation(t *testing.T) {
	c := catalog(t)
	schemas, err := NewSchemaSet(c)
	require.NoError(t, err)
	n := New(schemas)

	_, err = n.Normalize(`{"Keywords":["a"]}`, models.FileJob{Filename: "a.jpg"}, profile(t, c, 1))
	var ne *Error
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, SchemaViolation, ne.Kind)

	md, err := n.Normalize(`{"Title":"Fine","Keywords":"a, b"}`, models.FileJob{Filename: "a.jpg"}, profile(t, c, 1))
	require.NoError(t, err)
	assert.Equal(t, "Fine", md["Title"])

	// No schema declared for Shutterstock.
	_, err = n.Normalize(`{}`, models.FileJob{Filename: "a.jpg"}, profile(t, c, 2))
	assert.NoError(t, err)
}

func TestNewSchemaSet_RejectsBadSchema(t *testing.T) {
	c, err := profiles.Parse([]byte(`
profiles:
  - id: 1
    title: Broken
    csv_requirements: {structure: [F], generate: [T]}
    schema: '{"type": 12}'
`))
	require.NoError(t, err)
	_, err = NewSchemaSet(c)
	assert.Error(t, err)
}
