package table

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"testing"

	"chefq/internal/chef"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticLoader struct {
	rl  chef.RunList
	err error
}

func (s staticLoader) Load(context.Context) (chef.RunList, error) {
	return s.rl, s.err
}

var sampleRunList = chef.RunList{
	Roles:   []chef.RunListItem{{Name: "foo", SeqNo: 0}, {Name: "oof", SeqNo: 3}},
	Recipes: []chef.RunListItem{{Name: "bar", SeqNo: 1}, {Name: "Foo::Bar", SeqNo: 2}, {Name: "Rab::Oof", SeqNo: 4}},
}

func TestChefRunList_Schema(t *testing.T) {
	tbl := NewChefRunList(staticLoader{})
	assert.Equal(t, "chef_run_list", tbl.Name())
	assert.Equal(t, []Column{{"seq_no", Integer}, {"role", Text}}, tbl.Columns())
}

func TestChefRunList_RolesThenRecipes(t *testing.T) {
	rows, err := NewChefRunList(staticLoader{rl: sampleRunList}).Generate(context.Background())
	require.NoError(t, err)

	want := []Row{
		{"seq_no": "0", "role": "foo"},
		{"seq_no": "3", "role": "oof"},
		{"seq_no": "1", "role": "bar"},
		{"seq_no": "2", "role": "Foo::Bar"},
		{"seq_no": "4", "role": "Rab::Oof"},
	}
	assert.Equal(t, want, rows)
}

func TestChefRunList_EmptyRunList(t *testing.T) {
	rows, err := NewChefRunList(staticLoader{}).Generate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestChefRunList_LoaderError(t *testing.T) {
	_, err := NewChefRunList(staticLoader{err: context.Canceled}).Generate(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewChefRunList(staticLoader{})))
	assert.Error(t, reg.Register(NewChefRunList(staticLoader{})))

	got, err := reg.Get(ChefRunListName)
	require.NoError(t, err)
	assert.Equal(t, ChefRunListName, got.Name())

	_, err = reg.Get("processes")
	assert.True(t, errors.Is(err, ErrUnknownTable))
	assert.Equal(t, []string{"chef_run_list"}, reg.Names())
}

func TestRender_JSONTypesIntegers(t *testing.T) {
	tbl := NewChefRunList(staticLoader{})
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, tbl.Columns(), RunListRows(sampleRunList), RenderOptions{Format: "json"}))

	var got []struct {
		SeqNo int    `json:"seq_no"`
		Role  string `json:"role"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 5)
	assert.Equal(t, 3, got[1].SeqNo)
	assert.Equal(t, "oof", got[1].Role)
}

func TestRender_JSONEmptyIsArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, nil, nil, RenderOptions{Format: "json"}))
	assert.JSONEq(t, "[]", buf.String())
}

func TestRender_CSV(t *testing.T) {
	tbl := NewChefRunList(staticLoader{})
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, tbl.Columns(), RunListRows(sampleRunList), RenderOptions{Format: "csv"}))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 6)
	assert.Equal(t, []string{"seq_no", "role"}, records[0])
	assert.Equal(t, []string{"2", "Foo::Bar"}, records[4])
}

func TestRender_Table(t *testing.T) {
	tbl := NewChefRunList(staticLoader{})
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, tbl.Columns(), RunListRows(sampleRunList), RenderOptions{}))

	out := buf.String()
	for _, want := range []string{"seq_no", "role", "Foo::Bar", "Rab::Oof"} {
		assert.Contains(t, out, want)
	}
}

func TestRender_Markdown(t *testing.T) {
	cols := []Column{{"seq_no", Integer}, {"role", Text}}
	rows := []Row{{"seq_no": "0", "role": "a|b"}}

	assert.Equal(t, "| seq_no | role |\n| ---: | --- |\n| 0 | a\\|b |\n", Markdown(cols, rows))

	var raw bytes.Buffer
	require.NoError(t, Render(&raw, cols, rows, RenderOptions{Format: "markdown", Raw: true}))
	assert.Equal(t, Markdown(cols, rows), raw.String())

	var styled bytes.Buffer
	require.NoError(t, Render(&styled, cols, RunListRows(sampleRunList), RenderOptions{Format: "markdown"}))
	assert.Contains(t, styled.String(), "Rab::Oof")
}

func TestRender_UnknownFormat(t *testing.T) {
	err := Render(&bytes.Buffer{}, nil, nil, RenderOptions{Format: "xml"})
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
